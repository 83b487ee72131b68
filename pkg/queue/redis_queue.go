// Package queue carries analysis jobs from the docs service to the analyzer
// over a Redis stream with a consumer group.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mnajarc/sistemaInm-sub001/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// AnalysisRequest asks for one uploaded file to be analyzed.
type AnalysisRequest struct {
	SubmissionID string
	FileKey      string
	ContentType  string
}

// Job is the tracked state of one analysis request.
type Job struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submissionId"`
	FileKey      string    `json:"fileKey"`
	ContentType  string    `json:"contentType,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes one job; a returned error schedules a retry.
type Handler func(context.Context, Job) error

type RedisJobQueue struct {
	client       *redis.Client
	ownsClient   bool
	logger       *slog.Logger
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	groupMu      sync.Mutex
	groupReady   bool
}

type RedisQueueConfig struct {
	// Client is used when set; otherwise one is created from Addr.
	Client     *redis.Client
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
	Logger     *slog.Logger
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	client := cfg.Client
	owns := false
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("redis addr required")
		}
		client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
		owns = true
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "analyzer"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	q := &RedisJobQueue{
		client:       client,
		ownsClient:   owns,
		logger:       logger.With(slog.String("component", "analysis_queue"), slog.String("stream", stream)),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       durationOr(cfg.JobTTL, 24*time.Hour),
		maxRetries:   intOr(cfg.MaxRetries, 3),
		block:        durationOr(cfg.Block, 5*time.Second),
		claimIdle:    durationOr(cfg.ClaimIdle, 30*time.Second),
		retryDelay:   durationOr(cfg.RetryDelay, 2*time.Second),
		maxLen:       int64(intOr(int(cfg.MaxLen), 10000)),
		readCount:    int64(intOr(int(cfg.ReadCount), 10)),
		claimCount:   int64(intOr(int(cfg.ClaimCount), 10)),
	}
	return q, nil
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Close releases the Redis client when the queue created it.
func (q *RedisJobQueue) Close() error {
	if q.ownsClient {
		return q.client.Close()
	}
	return nil
}

// Enqueue records a queued job and appends it to the stream.
func (q *RedisJobQueue) Enqueue(ctx context.Context, req AnalysisRequest) (Job, error) {
	req.SubmissionID = strings.TrimSpace(req.SubmissionID)
	req.FileKey = strings.TrimSpace(req.FileKey)
	if req.SubmissionID == "" || req.FileKey == "" {
		return Job{}, errors.New("submissionId and fileKey required")
	}
	now := time.Now().UTC()
	job := Job{
		ID:           util.NewID(),
		SubmissionID: req.SubmissionID,
		FileKey:      req.FileKey,
		ContentType:  req.ContentType,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: streamValues(job),
	}).Err(); err != nil {
		return Job{}, fmt.Errorf("xadd: %w", err)
	}
	return job, nil
}

func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(data) == 0 {
		return Job{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

// Run consumes jobs with concurrency consumers until ctx is canceled.
func (q *RedisJobQueue) Run(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
	wg.Wait()
	return nil
}

// ensureGroup creates the consumer group at the start of the stream so jobs
// enqueued before the first consumer started are still delivered.
func (q *RedisJobQueue) ensureGroup(ctx context.Context) error {
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady {
		return nil
	}
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	q.groupReady = true
	return nil
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := q.claimPending(ctx, consumer)
		if err != nil && ctx.Err() == nil {
			q.logger.Warn("claim pending failed", "consumer", consumer, "err", err)
		}
		for _, msg := range msgs {
			q.handleMessage(ctx, msg, handler)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				q.logger.Warn("read group failed", "consumer", consumer, "err", err)
				sleepCtx(ctx, q.retryDelay)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	job, ok := jobFromValues(msg.Values)
	if !ok {
		q.logger.Warn("dropping malformed message", "msg_id", msg.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markProcessing(ctx, job)
	if err != nil {
		q.logger.Error("mark processing failed", "job_id", job.ID, "err", err)
		return
	}
	logger := q.logger.With("job_id", job.ID, "submission_id", job.SubmissionID, "attempt", job.Attempts)
	herr := handler(ctx, job)
	if herr == nil {
		_ = q.markStatus(ctx, job.ID, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		logger.Error("analysis job failed permanently", "err", herr)
		_ = q.markStatus(ctx, job.ID, StatusFailed, herr.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	logger.Warn("analysis job failed, retrying", "err", herr)
	_ = q.markStatus(ctx, job.ID, StatusQueued, herr.Error())
	if !sleepCtx(ctx, q.retryDelay) {
		return
	}
	if err := q.requeueAndAck(ctx, msg.ID, job); err != nil {
		logger.Error("requeue failed", "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-adds the job and acknowledges the old message atomically,
// so a failure leaves the original message pending for XAUTOCLAIM.
func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID string, job Job) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: streamValues(job),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, fromMsg Job) (Job, error) {
	job, found, err := q.GetJob(ctx, fromMsg.ID)
	if err != nil {
		return fromMsg, err
	}
	if !found {
		job = fromMsg
	}
	job.SubmissionID = fromMsg.SubmissionID
	job.FileKey = fromMsg.FileKey
	if fromMsg.ContentType != "" {
		job.ContentType = fromMsg.ContentType
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

func (q *RedisJobQueue) markStatus(ctx context.Context, jobID, status, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.ID = jobID
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job Job) error {
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"submissionId": job.SubmissionID,
		"fileKey":      job.FileKey,
		"contentType":  job.ContentType,
		"status":       job.Status,
		"error":        job.ErrorMessage,
		"attempts":     strconv.Itoa(job.Attempts),
		"createdAt":    job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":    job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func streamValues(job Job) map[string]any {
	return map[string]any{
		"job_id":        job.ID,
		"submission_id": job.SubmissionID,
		"file_key":      job.FileKey,
		"content_type":  job.ContentType,
	}
}

func jobFromValues(values map[string]any) (Job, bool) {
	job := Job{}
	job.ID, _ = values["job_id"].(string)
	job.SubmissionID, _ = values["submission_id"].(string)
	job.FileKey, _ = values["file_key"].(string)
	job.ContentType, _ = values["content_type"].(string)
	return job, job.ID != "" && job.SubmissionID != "" && job.FileKey != ""
}

func decodeJob(jobID string, data map[string]string) Job {
	job := Job{
		ID:           jobID,
		SubmissionID: data["submissionId"],
		FileKey:      data["fileKey"],
		ContentType:  data["contentType"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if n, err := strconv.Atoi(data["attempts"]); err == nil {
		job.Attempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		job.UpdatedAt = t
	}
	return job
}

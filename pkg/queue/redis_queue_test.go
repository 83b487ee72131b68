package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *RedisJobQueue {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:analysis",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
		Block:      20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, job := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, job); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got, ok := jobFromValues(streams[0].Messages[0].Values)
	if !ok || got.ID != job.ID || got.SubmissionID != "sub-1" || got.FileKey != "key-1" {
		t.Fatalf("unexpected requeued payload: %+v", streams[0].Messages[0].Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, job := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, job); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisJobQueueEnqueueValidates(t *testing.T) {
	q := newTestQueue(t)
	if _, err := q.Enqueue(context.Background(), AnalysisRequest{SubmissionID: "sub-1"}); err == nil {
		t.Fatalf("expected missing file key to fail")
	}
}

func TestRedisJobQueueRunRetriesThenSucceeds(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	job, err := q.Enqueue(ctx, AnalysisRequest{SubmissionID: "sub-1", FileKey: "key-1", ContentType: "application/pdf"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx, 1, func(_ context.Context, j Job) error {
			if j.SubmissionID != "sub-1" || j.ContentType != "application/pdf" {
				t.Errorf("unexpected job: %+v", j)
			}
			if calls.Add(1) == 1 {
				return errors.New("transient")
			}
			cancel()
			return nil
		})
		close(done)
	}()
	<-done

	if calls.Load() != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls.Load())
	}
	got, found, err := q.GetJob(context.Background(), job.ID)
	if err != nil || !found {
		t.Fatalf("get job: %v found=%v", err, found)
	}
	if got.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", got.Attempts)
	}
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, Job) {
	t.Helper()
	q := newTestQueue(t)
	ctx := context.Background()
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	job, err := q.Enqueue(ctx, AnalysisRequest{SubmissionID: "sub-1", FileKey: "key-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return q, ctx, streams[0].Messages[0].ID, job
}

func TestRedisJobQueueRunDeliversJobsEnqueuedBeforeStart(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// No consumer group exists yet: the stream is created by the enqueue.
	first, err := q.Enqueue(ctx, AnalysisRequest{SubmissionID: "sub-1", FileKey: "key-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := q.Enqueue(ctx, AnalysisRequest{SubmissionID: "sub-2", FileKey: "key-2"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	seen := make(chan string, 2)
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx, 1, func(_ context.Context, j Job) error {
			seen <- j.ID
			return nil
		})
		close(done)
	}()
	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case id := <-seen:
			got[id] = true
		case <-ctx.Done():
			t.Fatalf("handled %v, want %s and %s", got, first.ID, second.ID)
		}
	}
	cancel()
	<-done
	if !got[first.ID] || !got[second.ID] {
		t.Fatalf("handled %v, want %s and %s", got, first.ID, second.ID)
	}
}

func TestRedisJobQueueEnsureGroupIsRepeatable(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	other, err := NewRedisJobQueue(RedisQueueConfig{Client: q.client, Stream: q.stream, Group: q.group})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	if err := other.ensureGroup(ctx); err != nil {
		t.Fatalf("existing group should be reused: %v", err)
	}
}

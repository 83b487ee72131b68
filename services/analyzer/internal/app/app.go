// Package app scores uploaded submission files and reports the result back
// to the docs service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mnajarc/sistemaInm-sub001/internal/util"
	"github.com/mnajarc/sistemaInm-sub001/pkg/queue"
	"github.com/mnajarc/sistemaInm-sub001/pkg/storage"
	"github.com/mnajarc/sistemaInm-sub001/pkg/workflow"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_jobs_total",
			Help: "Analysis jobs handled, by outcome.",
		},
		[]string{"outcome"},
	)
	legibilityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analyzer_legibility_score",
			Help:    "Distribution of reported legibility scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
	jobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analyzer_job_duration_seconds",
			Help:    "Time spent on one analysis job.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// ResultSink receives analysis outcomes.
type ResultSink interface {
	RecordAnalysis(ctx context.Context, submissionID string, res workflow.AnalysisResult) error
}

// Config holds runtime configuration.
type Config struct {
	Files        storage.ObjectStore
	Sink         ResultSink
	Scorer       Scorer
	MaxFileBytes int64
	Logger       *slog.Logger
}

// App processes analysis jobs.
type App struct {
	files        storage.ObjectStore
	sink         ResultSink
	scorer       Scorer
	maxFileBytes int64
	logger       *slog.Logger
}

// New constructs the analyzer.
func New(cfg Config) (*App, error) {
	if cfg.Files == nil {
		return nil, errors.New("object storage is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("result sink is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		files:        cfg.Files,
		sink:         cfg.Sink,
		scorer:       cfg.Scorer,
		maxFileBytes: cfg.MaxFileBytes,
		logger:       logger.With("component", "analyzer"),
	}, nil
}

// NewDocsSink returns a sink posting results to the docs service at baseURL.
func NewDocsSink(baseURL string, signer TokenSigner) ResultSink {
	return newDocsClient(baseURL, signer)
}

// Handle analyzes one job. It returns an error only when a retry could help.
func (a *App) Handle(ctx context.Context, job queue.Job) error {
	start := time.Now()
	defer func() { jobDuration.Observe(time.Since(start).Seconds()) }()
	logger := util.LoggerOr(ctx, a.logger).With("job_id", job.ID, "submission_id", job.SubmissionID)

	data, err := a.fetch(ctx, job.FileKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		// The file was replaced or removed after the job was queued.
		jobsTotal.WithLabelValues("stale").Inc()
		logger.Info("analysis skipped, file no longer stored")
		return nil
	}
	if err != nil {
		jobsTotal.WithLabelValues("fetch_error").Inc()
		return err
	}

	res := a.analyze(job, data, logger)
	if err := a.sink.RecordAnalysis(ctx, job.SubmissionID, res); err != nil {
		if errors.Is(err, ErrStaleResult) {
			jobsTotal.WithLabelValues("stale").Inc()
			logger.Info("analysis result discarded", "reason", err.Error())
			return nil
		}
		jobsTotal.WithLabelValues("report_error").Inc()
		return fmt.Errorf("report analysis: %w", err)
	}
	jobsTotal.WithLabelValues("done").Inc()
	legibilityScore.Observe(res.LegibilityScore)
	logger.Info("analysis reported", "score", res.LegibilityScore, "auto_validated", res.AutoValidated)
	return nil
}

func (a *App) analyze(job queue.Job, data []byte, logger *slog.Logger) workflow.AnalysisResult {
	var report Report
	var err error
	if a.maxFileBytes > 0 && int64(len(data)) > a.maxFileBytes {
		err = fmt.Errorf("file exceeds %d bytes", a.maxFileBytes)
	} else {
		report, err = a.scorer.Score(job.ContentType, data)
	}
	meta := map[string]any{
		"method":       report.Method,
		"pages":        report.Pages,
		"legiblePages": report.LegiblePages,
		"sizeBytes":    len(data),
	}
	if err != nil {
		// An unparsable file is reported as illegible rather than retried.
		logger.Warn("analysis failed", "err", err)
		meta["error"] = err.Error()
		report.Score = 0
	}
	return workflow.AnalysisResult{
		FileKey:         job.FileKey,
		LegibilityScore: report.Score,
		OCRText:         report.Text,
		AutoValidated:   err == nil && a.scorer.AutoValidated(report),
		Meta:            meta,
	}
}

func (a *App) fetch(ctx context.Context, key string) ([]byte, error) {
	rc, err := a.files.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var r io.Reader = rc
	if a.maxFileBytes > 0 {
		r = io.LimitReader(rc, a.maxFileBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

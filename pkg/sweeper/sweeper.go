// Package sweeper demotes approved submissions whose expiry date has passed.
//
// Candidates are selected without locks; each one is then expired through
// the workflow, which re-checks the approved status under a row lock. A row
// another sweeper already handled comes back as workflow.ErrInvalidState and
// is counted as skipped.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
	"github.com/mnajarc/sistemaInm-sub001/pkg/workflow"
)

const (
	DefaultInterval    = time.Hour
	DefaultConcurrency = 4
)

var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docs_sweeper_runs_total",
		Help: "Completed sweeper runs.",
	})
	rowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docs_sweeper_rows_total",
		Help: "Rows handled by the sweeper, by outcome.",
	}, []string{"outcome"})
	durationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docs_sweeper_duration_seconds",
		Help:    "Duration of one sweeper run.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// Source lists approved submissions due to expire on or before today.
type Source interface {
	ListExpirable(ctx context.Context, today time.Time) ([]string, error)
}

// Expirer applies the expiry transition.
type Expirer interface {
	MarkExpired(ctx context.Context, actor domain.Actor, id, note string) (domain.Submission, error)
}

// Result summarizes one run.
type Result struct {
	Scanned  int           `json:"scanned"`
	Expired  int           `json:"expired"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

type Options struct {
	Interval    time.Duration
	Concurrency int
}

type Sweeper struct {
	source      Source
	expirer     Expirer
	interval    time.Duration
	concurrency int
	now         func() time.Time
	logger      *slog.Logger

	mu sync.Mutex // serializes RunOnce

	lifeMu sync.Mutex // guards cancel and done
	cancel context.CancelFunc
	done   chan struct{}
}

func New(source Source, expirer Expirer, opts Options, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Sweeper{
		source:      source,
		expirer:     expirer,
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With(slog.String("component", "sweeper")),
	}
}

// Start runs the sweeper immediately and then on every tick until Stop or
// until ctx ends. Starting a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("sweeper started", slog.String("interval", s.interval.String()))
}

// Stop cancels the loop and waits for an in-flight run to finish. The
// sweeper may be started again afterwards.
func (s *Sweeper) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx, s.now()); err != nil && ctx.Err() == nil {
		s.logger.Error("sweeper run failed", slog.String("error", err.Error()))
	}
}

// RunOnce expires every approved submission with an expiry date on or before
// today. Row failures are counted and do not stop the batch; only a failed
// candidate query is returned as an error.
func (s *Sweeper) RunOnce(ctx context.Context, today time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	ids, err := s.source.ListExpirable(ctx, today)
	if err != nil {
		return Result{}, err
	}

	var expired, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			_, err := s.expirer.MarkExpired(gctx, domain.SystemActor, id, "")
			switch {
			case err == nil:
				expired.Add(1)
				rowsTotal.WithLabelValues("expired").Inc()
			case errors.Is(err, workflow.ErrInvalidState):
				skipped.Add(1)
				rowsTotal.WithLabelValues("skipped").Inc()
				s.logger.Debug("submission no longer approved", slog.String("submission_id", id))
			default:
				failed.Add(1)
				rowsTotal.WithLabelValues("failed").Inc()
				s.logger.Warn("expire submission failed",
					slog.String("submission_id", id),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Scanned:  len(ids),
		Expired:  int(expired.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
		Duration: time.Since(start),
	}
	runsTotal.Inc()
	durationSeconds.Observe(res.Duration.Seconds())
	if res.Scanned > 0 {
		s.logger.Info("sweeper run finished",
			slog.Int("scanned", res.Scanned),
			slog.Int("expired", res.Expired),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// Package events publishes committed submission transitions to a broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

const (
	DriverRedis = "redis"
	DriverNATS  = "nats"
	DriverAMQP  = "amqp"
	DriverLog   = "log"
)

// Publisher delivers events. Implementations are safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
	Close() error
}

// Config selects and configures a publisher.
type Config struct {
	Driver   string
	Stream   string
	MaxLen   int64
	NATSURL  string
	Subject  string
	AMQPURL  string
	Exchange string
}

// New builds the publisher named by cfg.Driver. redisClient is only used by
// the redis driver.
func New(cfg Config, redisClient *redis.Client, logger *slog.Logger) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverRedis:
		if redisClient == nil {
			return nil, errors.New("events: redis driver requires a redis client")
		}
		return NewRedisPublisher(redisClient, cfg.Stream, cfg.MaxLen), nil
	case DriverNATS:
		return NewNATSPublisher(cfg.NATSURL, cfg.Subject)
	case DriverAMQP:
		return NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
	case DriverLog, "":
		return NewLogPublisher(logger), nil
	default:
		return nil, fmt.Errorf("events: unknown driver %q", cfg.Driver)
	}
}

func encode(evt domain.Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger.With(slog.String("component", "events"))}
}

func (p *LogPublisher) Publish(ctx context.Context, evt domain.Event) error {
	p.logger.InfoContext(ctx, "submission_event",
		"event_id", evt.ID,
		"action", evt.Action,
		"submission_id", evt.SubmissionID,
		"transaction_id", evt.TransactionID,
		"old_status", evt.OldStatus,
		"new_status", evt.NewStatus,
		"actor_id", evt.ActorID,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher records events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	// Err, when set, is returned from every Publish after recording.
	Err error
}

func (p *MemoryPublisher) Publish(_ context.Context, evt domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.Err
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

func (p *MemoryPublisher) Close() error { return nil }

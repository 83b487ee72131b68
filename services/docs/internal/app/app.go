// Package app wires the docs service components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mnajarc/sistemaInm-sub001/internal/actortoken"
	"github.com/mnajarc/sistemaInm-sub001/internal/ratelimit"
	"github.com/mnajarc/sistemaInm-sub001/internal/servicetoken"
	"github.com/mnajarc/sistemaInm-sub001/pkg/catalog"
	"github.com/mnajarc/sistemaInm-sub001/pkg/events"
	"github.com/mnajarc/sistemaInm-sub001/pkg/queue"
	"github.com/mnajarc/sistemaInm-sub001/pkg/storage"
	"github.com/mnajarc/sistemaInm-sub001/pkg/store"
	"github.com/mnajarc/sistemaInm-sub001/pkg/sweeper"
	"github.com/mnajarc/sistemaInm-sub001/pkg/workflow"
	"github.com/mnajarc/sistemaInm-sub001/services/docs/internal/config"
)

// Audience is the audience internal service tokens must carry for this service.
const Audience = "docs"

type pinger interface {
	Ping(ctx context.Context) error
}

// App holds the wired components of the docs service.
type App struct {
	Engine   *workflow.Engine
	Sweeper  *sweeper.Sweeper
	Catalog  *catalog.Catalog
	Actors   *actortoken.Resolver
	Services *servicetoken.Verifier
	// Limiter is nil when rate limiting is disabled.
	Limiter *ratelimit.FixedWindowLimiter

	checks  map[string]pinger
	closers []func() error
	logger  *slog.Logger
}

// Deps lets callers inject prebuilt infrastructure. Zero fields are built
// from the config.
type Deps struct {
	Store     store.Store
	Files     storage.ObjectStore
	Redis     *redis.Client
	Publisher events.Publisher
}

// New builds the application from cfg.
func New(ctx context.Context, cfg config.FileConfig, deps Deps, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{checks: map[string]pinger{}, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	a.Catalog = cat

	st, err := a.openStore(cfg, deps.Store)
	if err != nil {
		return nil, err
	}
	files, err := a.openFiles(ctx, cfg, deps.Files)
	if err != nil {
		return nil, err
	}
	rdb := deps.Redis
	if rdb == nil && cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, rdb.Close)
	}
	if rdb != nil {
		a.checks["redis"] = redisPinger{rdb}
	}

	publisher := deps.Publisher
	if publisher == nil {
		publisher, err = events.New(events.Config{
			Driver:   cfg.Events.Driver,
			Stream:   cfg.Events.Stream,
			MaxLen:   cfg.Events.MaxLen,
			NATSURL:  cfg.Events.NATSURL,
			Subject:  cfg.Events.Subject,
			AMQPURL:  cfg.Events.AMQPURL,
			Exchange: cfg.Events.Exchange,
		}, rdb, logger)
		if err != nil {
			return nil, fmt.Errorf("init events: %w", err)
		}
		a.closers = append(a.closers, publisher.Close)
	}

	opts := []workflow.Option{
		workflow.WithPublisher(publisher),
		workflow.WithAutoApprove(cfg.Analysis.AutoApprove),
		workflow.WithUploadLimits(cfg.MaxUploadBytes, cfg.AllowedContentTypes),
		workflow.WithLogger(logger),
	}
	if cfg.Analysis.Enabled {
		if rdb == nil {
			return nil, errors.New("analysis queue requires redis")
		}
		q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{Client: rdb, Stream: cfg.QueueStream, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("init analysis queue: %w", err)
		}
		opts = append(opts, workflow.WithAnalysisQueue(q))
	}
	a.Engine = workflow.New(st, files, cat, opts...)

	interval, err := config.ParseDuration(cfg.Sweeper.Interval)
	if err != nil {
		return nil, err
	}
	a.Sweeper = sweeper.New(st, a.Engine, sweeper.Options{Interval: interval, Concurrency: cfg.Sweeper.Concurrency}, logger)

	if err := a.initAuth(cfg); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Limit > 0 {
		if rdb == nil {
			return nil, errors.New("rate limiting requires redis")
		}
		a.Limiter, err = ratelimit.NewFixedWindowLimiter(rdb, "docs:ratelimit", cfg.RateLimit.Limit, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
	}
	ok = true
	return a, nil
}

func (a *App) openStore(cfg config.FileConfig, st store.Store) (store.Store, error) {
	if st != nil {
		return st, nil
	}
	if cfg.StoreDriver == config.StoreDriverMemory {
		a.logger.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	gs, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init postgres store: %w", err)
	}
	a.closers = append(a.closers, gs.Close)
	a.checks["postgres"] = gs
	return gs, nil
}

func (a *App) openFiles(ctx context.Context, cfg config.FileConfig, files storage.ObjectStore) (storage.ObjectStore, error) {
	if files != nil {
		return files, nil
	}
	if cfg.MinioEndpoint == "" {
		a.logger.Warn("no object storage configured; files are kept in memory")
		return storage.NewMemoryObjectStore(), nil
	}
	ms, err := storage.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	return ms, nil
}

func (a *App) initAuth(cfg config.FileConfig) error {
	actorKeys, err := servicetoken.LoadPublicKeySet(keyIDOr(cfg.ActorJWTKeyID), cfg.ActorJWTPublicKeyPath, "")
	if err != nil {
		return fmt.Errorf("load actor jwt key: %w", err)
	}
	a.Actors, err = actortoken.NewResolver(actorKeys, cfg.ActorJWTIssuer, cfg.ActorJWTAudience)
	if err != nil {
		return err
	}
	internalKeys, err := servicetoken.LoadPublicKeySet(keyIDOr(cfg.InternalJWTKeyID), cfg.InternalJWTPublicKeyPath, cfg.InternalJWTVerifyPublicKeys)
	if err != nil {
		return fmt.Errorf("load internal jwt keys: %w", err)
	}
	leeway, err := config.ParseDuration(cfg.JWTLeeway)
	if err != nil {
		return err
	}
	a.Services, err = servicetoken.NewVerifier(servicetoken.VerifierOptions{
		Keys:           internalKeys,
		Audience:       Audience,
		AllowedIssuers: cfg.InternalJWTAllowedIssuers,
		Leeway:         leeway,
	})
	return err
}

func keyIDOr(kid string) string {
	if kid = strings.TrimSpace(kid); kid != "" {
		return kid
	}
	return servicetoken.DefaultKeyID
}

// Ready pings every external dependency.
func (a *App) Ready(ctx context.Context) map[string]string {
	out := make(map[string]string, len(a.checks))
	for name, check := range a.checks {
		if err := check.Ping(ctx); err != nil {
			out[name] = err.Error()
			continue
		}
		out[name] = "ok"
	}
	return out
}

// Close releases connections in reverse construction order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

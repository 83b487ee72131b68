package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mnajarc/sistemaInm-sub001/internal/servicetoken"
	"github.com/mnajarc/sistemaInm-sub001/internal/util"
	"github.com/mnajarc/sistemaInm-sub001/pkg/queue"
	"github.com/mnajarc/sistemaInm-sub001/pkg/storage"
	"github.com/mnajarc/sistemaInm-sub001/services/analyzer/internal/app"
	"github.com/mnajarc/sistemaInm-sub001/services/analyzer/internal/config"
	"github.com/mnajarc/sistemaInm-sub001/services/analyzer/internal/server"
)

func main() {
	path := config.ConfigPath
	if env := os.Getenv("ANALYZER_CONFIG_PATH"); env != "" {
		path = env
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Client:     rdb,
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("failed to init queue: %v", err)
	}

	files, err := storage.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}
	signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{
		PrivateKeyPath: cfg.InternalJWTPrivateKeyPath,
		KeyID:          cfg.InternalJWTKeyID,
		Issuer:         cfg.InternalJWTIssuer,
	})
	if err != nil {
		log.Fatalf("failed to init internal jwt signer: %v", err)
	}

	analyzer, err := app.New(app.Config{
		Files: files,
		Sink:  app.NewDocsSink(cfg.DocsServiceURL, signer),
		Scorer: app.Scorer{
			MinPageRunes:  cfg.MinPageRunes,
			MinLegibility: cfg.MinLegibility,
			KeepText:      cfg.KeepText,
		},
		MaxFileBytes: cfg.MaxFileBytes,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("failed to init analyzer: %v", err)
	}

	httpServer := server.New(server.Config{
		Jobs:  jobs,
		Ready: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("analyzer consuming", "stream", cfg.QueueStream, "concurrency", cfg.QueueConcurrency)
		return jobs.Run(gctx, cfg.QueueConcurrency, analyzer.Handle)
	})
	g.Go(func() error {
		logger.Info("analyzer server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("analyzer stopped", "err", err)
	}
}

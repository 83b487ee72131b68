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

	"golang.org/x/sync/errgroup"

	"github.com/mnajarc/sistemaInm-sub001/internal/util"
	"github.com/mnajarc/sistemaInm-sub001/services/docs/internal/app"
	"github.com/mnajarc/sistemaInm-sub001/services/docs/internal/config"
	"github.com/mnajarc/sistemaInm-sub001/services/docs/internal/server"
)

func main() {
	path := config.ConfigPath
	if env := os.Getenv("DOCS_CONFIG_PATH"); env != "" {
		path = env
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCore, err := app.New(ctx, cfg, app.Deps{}, logger)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer func() {
		if err := appCore.Close(); err != nil {
			logger.Error("close app", "err", err)
		}
	}()

	httpServer, err := server.New(server.Config{
		Engine:             appCore.Engine,
		Sweeper:            appCore.Sweeper,
		Actors:             appCore.Actors,
		Services:           appCore.Services,
		Limiter:            limiterOrNil(appCore),
		Ready:              appCore.Ready,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		AnalyzerService:    cfg.AnalyzerIssuer,
		TransactionService: cfg.TransactionsIssuer,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	if cfg.Sweeper.Enabled {
		appCore.Sweeper.Start(ctx)
		defer appCore.Sweeper.Stop()
	}

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
		logger.Info("docs server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down docs server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

// limiterOrNil keeps a nil *FixedWindowLimiter from becoming a non-nil interface.
func limiterOrNil(a *app.App) server.Limiter {
	if a.Limiter == nil {
		return nil
	}
	return a.Limiter
}

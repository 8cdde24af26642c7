// Command asyncjobd hosts the job status API and the timeout reaper.
//
// Workers embed package engine with their own handlers and point it at the
// same store and broker; asyncjobd owns no handlers. Settings come from
// ASYNCJOB_* environment variables, see package config.
//
// Usage:
//
//	ASYNCJOB_STORE_DRIVER=postgres \
//	ASYNCJOB_STORE_DSN=postgres://localhost:5432/asyncjob \
//	ASYNCJOB_BROKER_DRIVER=redis \
//	ASYNCJOB_BROKER_URL=redis://localhost:6379/0 \
//	go run ./cmd/asyncjobd
//
//	curl http://localhost:8080/v1/jobs/job_01jbm.../status
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/asyncjob/api"
	audithook "github.com/xraph/asyncjob/audit_hook"
	"github.com/xraph/asyncjob/broker"
	memorybroker "github.com/xraph/asyncjob/broker/memory"
	redisbroker "github.com/xraph/asyncjob/broker/redis"
	"github.com/xraph/asyncjob/config"
	"github.com/xraph/asyncjob/engine"
	"github.com/xraph/asyncjob/reaper"
	"github.com/xraph/asyncjob/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("asyncjobd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// ──────────────────────────────────────────────────
	// 1. Backends
	// ──────────────────────────────────────────────────

	st, err := store.Open(ctx, cfg.Store(logger))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	if cfg.Migrate {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
	}

	b, closeBroker, err := openBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeBroker() }()

	// ──────────────────────────────────────────────────
	// 2. Engine
	// ──────────────────────────────────────────────────

	codec, err := broker.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	opts := []engine.Option{
		engine.WithStore(st),
		engine.WithBroker(b),
		engine.WithCodec(codec),
		engine.WithConfig(cfg.Runtime()),
		engine.WithLogger(logger),
		engine.WithoutWorker(),
	}
	if cfg.AuditLog {
		opts = append(opts, engine.WithExtension(audithook.New(audithook.NewSlogRecorder(logger))))
	}
	if cfg.DisableReaper {
		opts = append(opts, engine.WithoutReaper())
	}
	if cfg.ReapSchedule != "" {
		sched, err := reaper.ParseSchedule(cfg.ReapSchedule)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithReaperSchedule(sched))
	}

	eng, err := engine.New(opts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	// ──────────────────────────────────────────────────
	// 3. Run the engine and the HTTP server until signalled
	// ──────────────────────────────────────────────────

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(eng, nil).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := eng.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return eng.Stop(stopCtx)
	})

	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openBroker(cfg config.Config, logger *slog.Logger) (broker.Broker, func() error, error) {
	switch strings.ToLower(cfg.BrokerDriver) {
	case config.BrokerRedis:
		opts, err := goredis.ParseURL(cfg.BrokerURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse broker url: %w", err)
		}
		codec, err := broker.CodecByName(cfg.Codec)
		if err != nil {
			return nil, nil, err
		}
		client := goredis.NewClient(opts)
		b := redisbroker.New(client,
			redisbroker.WithLogger(logger),
			redisbroker.WithCodec(codec),
			redisbroker.WithVisibilityTimeout(cfg.BrokerVisibility),
		)
		return b, func() error { return errors.Join(b.Close(), client.Close()) }, nil
	default:
		b := memorybroker.New()
		return b, b.Close, nil
	}
}

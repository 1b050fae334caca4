package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/api"
	audithook "github.com/xraph/delayed/audit_hook"
	"github.com/xraph/delayed/engine"
	"github.com/xraph/delayed/stream"
)

type serveFlags struct {
	backendFlags

	addr           string
	concurrency    int
	sweepSchedule  string
	sweepBatchSize int
	lockTTL        time.Duration
	shutdown       time.Duration
	migrate        bool
	audit          bool
}

func addBackendFlags(cmd *cobra.Command, f *backendFlags) {
	cmd.Flags().StringVar(&f.store, "store", getenv("DELAYED_STORE", "memory"), "memory, postgres, bun, sqlite, redis or mongo")
	cmd.Flags().StringVar(&f.dsn, "dsn", getenv("DELAYED_DSN", ""), "connection string for the store (file path for sqlite)")
	cmd.Flags().StringVar(&f.database, "database", getenv("DELAYED_MONGO_DATABASE", "delayed"), "mongo database name")
	cmd.Flags().StringVar(&f.bus, "bus", getenv("DELAYED_BUS", "local"), "signal bus: local, redis or pg")
	cmd.Flags().StringVar(&f.redisAddr, "redis-addr", getenv("DELAYED_REDIS_ADDR", "localhost:6379"), "redis address for the redis store and bus")
}

func newServeCmd(root *rootFlags) *cobra.Command {
	f := &serveFlags{}
	defaults := delayed.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, f, root.logger())
		},
	}

	addBackendFlags(cmd, &f.backendFlags)
	cmd.Flags().StringVar(&f.addr, "addr", getenv("DELAYED_ADDR", ":8080"), "HTTP listen address")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", defaults.Concurrency, "maximum concurrent attempts per dispatch path")
	cmd.Flags().StringVar(&f.sweepSchedule, "sweep", getenv("DELAYED_SWEEP_SCHEDULE", defaults.SweepSchedule), "cron expression for the eligibility sweep")
	cmd.Flags().IntVar(&f.sweepBatchSize, "sweep-batch", defaults.SweepBatchSize, "maximum jobs dispatched per sweep")
	cmd.Flags().DurationVar(&f.lockTTL, "lock-ttl", defaults.LockTTL, "reclaim locks older than this on each sweep (0 disables)")
	cmd.Flags().DurationVar(&f.shutdown, "shutdown-timeout", defaults.ShutdownTimeout, "how long to wait for in-flight jobs on shutdown")
	cmd.Flags().BoolVar(&f.migrate, "migrate", true, "run store migrations before starting")
	cmd.Flags().BoolVar(&f.audit, "audit", getenv("DELAYED_AUDIT", "") == "true", "log an audit record for every lifecycle event")
	return cmd
}

func serve(ctx context.Context, f *serveFlags, logger *slog.Logger) error {
	b, err := openBackend(ctx, &f.backendFlags, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			logger.Warn("backend close error", slog.String("error", closeErr.Error()))
		}
	}()

	if f.migrate {
		if err := b.store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	d, err := delayed.New(
		delayed.WithStore(b.store),
		delayed.WithLogger(logger),
		delayed.WithConcurrency(f.concurrency),
		delayed.WithSweepSchedule(f.sweepSchedule),
		delayed.WithSweepBatchSize(f.sweepBatchSize),
		delayed.WithLockTTL(f.lockTTL),
		delayed.WithShutdownTimeout(f.shutdown),
	)
	if err != nil {
		return err
	}

	broker := stream.NewBroker(logger)
	engOpts := []engine.Option{engine.WithExtension(broker)}
	if f.audit {
		recorder := audithook.NewSlogRecorder(logger.With(slog.String("component", "audit")))
		engOpts = append(engOpts, engine.WithExtension(audithook.New(recorder, audithook.WithLogger(logger))))
	}
	if b.bus != nil {
		engOpts = append(engOpts, engine.WithSignalBus(b.bus))
	}

	eng, err := engine.Build(d, b.store, demoRegistry(logger), engOpts...)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:              f.addr,
		Handler:           api.New(eng, api.WithBroker(broker), api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("delayed listening",
			slog.String("addr", f.addr),
			slog.String("store", f.store),
			slog.String("bus", f.bus),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server error", slog.String("error", err.Error()))
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.shutdown)
	defer cancel()

	// Drain HTTP first so no request reaches Create after the engine stops.
	// Shutdown does not wait for hijacked websocket conns; the engine's
	// shutdown hook ends those feeds through the broker.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	return eng.Stop(shutdownCtx)
}

package delayed

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the lifecycle subset of a store held by the Dispatcher.
// Backends also satisfy job.Store; the engine package consumes that.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is the worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher owns configuration and the lifecycle of the store, the pool
// and the extensions. engine.Build wires a Dispatcher into a runnable
// Engine; the Dispatcher itself never touches jobs.
type Dispatcher struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// SetPool sets the worker pool (called by the engine package).
func (d *Dispatcher) SetPool(p poolRunner) { d.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (d *Dispatcher) SetExtensions(e extensionEmitter) { d.extensions = e }

// Start begins the sweep and signal consumer loops.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.pool == nil {
		return ErrNoStore
	}
	if err := d.pool.Start(ctx); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Stop waits up to ShutdownTimeout for in-flight jobs, emits the shutdown
// hook and closes the store.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.pool != nil && d.started {
		stopCtx, cancel := context.WithTimeout(ctx, d.config.ShutdownTimeout)
		if err := d.pool.Stop(stopCtx); err != nil {
			d.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
		cancel()
		d.started = false
	}
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithConcurrency sets how many jobs may run concurrently.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithSweepSchedule sets the cron expression driving the sweep.
func WithSweepSchedule(expr string) Option {
	return func(d *Dispatcher) error {
		d.config.SweepSchedule = expr
		return nil
	}
}

// WithSweepBatchSize caps the number of jobs dispatched per sweep.
func WithSweepBatchSize(n int) Option {
	return func(d *Dispatcher) error {
		d.config.SweepBatchSize = n
		return nil
	}
}

// WithLockTTL enables reclaim of locks older than ttl.
func WithLockTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.LockTTL = ttl
		return nil
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight jobs.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.ShutdownTimeout = timeout
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the dispatcher.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}

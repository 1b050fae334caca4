package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/backoff"
	"github.com/xraph/delayed/event"
	"github.com/xraph/delayed/ext"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
	mw "github.com/xraph/delayed/middleware"
	"github.com/xraph/delayed/observability"
	"github.com/xraph/delayed/queue"
	"github.com/xraph/delayed/worker"
)

// instrumentationName scopes the engine's tracers and meters.
const instrumentationName = "github.com/xraph/delayed"

// publishTimeout bounds one asynchronous signal publish.
const publishTimeout = 5 * time.Second

// Engine wraps a Dispatcher with the job operations.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d          *delayed.Dispatcher
	store      job.Store
	registry   *job.Registry
	extensions *ext.Registry
	runner     *worker.Runner
	pool       *worker.Pool
	bus        event.Bus
	ownsBus    bool
	bo         backoff.Strategy
	mws        []mw.Middleware
	logger     *slog.Logger
	now        func() time.Time

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	poolOpts []worker.PoolOption

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// mu guards stopping and publishing.Add so no publish starts once
	// Stop is waiting on the group.
	mu         sync.Mutex
	stopping   bool
	publishing sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. User middleware
// runs inside the default recover, tracing, metrics and logging layers.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (quartic, capped at seven days) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithSignalBus sets the bus Create publishes to and the pool consumes.
// If not set, an in-process event.Local sized by Config.SignalBuffer is
// used and closed on Stop. A bus passed here is owned by the caller.
func WithSignalBus(b event.Bus) Option {
	return func(eng *Engine) {
		eng.bus = b
	}
}

// WithClock overrides time.Now for Create, Run and the sweep.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// WithPoolOptions passes extra options to the worker pool.
func WithPoolOptions(opts ...worker.PoolOption) Option {
	return func(eng *Engine) {
		eng.poolOpts = append(eng.poolOpts, opts...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the runner spans and the tracing middleware use this provider
// instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Dispatcher. The registry is
// fixed for the engine's lifetime; a nil registry has no handlers.
func Build(d *delayed.Dispatcher, store job.Store, registry *job.Registry, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, delayed.ErrNoStore
	}

	logger := d.Logger()
	config := d.Config()

	eng := &Engine{
		d:          d,
		store:      store,
		registry:   registry,
		extensions: ext.NewRegistry(logger),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Default backoff strategy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	if eng.bus == nil {
		eng.bus = event.NewLocal(config.SignalBuffer)
		eng.ownsBus = true
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	var runnerTracer []worker.RunnerOption
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer(instrumentationName)
		tracingMw = mw.TracingWithTracer(tracer)
		runnerTracer = append(runnerTracer, worker.WithTracer(tracer))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter(instrumentationName)
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter(instrumentationName + "/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	runnerOpts := append([]worker.RunnerOption{
		worker.WithBackoff(eng.bo),
		worker.WithMiddleware(allMws...),
		worker.WithExtensions(eng.extensions),
		worker.WithClock(eng.now),
	}, runnerTracer...)
	eng.runner = worker.NewRunner(store, registry, logger, runnerOpts...)

	poolOpts := []worker.PoolOption{
		worker.WithConcurrency(config.Concurrency),
		worker.WithSweepSchedule(config.SweepSchedule),
		worker.WithSweepBatchSize(config.SweepBatchSize),
		worker.WithLockTTL(config.LockTTL),
		worker.WithSignalBus(eng.bus),
		worker.WithPoolExtensions(eng.extensions),
		worker.WithPoolClock(eng.now),
	}

	// Create queue manager if queue configs were provided.
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueGate(eng.queueManager))
	}
	poolOpts = append(poolOpts, eng.poolOpts...)

	pool, err := worker.NewPool(eng.runner, store, logger, poolOpts...)
	if err != nil {
		return nil, err
	}
	eng.pool = pool

	// Wire back into the Dispatcher.
	d.SetPool(eng.pool)
	d.SetExtensions(eng.extensions)

	return eng, nil
}

// Create validates and persists a new pending job, then signals the
// dispatch path without waiting for it. A failed publish is logged and
// left to the sweep. Create returns delayed.ErrStopped once Stop has begun.
func (eng *Engine) Create(ctx context.Context, actorID string, q job.Queue, opts ...job.Option) (*job.Job, error) {
	if eng.isStopping() {
		return nil, delayed.ErrStopped
	}
	if actorID == "" {
		return nil, delayed.ErrInvalidActor
	}
	if !q.Valid() {
		return nil, fmt.Errorf("%w: %q", delayed.ErrInvalidQueue, q)
	}

	now := eng.now()
	j := job.New(actorID, q, job.ResolveRunAt(now, opts...), now)

	if err := eng.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	eng.logger.Debug("job created",
		slog.String("job_id", j.ID.String()),
		slog.String("actor_id", j.ActorID),
		slog.String("queue", j.Queue.String()),
		slog.Time("run_at", j.RunAt),
	)

	eng.extensions.EmitJobCreated(ctx, j)
	eng.signal(ctx, j)

	return j, nil
}

// signal publishes a run hint for j on a background goroutine. A job
// created while Stop is draining is persisted but not signalled; the
// next sweep picks it up.
func (eng *Engine) signal(ctx context.Context, j *job.Job) {
	s := event.Signal{JobID: j.ID, Queue: j.Queue, SentAt: eng.now()}

	eng.mu.Lock()
	if eng.stopping {
		eng.mu.Unlock()
		eng.logger.Debug("engine stopping, signal skipped", slog.String("job_id", s.JobID.String()))
		return
	}
	eng.publishing.Add(1)
	eng.mu.Unlock()

	go func() {
		defer eng.publishing.Done()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()

		if err := eng.bus.Publish(pubCtx, s); err != nil {
			eng.logger.Warn("signal publish failed, job left for the sweep",
				slog.String("job_id", s.JobID.String()),
				slog.String("queue", s.Queue.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Run performs one attempt of jobID. See worker.Runner.Run.
func (eng *Engine) Run(ctx context.Context, jobID id.JobID) (worker.Outcome, error) {
	return eng.runner.Run(ctx, jobID)
}

// Sweep runs eligible jobs once, outside the schedule, and returns how
// many attempts it started.
func (eng *Engine) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := eng.pool.Sweep(ctx)
	if err != nil {
		return n, err
	}
	eng.extensions.EmitSweepCompleted(ctx, n, time.Since(start))
	return n, nil
}

// Get returns a job by ID.
func (eng *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// List returns jobs matching opts ordered by creation time.
func (eng *Engine) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.store.ListJobs(ctx, opts)
}

// Count returns the number of jobs matching opts.
func (eng *Engine) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	return eng.store.CountJobs(ctx, opts)
}

// Start begins consuming signals and firing the sweep schedule.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.d.Start(ctx)
}

// Stop waits for pending signal publishes, stops the pool, emits the
// shutdown hook and closes the store. An engine-owned bus is closed last.
// Create is rejected from the moment Stop is called. Calling Stop again
// is a no-op.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if eng.stopping {
		eng.mu.Unlock()
		return nil
	}
	eng.stopping = true
	eng.mu.Unlock()

	eng.publishing.Wait()

	err := eng.d.Stop(ctx)

	if eng.ownsBus {
		if closeErr := eng.bus.Close(); closeErr != nil {
			eng.logger.Warn("signal bus close error", slog.String("error", closeErr.Error()))
		}
	}
	return err
}

func (eng *Engine) isStopping() bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.stopping
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *delayed.Dispatcher { return eng.d }

// Store returns the job store.
func (eng *Engine) Store() job.Store { return eng.store }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Bus returns the signal bus.
func (eng *Engine) Bus() event.Bus { return eng.bus }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

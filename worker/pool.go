package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xraph/delayed/cron"
	"github.com/xraph/delayed/event"
	"github.com/xraph/delayed/ext"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

// QueueGate throttles the start of attempts per queue. The pool calls
// Acquire before Runner.Run and Release after it returns. A refused
// attempt is skipped without touching the job.
type QueueGate interface {
	Acquire(q job.Queue) bool
	Release(q job.Queue)
}

// Pool hosts the two dispatch paths. Signals from the bus are consumed
// with at most Concurrency attempts in flight; the sweep lists eligible
// jobs on a cron schedule and fans them out with the same bound.
type Pool struct {
	runner     *Runner
	store      job.Store
	bus        event.Bus
	gate       QueueGate
	extensions *ext.Registry
	logger     *slog.Logger

	concurrency int
	schedule    string
	batchSize   int
	lockTTL     time.Duration
	now         func() time.Time
	schedOpts   []cron.SchedulerOption

	sem       *semaphore.Weighted
	scheduler *cron.Scheduler

	mu         sync.Mutex
	running    bool
	runCtx     context.Context
	runCancel  context.CancelFunc
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency bounds attempts in flight per dispatch path.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithSweepSchedule sets the cron expression that fires the sweep.
func WithSweepSchedule(expr string) PoolOption {
	return func(p *Pool) { p.schedule = expr }
}

// WithSweepBatchSize caps the jobs listed per sweep.
func WithSweepBatchSize(n int) PoolOption {
	return func(p *Pool) { p.batchSize = n }
}

// WithLockTTL enables stale lock reclaim at the start of every sweep.
func WithLockTTL(ttl time.Duration) PoolOption {
	return func(p *Pool) { p.lockTTL = ttl }
}

// WithSignalBus sets the bus the pool consumes. Without one only the
// sweep dispatches jobs.
func WithSignalBus(b event.Bus) PoolOption {
	return func(p *Pool) { p.bus = b }
}

// WithQueueGate sets per-queue throttling.
func WithQueueGate(g QueueGate) PoolOption {
	return func(p *Pool) { p.gate = g }
}

// WithPoolExtensions sets the registry notified when a scheduled sweep
// completes.
func WithPoolExtensions(e *ext.Registry) PoolOption {
	return func(p *Pool) { p.extensions = e }
}

// WithPoolClock overrides the clock used for eligibility and reclaim.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// WithSchedulerOptions passes options through to the sweep scheduler.
func WithSchedulerOptions(opts ...cron.SchedulerOption) PoolOption {
	return func(p *Pool) { p.schedOpts = append(p.schedOpts, opts...) }
}

// NewPool creates a Pool. It fails when the sweep schedule does not parse.
func NewPool(runner *Runner, store job.Store, logger *slog.Logger, opts ...PoolOption) (*Pool, error) {
	p := &Pool{
		runner:      runner,
		store:       store,
		logger:      logger,
		concurrency: 10,
		schedule:    "@every 30s",
		batchSize:   100,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	p.sem = semaphore.NewWeighted(int64(p.concurrency))

	var emitter cron.Emitter
	if p.extensions != nil {
		emitter = p.extensions
	}
	sched, err := cron.NewScheduler(p.schedule, p.scheduledSweep, emitter, logger, p.schedOpts...)
	if err != nil {
		return nil, err
	}
	p.scheduler = sched
	return p, nil
}

// Scheduler returns the sweep scheduler.
func (p *Pool) Scheduler() *cron.Scheduler { return p.scheduler }

// Start subscribes to the signal bus and starts the sweep scheduler. It
// returns immediately. Attempts started by the pool outlive ctx; use Stop
// to end them.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.runCtx, p.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	loopCtx, loopCancel := context.WithCancel(p.runCtx)
	p.loopCancel = loopCancel

	if p.bus != nil {
		signals, err := p.bus.Subscribe(loopCtx)
		if err != nil {
			loopCancel()
			p.runCancel()
			return err
		}
		p.wg.Add(1)
		go p.consume(loopCtx, signals)
	}

	if err := p.scheduler.Start(loopCtx); err != nil {
		loopCancel()
		p.runCancel()
		return err
	}

	p.running = true
	p.logger.Info("worker pool started",
		slog.Int("concurrency", p.concurrency),
		slog.String("sweep_schedule", p.schedule),
		slog.Bool("signals", p.bus != nil),
	)
	return nil
}

// Stop stops consuming signals and firing sweeps, then waits for attempts
// in flight. When ctx expires first, the attempts' contexts are cancelled;
// their outcomes are still persisted.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	p.loopCancel()

	if err := p.scheduler.Stop(ctx); err != nil {
		p.logger.Warn("sweep scheduler stop timed out, cancelling attempts")
		p.runCancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling attempts")
		p.runCancel()
		<-done
	}
	p.runCancel()
	return nil
}

// Sweep reclaims stale locks when a lock TTL is set, lists up to the batch
// size of eligible jobs ordered by RunAt, and runs them with bounded
// concurrency. It returns how many attempts it started.
func (p *Pool) Sweep(ctx context.Context) (int, error) {
	now := p.now()

	if p.lockTTL > 0 {
		reclaimed, err := p.store.ReclaimStaleLocks(ctx, now.Add(-p.lockTTL))
		if err != nil {
			p.logger.Error("reclaim stale locks error", slog.String("error", err.Error()))
		} else if reclaimed > 0 {
			p.logger.Warn("reclaimed stale job locks",
				slog.Int64("count", reclaimed),
				slog.Duration("lock_ttl", p.lockTTL),
			)
		}
	}

	jobs, err := p.store.ListEligibleJobs(ctx, now, p.batchSize)
	if err != nil {
		return 0, err
	}

	var dispatched atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			if p.dispatch(ctx, j.ID, j.Queue) {
				dispatched.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(dispatched.Load()), nil
}

// scheduledSweep is the scheduler's fire function. Attempts run on the
// pool's context so stopping the scheduler does not cancel them.
func (p *Pool) scheduledSweep(_ context.Context) (int, error) {
	p.mu.Lock()
	ctx := p.runCtx
	p.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return p.Sweep(ctx)
}

// consume runs one attempt per signal, holding a semaphore slot for each.
func (p *Pool) consume(ctx context.Context, signals <-chan event.Signal) {
	defer p.wg.Done()

	for s := range signals {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		p.wg.Add(1)
		go func(s event.Signal) {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.dispatch(p.runCtx, s.JobID, s.Queue)
		}(s)
	}
}

// dispatch runs jobID through the queue gate and the runner. It reports
// whether an attempt was started.
func (p *Pool) dispatch(ctx context.Context, jobID id.JobID, q job.Queue) bool {
	if p.gate != nil {
		if !p.gate.Acquire(q) {
			p.logger.Debug("queue throttled, leaving job for a later sweep",
				slog.String("job_id", jobID.String()),
				slog.String("queue", q.String()),
			)
			return false
		}
		defer p.gate.Release(q)
	}

	outcome, err := p.runner.Run(ctx, jobID)
	if err != nil {
		p.logger.Error("job run error",
			slog.String("job_id", jobID.String()),
			slog.String("queue", q.String()),
			slog.String("error", err.Error()),
		)
		return true
	}
	p.logger.Debug("job run",
		slog.String("job_id", jobID.String()),
		slog.String("outcome", string(outcome)),
	)
	return true
}

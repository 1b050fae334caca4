package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// FireFunc is called each time the schedule comes due. It returns the
// number of jobs it dispatched. The worker pool provides the
// implementation (a sweep).
type FireFunc func(ctx context.Context) (int, error)

// Emitter emits sweep lifecycle events.
// ext.Registry satisfies this interface via EmitSweepCompleted.
type Emitter interface {
	EmitSweepCompleted(ctx context.Context, dispatched int, elapsed time.Duration)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks whether the
// schedule is due.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler invokes a FireFunc on a cron schedule. Fires never overlap:
// a fire that runs past the next due time delays that one.
type Scheduler struct {
	schedule cronlib.Schedule
	fire     FireFunc
	emitter  Emitter
	logger   *slog.Logger

	tickInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	nextRun time.Time
	fires   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler for the given cron expression.
func NewScheduler(
	expr string,
	fire FireFunc,
	emitter Emitter,
	logger *slog.Logger,
	opts ...SchedulerOption,
) (*Scheduler, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		schedule:     sched,
		fire:         fire,
		emitter:      emitter,
		logger:       logger,
		tickInterval: 1 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the tick goroutine. The first fire happens when the
// schedule next comes due after Start.
func (s *Scheduler) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.mu.Lock()
	s.nextRun = s.schedule.Next(s.now())
	s.mu.Unlock()

	s.wg.Add(1)
	go s.tickLoop(ctx)
	s.logger.Info("sweep scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Time("next_run", s.NextRun()),
	)
	return nil
}

// Stop cancels any fire in progress and waits for the tick goroutine.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("sweep scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun returns when the schedule is next due.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Fires returns how many times the schedule has fired.
func (s *Scheduler) Fires() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fires
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
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

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	if now.Before(s.NextRun()) {
		return
	}

	start := time.Now()
	dispatched, err := s.fire(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.fires++
	s.nextRun = s.schedule.Next(s.now())
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("sweep error",
			slog.Int("dispatched", dispatched),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Debug("sweep fired",
			slog.Int("dispatched", dispatched),
			slog.Duration("elapsed", elapsed),
		)
	}

	if s.emitter != nil {
		s.emitter.EmitSweepCompleted(ctx, dispatched, elapsed)
	}
}

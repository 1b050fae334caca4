package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/delayed/cron"
	"github.com/xraph/delayed/event"
	"github.com/xraph/delayed/ext"
	"github.com/xraph/delayed/job"
	"github.com/xraph/delayed/queue"
	"github.com/xraph/delayed/worker"
)

func newTestPool(t *testing.T, f *fixture, opts ...worker.PoolOption) *worker.Pool {
	t.Helper()
	all := append([]worker.PoolOption{
		worker.WithConcurrency(4),
		worker.WithPoolClock(fixedClock),
	}, opts...)
	p, err := worker.NewPool(f.runner, f.store, discardLogger(), all...)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p
}

func stopPool(t *testing.T, p *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	f := newFixture(t, map[job.Queue]job.Handler{})
	p := newTestPool(t, f, worker.WithSignalBus(event.NewLocal(8)))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Double start is a no-op.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	stopPool(t, p)
	// Double stop is a no-op.
	stopPool(t, p)
}

func TestPool_InvalidSchedule(t *testing.T) {
	f := newFixture(t, map[job.Queue]job.Handler{})
	_, err := worker.NewPool(f.runner, f.store, discardLogger(), worker.WithSweepSchedule("not a schedule"))
	if err == nil {
		t.Fatal("expected an error for an invalid sweep schedule")
	}
}

func TestPool_SignalDispatch(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, map[job.Queue]job.Handler{
		job.QueueEmailConfirm: job.HandlerFunc(func(context.Context, string) error {
			calls.Add(1)
			return nil
		}),
	})
	bus := event.NewLocal(8)
	p := newTestPool(t, f, worker.WithSignalBus(bus))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopPool(t, p)

	j := f.create(t, job.QueueEmailConfirm, testNow)
	if err := bus.Publish(context.Background(), event.Signal{JobID: j.ID, Queue: j.Queue}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, "signalled job to complete", func() bool {
		return f.get(t, j).Complete
	})
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
}

func TestPool_Sweep(t *testing.T) {
	f := newFixture(t, map[job.Queue]job.Handler{
		job.QueueEmailConfirm: job.HandlerFunc(func(context.Context, string) error { return nil }),
	})
	p := newTestPool(t, f, worker.WithConcurrency(1), worker.WithSweepBatchSize(2))

	due := f.create(t, job.QueueEmailConfirm, testNow.Add(-time.Minute))
	dueLater := f.create(t, job.QueueEmailConfirm, testNow)
	future := f.create(t, job.QueueEmailConfirm, testNow.Add(time.Hour))
	dueExtra := f.create(t, job.QueueEmailConfirm, testNow.Add(-time.Second))

	dispatched, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if dispatched != 2 {
		t.Fatalf("dispatched = %d, want the batch size 2", dispatched)
	}
	if !f.get(t, due).Complete || !f.get(t, dueExtra).Complete {
		t.Error("the two earliest jobs should have run first")
	}
	if f.get(t, dueLater).Complete {
		t.Error("job beyond the batch should wait for the next sweep")
	}

	dispatched, err = p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if dispatched != 1 {
		t.Errorf("second sweep dispatched = %d, want 1", dispatched)
	}
	if f.get(t, future).Complete {
		t.Error("future job must not run")
	}
}

func TestPool_SweepRecoversDroppedSignal(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, map[job.Queue]job.Handler{
		job.QueueEmailShipped: job.HandlerFunc(func(context.Context, string) error {
			calls.Add(1)
			return nil
		}),
	})
	tracker := &trackingExt{}
	extensions := ext.NewRegistry(discardLogger())
	extensions.Register(tracker)

	p := newTestPool(t, f,
		worker.WithSweepSchedule("@every 1s"),
		worker.WithPoolExtensions(extensions),
		worker.WithSchedulerOptions(cron.WithTickInterval(10*time.Millisecond)),
	)

	// No bus at all: the job is only reachable through the sweep.
	j := f.create(t, job.QueueEmailShipped, testNow)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopPool(t, p)

	waitFor(t, "sweep to run the job", func() bool {
		return f.get(t, j).Complete
	})
	waitFor(t, "sweep completed hook", func() bool {
		return tracker.sweeps.Load() > 0
	})
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
}

func TestPool_QueueGateRefusalLeavesJobEligible(t *testing.T) {
	f := newFixture(t, map[job.Queue]job.Handler{
		job.QueueEmailConfirm: job.HandlerFunc(func(context.Context, string) error { return nil }),
	})
	gate := queue.NewManager(queue.Config{
		Queue:     job.QueueEmailConfirm,
		RateLimit: 0.001,
		RateBurst: 1,
	})
	p := newTestPool(t, f, worker.WithQueueGate(gate))

	first := f.create(t, job.QueueEmailConfirm, testNow.Add(-time.Second))
	second := f.create(t, job.QueueEmailConfirm, testNow)

	dispatched, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if dispatched != 1 {
		t.Fatalf("dispatched = %d, want 1 (burst of one token)", dispatched)
	}

	var done, pending int
	for _, j := range []*job.Job{first, second} {
		got := f.get(t, j)
		switch {
		case got.Complete:
			done++
		case got.Eligible(testNow) && got.Attempts == 0:
			pending++
		}
	}
	if done != 1 || pending != 1 {
		t.Errorf("done=%d pending=%d, want 1/1", done, pending)
	}
	if gate.ActiveCount(job.QueueEmailConfirm) != 0 {
		t.Errorf("gate slot leaked: active=%d", gate.ActiveCount(job.QueueEmailConfirm))
	}
}

func TestPool_ReclaimStaleLocks(t *testing.T) {
	f := newFixture(t, map[job.Queue]job.Handler{
		job.QueueEmailConfirm: job.HandlerFunc(func(context.Context, string) error { return nil }),
	})
	p := newTestPool(t, f, worker.WithLockTTL(time.Minute))

	j := f.create(t, job.QueueEmailConfirm, testNow.Add(-time.Hour))
	// Simulate a crashed holder that locked the job long ago.
	if _, ok, err := f.store.AcquireJob(context.Background(), j.ID, idForCrashedHolder(), testNow.Add(-time.Hour)); err != nil || !ok {
		t.Fatalf("AcquireJob: ok=%v err=%v", ok, err)
	}

	dispatched, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if dispatched != 1 {
		t.Fatalf("dispatched = %d, want 1", dispatched)
	}
	got := f.get(t, j)
	if !got.Complete || got.Attempts != 1 {
		t.Errorf("complete=%v attempts=%d, want true/1", got.Complete, got.Attempts)
	}
}

func TestPool_StrandedLockKeptWithoutTTL(t *testing.T) {
	f := newFixture(t, map[job.Queue]job.Handler{
		job.QueueEmailConfirm: job.HandlerFunc(func(context.Context, string) error { return nil }),
	})
	p := newTestPool(t, f)

	j := f.create(t, job.QueueEmailConfirm, testNow.Add(-time.Hour))
	if _, ok, err := f.store.AcquireJob(context.Background(), j.ID, idForCrashedHolder(), testNow.Add(-time.Hour)); err != nil || !ok {
		t.Fatalf("AcquireJob: ok=%v err=%v", ok, err)
	}

	dispatched, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if dispatched != 0 {
		t.Errorf("dispatched = %d, want 0", dispatched)
	}
	if got := f.get(t, j); !got.Locked {
		t.Error("lock should stay in place when no TTL is configured")
	}
}

func TestPool_StopWaitsForSignalledRun(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	f := newFixture(t, map[job.Queue]job.Handler{
		job.QueueEmailConfirm: job.HandlerFunc(func(context.Context, string) error {
			<-release
			finished.Store(true)
			return nil
		}),
	})
	bus := event.NewLocal(8)
	p := newTestPool(t, f, worker.WithSignalBus(bus))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	j := f.create(t, job.QueueEmailConfirm, testNow)
	if err := bus.Publish(context.Background(), event.Signal{JobID: j.ID, Queue: j.Queue}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, "job to be locked", func() bool { return f.get(t, j).Locked })

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	stopPool(t, p)

	if !finished.Load() {
		t.Error("Stop returned before the in-flight attempt finished")
	}
	if got := f.get(t, j); !got.Complete || got.Locked {
		t.Errorf("complete=%v locked=%v, want true/false", got.Complete, got.Locked)
	}
}

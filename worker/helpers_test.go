package worker_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/delayed/ext"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
	"github.com/xraph/delayed/store/memory"
	"github.com/xraph/delayed/worker"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// trackingExt counts lifecycle hooks.
type trackingExt struct {
	started   atomic.Int32
	completed atomic.Int32
	retrying  atomic.Int32
	failed    atomic.Int32
	unhandled atomic.Int32
	sweeps    atomic.Int32

	mu      sync.Mutex
	lastErr error
}

func (e *trackingExt) Name() string { return "tracking" }

func (e *trackingExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.started.Add(1)
	return nil
}

func (e *trackingExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.completed.Add(1)
	return nil
}

func (e *trackingExt) OnJobRetrying(_ context.Context, _ *job.Job, err error) error {
	e.retrying.Add(1)
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	return nil
}

func (e *trackingExt) OnJobFailed(_ context.Context, _ *job.Job, err error) error {
	e.failed.Add(1)
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	return nil
}

func (e *trackingExt) OnJobUnhandled(_ context.Context, _ *job.Job) error {
	e.unhandled.Add(1)
	return nil
}

func (e *trackingExt) OnSweepCompleted(_ context.Context, _ int, _ time.Duration) error {
	e.sweeps.Add(1)
	return nil
}

type fixture struct {
	store   *memory.Store
	tracker *trackingExt
	runner  *worker.Runner
}

func newFixture(t *testing.T, handlers map[job.Queue]job.Handler, opts ...worker.RunnerOption) *fixture {
	t.Helper()

	logger := discardLogger()
	reg, err := job.NewRegistry(handlers)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	tracker := &trackingExt{}
	extensions := ext.NewRegistry(logger)
	extensions.Register(tracker)

	s := memory.New()
	all := append([]worker.RunnerOption{
		worker.WithExtensions(extensions),
		worker.WithClock(fixedClock),
	}, opts...)

	return &fixture{
		store:   s,
		tracker: tracker,
		runner:  worker.NewRunner(s, reg, logger, all...),
	}
}

func (f *fixture) create(t *testing.T, q job.Queue, runAt time.Time) *job.Job {
	t.Helper()
	j := job.New("actor-1", q, runAt, testNow.Add(-time.Minute))
	if err := f.store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func (f *fixture) get(t *testing.T, j *job.Job) *job.Job {
	t.Helper()
	got, err := f.store.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return got
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func idForCrashedHolder() id.LockID { return id.NewLockID() }

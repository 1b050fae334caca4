// Package storetest is the behavioural suite every job.Store backend runs.
// Backends call [Run] from their own tests with a constructor that returns
// an empty, migrated store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

// Factory returns an empty store. It registers its own cleanup.
type Factory func(t *testing.T) job.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s job.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"AcquireAndRelease", testAcquireAndRelease},
		{"AcquireMissing", testAcquireMissing},
		{"AcquireCancelled", testAcquireCancelled},
		{"ReleaseWrongLock", testReleaseWrongLock},
		{"TerminalIsImmutable", testTerminalIsImmutable},
		{"ConcurrentAcquire", testConcurrentAcquire},
		{"ListEligibleJobs", testListEligibleJobs},
		{"ListEligibleJobsBacklog", testListEligibleJobsBacklog},
		{"ListAndCount", testListAndCount},
		{"ReclaimStaleLocks", testReclaimStaleLocks},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// base is a millisecond-aligned instant so every backend round-trips it.
var base = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

// NewJob builds a pending job on q whose RunAt is offset from a fixed base.
func NewJob(actor string, q job.Queue, offset time.Duration) *job.Job {
	return job.New(actor, q, base.Add(offset), base)
}

func mustCreate(t *testing.T, s job.Store, j *job.Job) {
	t.Helper()
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
}

func mustAcquire(t *testing.T, s job.Store, jobID id.JobID, now time.Time) (*job.Job, id.LockID) {
	t.Helper()
	lockID := id.NewLockID()
	j, ok, err := s.AcquireJob(context.Background(), jobID, lockID, now)
	if err != nil {
		t.Fatalf("AcquireJob: %v", err)
	}
	if !ok {
		t.Fatalf("AcquireJob(%s): not acquired", jobID)
	}
	return j, lockID
}

// complete drives j through one successful attempt.
func complete(t *testing.T, s job.Store, j *job.Job, now time.Time, failure bool) {
	t.Helper()
	held, lockID := mustAcquire(t, s, j.ID, now)
	held.Locked = false
	held.LockedAt = nil
	held.LockID = id.Nil
	held.Attempts++
	held.Complete = true
	if !failure {
		held.CompletedAt = &now
	}
	if failure {
		held.CompletedWithFailure = true
		held.FailureReason = "bad actor"
		held.LastError = "fatal: bad actor"
		held.FailedAt = &now
	}
	held.UpdatedAt = now
	if err := s.ReleaseJob(context.Background(), held, lockID); err != nil {
		t.Fatalf("ReleaseJob: %v", err)
	}
}

func testCreateAndGet(t *testing.T, s job.Store) {
	ctx := context.Background()
	j := NewJob("order-1", job.QueueEmailConfirm, 0)

	mustCreate(t, s, j)
	if err := s.CreateJob(ctx, j); !errors.Is(err, delayed.ErrJobAlreadyExists) {
		t.Fatalf("duplicate CreateJob: got %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Errorf("ID = %s, want %s", got.ID, j.ID)
	}
	if got.ActorID != "order-1" || got.Queue != job.QueueEmailConfirm {
		t.Errorf("got actor=%q queue=%q", got.ActorID, got.Queue)
	}
	if !got.RunAt.Equal(j.RunAt) {
		t.Errorf("RunAt = %v, want %v", got.RunAt, j.RunAt)
	}
	if got.Locked || got.Complete || got.Attempts != 0 {
		t.Errorf("new job not pending: %+v", got)
	}
	if got.State() != job.StatePending {
		t.Errorf("State = %s, want pending", got.State())
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, delayed.ErrJobNotFound) {
		t.Fatalf("GetJob(missing): got %v, want ErrJobNotFound", err)
	}
}

func testAcquireAndRelease(t *testing.T, s job.Store) {
	ctx := context.Background()
	j := NewJob("order-2", job.QueueEmailShipped, 0)
	mustCreate(t, s, j)

	now := base.Add(time.Second)
	held, lockID := mustAcquire(t, s, j.ID, now)
	if !held.Locked {
		t.Fatal("acquired job should be locked")
	}
	if held.LockedAt == nil || !held.LockedAt.Equal(now) {
		t.Errorf("LockedAt = %v, want %v", held.LockedAt, now)
	}
	if held.LockID.String() != lockID.String() {
		t.Errorf("LockID = %s, want %s", held.LockID, lockID)
	}

	// A second acquisition is a silent no-op.
	if _, ok, err := s.AcquireJob(ctx, j.ID, id.NewLockID(), now); err != nil || ok {
		t.Fatalf("second AcquireJob: ok=%v err=%v, want false, nil", ok, err)
	}

	stored, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.State() != job.StateRunning {
		t.Errorf("State = %s, want running", stored.State())
	}

	// Record a recoverable failure.
	retryAt := now.Add(6 * time.Second)
	held.Locked = false
	held.LockedAt = nil
	held.LockID = id.Nil
	held.Attempts = 1
	held.RunAt = retryAt
	held.LastError = "smtp timeout"
	held.RetryReason = "smtp unavailable"
	held.FailedAt = &now
	held.UpdatedAt = now
	if err := s.ReleaseJob(ctx, held, lockID); err != nil {
		t.Fatalf("ReleaseJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Locked || got.LockedAt != nil || !got.LockID.IsNil() {
		t.Errorf("lock not cleared: locked=%v locked_at=%v lock_id=%s", got.Locked, got.LockedAt, got.LockID)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if !got.RunAt.Equal(retryAt) {
		t.Errorf("RunAt = %v, want %v", got.RunAt, retryAt)
	}
	if got.LastError != "smtp timeout" || got.RetryReason != "smtp unavailable" {
		t.Errorf("LastError=%q RetryReason=%q", got.LastError, got.RetryReason)
	}
	if got.FailedAt == nil || !got.FailedAt.Equal(now) {
		t.Errorf("FailedAt = %v, want %v", got.FailedAt, now)
	}
	if got.Complete {
		t.Error("recoverable failure must not complete the job")
	}

	// Released job can be acquired again.
	mustAcquire(t, s, j.ID, retryAt)
}

func testAcquireMissing(t *testing.T, s job.Store) {
	got, ok, err := s.AcquireJob(context.Background(), id.NewJobID(), id.NewLockID(), base)
	if err != nil {
		t.Fatalf("AcquireJob(missing): %v", err)
	}
	if ok || got != nil {
		t.Fatalf("AcquireJob(missing) = %v, %v; want nil, false", got, ok)
	}
}

// testAcquireCancelled checks that an acquire whose context is already
// cancelled either hands the job to the caller or leaves it unlocked.
func testAcquireCancelled(t *testing.T, s job.Store) {
	j := NewJob("order-9", job.QueueEmailConfirm, 0)
	mustCreate(t, s, j)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lockID := id.NewLockID()
	got, ok, err := s.AcquireJob(ctx, j.ID, lockID, base)
	if err == nil && ok {
		if got == nil || got.LockID != lockID {
			t.Fatalf("AcquireJob(cancelled) returned %+v without our lock", got)
		}
		return
	}

	stored, getErr := s.GetJob(context.Background(), j.ID)
	if getErr != nil {
		t.Fatalf("GetJob: %v", getErr)
	}
	if stored.Locked {
		t.Fatalf("failed acquire (err=%v) left the job locked by %s", err, stored.LockID)
	}
	mustAcquire(t, s, j.ID, base)
}

func testReleaseWrongLock(t *testing.T, s job.Store) {
	ctx := context.Background()
	j := NewJob("order-3", job.QueuePaymentReconcile, 0)
	mustCreate(t, s, j)

	held, lockID := mustAcquire(t, s, j.ID, base)

	stale := held.Clone()
	stale.Locked = false
	stale.Attempts = 1
	stale.Complete = true
	if err := s.ReleaseJob(ctx, stale, id.NewLockID()); !errors.Is(err, delayed.ErrLockLost) {
		t.Fatalf("ReleaseJob(wrong lock): got %v, want ErrLockLost", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !got.Locked || got.Complete || got.Attempts != 0 {
		t.Fatalf("rejected release changed the job: %+v", got)
	}

	held.Locked = false
	if err := s.ReleaseJob(ctx, held, lockID); err != nil {
		t.Fatalf("ReleaseJob(right lock): %v", err)
	}
}

func testTerminalIsImmutable(t *testing.T, s job.Store) {
	ctx := context.Background()

	for _, failure := range []bool{false, true} {
		j := NewJob("order-4", job.QueueEmailCancelled, 0)
		mustCreate(t, s, j)
		complete(t, s, j, base, failure)

		before, err := s.GetJob(ctx, j.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		wantState := job.StateDone
		if failure {
			wantState = job.StateFailed
		}
		if before.State() != wantState {
			t.Fatalf("State = %s, want %s", before.State(), wantState)
		}

		if _, ok, err := s.AcquireJob(ctx, j.ID, id.NewLockID(), base.Add(time.Hour)); err != nil || ok {
			t.Fatalf("AcquireJob(complete): ok=%v err=%v, want false, nil", ok, err)
		}

		tampered := before.Clone()
		tampered.Attempts = 99
		tampered.Complete = false
		if err := s.ReleaseJob(ctx, tampered, before.LockID); !errors.Is(err, delayed.ErrLockLost) {
			t.Fatalf("ReleaseJob(complete): got %v, want ErrLockLost", err)
		}

		after, err := s.GetJob(ctx, j.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if after.Attempts != before.Attempts || !after.Complete ||
			after.CompletedWithFailure != before.CompletedWithFailure ||
			!after.UpdatedAt.Equal(before.UpdatedAt) {
			t.Fatalf("terminal job changed:\nbefore %+v\nafter  %+v", before, after)
		}

		if n, err := s.ReclaimStaleLocks(ctx, base.Add(time.Hour)); err != nil || n != 0 {
			t.Fatalf("ReclaimStaleLocks touched a terminal job: n=%d err=%v", n, err)
		}
	}
}

func testConcurrentAcquire(t *testing.T, s job.Store) {
	j := NewJob("order-5", job.QueueEmailConfirm, 0)
	mustCreate(t, s, j)

	const workers = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		start = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := s.AcquireJob(context.Background(), j.ID, id.NewLockID(), base)
			if err != nil {
				t.Errorf("AcquireJob: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d concurrent acquisitions succeeded, want exactly 1", wins)
	}
}

func testListEligibleJobs(t *testing.T, s job.Store) {
	ctx := context.Background()

	late := NewJob("late", job.QueueEmailConfirm, 3*time.Second)
	early := NewJob("early", job.QueueEmailShipped, 1*time.Second)
	middle := NewJob("middle", job.QueueEmailConfirm, 2*time.Second)
	future := NewJob("future", job.QueueEmailConfirm, time.Hour)
	locked := NewJob("locked", job.QueueEmailConfirm, 0)
	done := NewJob("done", job.QueueEmailConfirm, 0)
	for _, j := range []*job.Job{late, early, middle, future, locked, done} {
		mustCreate(t, s, j)
	}
	mustAcquire(t, s, locked.ID, base)
	complete(t, s, done, base, false)

	now := base.Add(time.Minute)
	got, err := s.ListEligibleJobs(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListEligibleJobs: %v", err)
	}
	want := []string{"early", "middle", "late"}
	if len(got) != len(want) {
		t.Fatalf("got %d eligible jobs, want %d", len(got), len(want))
	}
	for i, j := range got {
		if j.ActorID != want[i] {
			t.Errorf("eligible[%d] = %q, want %q", i, j.ActorID, want[i])
		}
	}

	limited, err := s.ListEligibleJobs(ctx, now, 2)
	if err != nil {
		t.Fatalf("ListEligibleJobs(limit): %v", err)
	}
	if len(limited) != 2 || limited[0].ActorID != "early" {
		t.Fatalf("limit not applied in RunAt order: %d jobs", len(limited))
	}

	// RunAt equal to now is eligible.
	exact, err := s.ListEligibleJobs(ctx, base.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ListEligibleJobs(exact): %v", err)
	}
	if len(exact) != 1 || exact[0].ActorID != "early" {
		t.Fatalf("RunAt == now should be eligible, got %d jobs", len(exact))
	}
}

func testListEligibleJobsBacklog(t *testing.T, s job.Store) {
	ctx := context.Background()

	const backlog = 40
	for i := 0; i < backlog; i++ {
		mustCreate(t, s, NewJob("backlog", job.QueueEmailShipped, time.Duration(i)*time.Second))
	}
	first := NewJob("first", job.QueueEmailConfirm, -time.Second)
	mustCreate(t, s, first)
	mustAcquire(t, s, first.ID, base)

	now := base.Add(time.Hour)
	got, err := s.ListEligibleJobs(ctx, now, 5)
	if err != nil {
		t.Fatalf("ListEligibleJobs: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d jobs, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].RunAt.Before(got[i-1].RunAt) {
			t.Fatalf("jobs not ordered by RunAt at %d", i)
		}
	}
	if !got[0].RunAt.Equal(base) {
		t.Errorf("first RunAt = %v, want %v", got[0].RunAt, base)
	}

	all, err := s.ListEligibleJobs(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListEligibleJobs(no limit): %v", err)
	}
	if len(all) != backlog {
		t.Errorf("got %d jobs without a limit, want %d", len(all), backlog)
	}
}

func testListAndCount(t *testing.T, s job.Store) {
	ctx := context.Background()

	var jobs []*job.Job
	for i, q := range []job.Queue{
		job.QueueEmailConfirm, job.QueueEmailConfirm, job.QueueEmailShipped,
		job.QueuePaymentReconcile, job.QueueEmailConfirm,
	} {
		j := job.New("actor", q, base, base.Add(time.Duration(i)*time.Second))
		mustCreate(t, s, j)
		jobs = append(jobs, j)
	}
	complete(t, s, jobs[0], base, false)
	complete(t, s, jobs[2], base, true)
	mustAcquire(t, s, jobs[3].ID, base)

	counts := []struct {
		name string
		opts job.CountOpts
		want int64
	}{
		{"all", job.CountOpts{}, 5},
		{"pending", job.CountOpts{State: job.StatePending}, 2},
		{"running", job.CountOpts{State: job.StateRunning}, 1},
		{"done", job.CountOpts{State: job.StateDone}, 1},
		{"failed", job.CountOpts{State: job.StateFailed}, 1},
		{"queue", job.CountOpts{Queue: job.QueueEmailConfirm}, 3},
		{"queue+state", job.CountOpts{Queue: job.QueueEmailConfirm, State: job.StatePending}, 2},
	}
	for _, tt := range counts {
		t.Run("Count/"+tt.name, func(t *testing.T) {
			got, err := s.CountJobs(ctx, tt.opts)
			if err != nil {
				t.Fatalf("CountJobs: %v", err)
			}
			if got != tt.want {
				t.Errorf("CountJobs(%+v) = %d, want %d", tt.opts, got, tt.want)
			}
		})
	}

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("ListJobs returned %d, want 5", len(all))
	}
	for i, j := range all {
		if j.ID.String() != jobs[i].ID.String() {
			t.Errorf("ListJobs[%d] out of creation order", i)
		}
	}

	page, err := s.ListJobs(ctx, job.ListOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListJobs(page): %v", err)
	}
	if len(page) != 2 || page[0].ID.String() != jobs[1].ID.String() {
		t.Fatalf("pagination wrong: %d jobs", len(page))
	}

	failed, err := s.ListJobs(ctx, job.ListOpts{State: job.StateFailed})
	if err != nil {
		t.Fatalf("ListJobs(failed): %v", err)
	}
	if len(failed) != 1 || failed[0].ID.String() != jobs[2].ID.String() {
		t.Fatalf("state filter wrong: %d jobs", len(failed))
	}

	beyond, err := s.ListJobs(ctx, job.ListOpts{Offset: 10})
	if err != nil {
		t.Fatalf("ListJobs(beyond): %v", err)
	}
	if len(beyond) != 0 {
		t.Fatalf("offset past end returned %d jobs", len(beyond))
	}
}

func testReclaimStaleLocks(t *testing.T, s job.Store) {
	ctx := context.Background()

	stale := NewJob("stale", job.QueueEmailConfirm, 0)
	fresh := NewJob("fresh", job.QueueEmailConfirm, 0)
	mustCreate(t, s, stale)
	mustCreate(t, s, fresh)

	_, staleLock := mustAcquire(t, s, stale.ID, base)
	mustAcquire(t, s, fresh.ID, base.Add(10*time.Minute))

	n, err := s.ReclaimStaleLocks(ctx, base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleLocks: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d, want 1", n)
	}

	got, err := s.GetJob(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Locked || got.Attempts != 0 {
		t.Fatalf("stale job: locked=%v attempts=%d", got.Locked, got.Attempts)
	}

	// The previous holder can no longer persist its outcome.
	got.Complete = true
	if err := s.ReleaseJob(ctx, got, staleLock); !errors.Is(err, delayed.ErrLockLost) {
		t.Fatalf("ReleaseJob(reclaimed): got %v, want ErrLockLost", err)
	}

	still, err := s.GetJob(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !still.Locked {
		t.Fatal("fresh lock was reclaimed")
	}
}

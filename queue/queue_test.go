package queue

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/xraph/delayed/job"
)

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	if !m.Acquire(job.QueueEmailConfirm) {
		t.Fatal("expected Acquire to succeed for unconfigured queue")
	}
	m.Release(job.QueueEmailConfirm)
	if m.ActiveCount(job.QueueEmailConfirm) != 0 {
		t.Fatal("unconfigured queue should not track active count")
	}
}

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{Queue: job.QueueEmailConfirm, MaxConcurrency: 2})

	if !m.Acquire(job.QueueEmailConfirm) || !m.Acquire(job.QueueEmailConfirm) {
		t.Fatal("first two Acquires should succeed")
	}
	if m.Acquire(job.QueueEmailConfirm) {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}
	if got := m.ActiveCount(job.QueueEmailConfirm); got != 2 {
		t.Fatalf("ActiveCount = %d, want 2", got)
	}

	m.Release(job.QueueEmailConfirm)
	if !m.Acquire(job.QueueEmailConfirm) {
		t.Fatal("Acquire should succeed after Release")
	}

	// Other queues are unaffected.
	if !m.Acquire(job.QueueEmailShipped) {
		t.Fatal("unrelated queue should not be limited")
	}
}

func TestManager_RateLimit(t *testing.T) {
	m := NewManager(Config{Queue: job.QueuePaymentReconcile, RateLimit: 0.001, RateBurst: 2})

	allowed := 0
	for i := 0; i < 5; i++ {
		if m.Acquire(job.QueuePaymentReconcile) {
			allowed++
			m.Release(job.QueuePaymentReconcile)
		}
	}
	if allowed != 2 {
		t.Fatalf("allowed = %d, want burst of 2", allowed)
	}
}

func TestManager_RefusedByConcurrencyKeepsTokens(t *testing.T) {
	m := NewManager(Config{Queue: job.QueueEmailConfirm, MaxConcurrency: 1, RateLimit: 0.001, RateBurst: 2})

	if !m.Acquire(job.QueueEmailConfirm) {
		t.Fatal("first Acquire should succeed")
	}
	if m.Acquire(job.QueueEmailConfirm) {
		t.Fatal("second Acquire should hit the concurrency gate")
	}
	m.Release(job.QueueEmailConfirm)
	if !m.Acquire(job.QueueEmailConfirm) {
		t.Fatal("token should not have been spent by the refused attempt")
	}
}

func TestManager_SetQueueConfigKeepsActive(t *testing.T) {
	m := NewManager(Config{Queue: job.QueueEmailConfirm, MaxConcurrency: 5})
	m.Acquire(job.QueueEmailConfirm)
	m.Acquire(job.QueueEmailConfirm)

	m.SetQueueConfig(Config{Queue: job.QueueEmailConfirm, MaxConcurrency: 2})
	if m.ActiveCount(job.QueueEmailConfirm) != 2 {
		t.Fatal("active count lost on reconfigure")
	}
	if m.Acquire(job.QueueEmailConfirm) {
		t.Fatal("new limit should apply immediately")
	}
}

func TestManager_ConcurrentAcquire(t *testing.T) {
	m := NewManager(Config{Queue: job.QueueEmailConfirm, MaxConcurrency: 3})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire(job.QueueEmailConfirm) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 3 {
		t.Fatalf("admitted = %d, want 3", admitted.Load())
	}
}

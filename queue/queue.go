package queue

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/xraph/delayed/job"
)

// Config defines per-queue throttling.
type Config struct {
	// Queue is the queue this config applies to.
	Queue job.Queue

	// MaxConcurrency limits how many jobs from this queue may run at once
	// in this process. Zero means no queue-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained attempts per second started from
	// this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 when
	// RateLimit is set.
	RateBurst int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager gates attempt starts per queue. It never touches job state: a
// refused attempt leaves the job eligible for the next sweep. It is safe
// for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[job.Queue]*queueState
}

// NewManager creates a Manager. Queues without a Config are unlimited.
func NewManager(configs ...Config) *Manager {
	m := &Manager{queues: make(map[job.Queue]*queueState, len(configs))}
	for _, cfg := range configs {
		m.queues[cfg.Queue] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Acquire reports whether an attempt on q may start now. On true the
// caller MUST call Release when the attempt ends.
func (m *Manager) Acquire(q job.Queue) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[q]
	if qs == nil {
		return true
	}
	if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return false
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	qs.active++
	return true
}

// Release ends an attempt admitted by Acquire.
func (m *Manager) Release(q job.Queue) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[q]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// SetQueueConfig updates (or creates) a queue configuration, keeping the
// current active count.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := newQueueState(cfg)
	if existing := m.queues[cfg.Queue]; existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Queue] = qs
}

// ActiveCount returns the number of admitted attempts on q.
func (m *Manager) ActiveCount(q job.Queue) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[q]; qs != nil {
		return qs.active
	}
	return 0
}

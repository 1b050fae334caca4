package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/delayed/ext"
	"github.com/xraph/delayed/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Broker)(nil)
	_ ext.JobCreated     = (*Broker)(nil)
	_ ext.JobStarted     = (*Broker)(nil)
	_ ext.JobCompleted   = (*Broker)(nil)
	_ ext.JobRetrying    = (*Broker)(nil)
	_ ext.JobFailed      = (*Broker)(nil)
	_ ext.JobUnhandled   = (*Broker)(nil)
	_ ext.SweepCompleted = (*Broker)(nil)
	_ ext.Shutdown       = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Subscriber receives the events of the topics it subscribed to. Events
// that do not fit its buffer are dropped.
type Subscriber struct {
	id     string
	ch     chan *Event
	mu     sync.Mutex
	closed bool
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is removed
// or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

func (s *Subscriber) send(evt *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broker receives lifecycle hooks and fans them out to subscribers.
type Broker struct {
	topics *topicRegistry
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:      newTopicRegistry(),
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe registers subscriberID on topics. Subscribing an existing ID
// replaces it.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	b.RemoveSubscriber(subscriberID)

	sub := &Subscriber{id: subscriberID, ch: make(chan *Event, b.bufferSize)}
	b.mu.Lock()
	b.subscribers[subscriberID] = sub
	b.mu.Unlock()

	for _, topic := range topics {
		b.topics.subscribe(topic, sub)
	}
	return sub
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.mu.Lock()
	sub, ok := b.subscribers[subscriberID]
	delete(b.subscribers, subscriberID)
	b.mu.Unlock()

	if ok {
		b.topics.remove(subscriberID)
		sub.close()
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	count := len(b.subscribers)
	b.mu.Unlock()
	return BrokerStats{
		TopicCount:      b.topics.count(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

func (b *Broker) publish(evt *Event, q job.Queue) {
	delivered, dropped := b.topics.broadcast(topicsFor(evt, q), evt)
	b.totalPublished.Add(int64(delivered))
	if dropped > 0 {
		b.totalDropped.Add(int64(dropped))
		b.logger.Debug("stream events dropped",
			slog.String("type", string(evt.Type)),
			slog.Int("dropped", dropped),
		)
	}
}

func (b *Broker) publishJob(typ EventType, j *job.Job, elapsed time.Duration, err error) {
	data := JobEventData{
		JobID:     j.ID.String(),
		ActorID:   j.ActorID,
		Queue:     j.Queue.String(),
		State:     string(j.State()),
		Attempts:  j.Attempts,
		RunAt:     j.RunAt,
		ElapsedMs: elapsed.Milliseconds(),
	}
	if err != nil {
		data.Error = err.Error()
	}
	b.publish(&Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data:      mustMarshal(data),
	}, j.Queue)
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Lifecycle hooks ─────────────────────────────────

func (b *Broker) OnJobCreated(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobCreated, j, 0, nil)
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobStarted, j, 0, nil)
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.publishJob(EventJobCompleted, j, elapsed, nil)
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, jobErr error) error {
	b.publishJob(EventJobRetrying, j, 0, jobErr)
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	b.publishJob(EventJobFailed, j, 0, jobErr)
	return nil
}

func (b *Broker) OnJobUnhandled(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobUnhandled, j, 0, nil)
	return nil
}

func (b *Broker) OnSweepCompleted(_ context.Context, dispatched int, elapsed time.Duration) error {
	b.publish(&Event{
		Type:      EventSweepCompleted,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(SweepEventData{
			Dispatched: dispatched,
			ElapsedMs:  elapsed.Milliseconds(),
		}),
	}, "")
	return nil
}

// OnShutdown closes every subscriber so readers observe the end of the
// stream.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for subID, sub := range subs {
		b.topics.remove(subID)
		sub.close()
	}
	return nil
}

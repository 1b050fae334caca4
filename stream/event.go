// Package stream fans job lifecycle events out to live subscribers. The
// Broker is an ext.Extension; the admin API bridges it to websockets.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobCreated   EventType = "job.created"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobRetrying  EventType = "job.retrying"
	EventJobFailed    EventType = "job.failed"
	EventJobUnhandled EventType = "job.unhandled"

	EventSweepCompleted EventType = "sweep.completed"
)

// Event is the envelope sent to subscribers.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity topic the event belongs to ("job:<id>"), or empty
	// for events that only reach global topics.
	Topic string `json:"topic,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string    `json:"job_id"`
	ActorID   string    `json:"actor_id"`
	Queue     string    `json:"queue"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	RunAt     time.Time `json:"run_at"`
	ElapsedMs int64     `json:"elapsed_ms,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// SweepEventData is the payload for sweep events.
type SweepEventData struct {
	Dispatched int   `json:"dispatched"`
	ElapsedMs  int64 `json:"elapsed_ms"`
}

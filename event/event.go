// Package event carries "run this job now" signals from Create to the
// dispatcher's consumers. Signals are hints: losing one only delays the
// job until the next sweep, so every Bus may drop under pressure.
package event

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

// Signal asks consumers to attempt JobID.
type Signal struct {
	JobID  id.JobID  `json:"job_id"`
	Queue  job.Queue `json:"queue"`
	SentAt time.Time `json:"sent_at"`
}

// Bus publishes and delivers signals.
type Bus interface {
	// Publish sends s without blocking on consumers.
	Publish(ctx context.Context, s Signal) error

	// Subscribe returns a channel of signals that is closed when ctx is
	// done or the bus is closed.
	Subscribe(ctx context.Context) (<-chan Signal, error)

	// Close releases the bus. Pending signals may be lost.
	Close() error
}

// wireSignal is the msgpack envelope. IDs travel as strings so the wire
// format does not depend on the id package's internals.
type wireSignal struct {
	JobID  string    `msgpack:"j"`
	Queue  string    `msgpack:"q"`
	SentAt time.Time `msgpack:"t"`
}

// Encode serialises s for cross-process buses.
func Encode(s Signal) ([]byte, error) {
	data, err := msgpack.Marshal(wireSignal{
		JobID:  s.JobID.String(),
		Queue:  s.Queue.String(),
		SentAt: s.SentAt,
	})
	if err != nil {
		return nil, fmt.Errorf("delayed/event: encode signal: %w", err)
	}
	return data, nil
}

// Decode parses a signal produced by Encode.
func Decode(data []byte) (Signal, error) {
	var w wireSignal
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Signal{}, fmt.Errorf("delayed/event: decode signal: %w", err)
	}
	jobID, err := id.ParseJobID(w.JobID)
	if err != nil {
		return Signal{}, fmt.Errorf("delayed/event: decode signal: %w", err)
	}
	q, err := job.ParseQueue(w.Queue)
	if err != nil {
		return Signal{}, fmt.Errorf("delayed/event: decode signal: %w", err)
	}
	return Signal{JobID: jobID, Queue: q, SentAt: w.SentAt}, nil
}

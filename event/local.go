package event

import (
	"context"
	"sync"

	"github.com/xraph/delayed"
)

// Local is an in-process Bus backed by a buffered channel. Every
// subscriber reads from the same channel, so each signal is delivered to
// exactly one of them.
type Local struct {
	ch     chan Signal
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ Bus = (*Local)(nil)

// NewLocal creates a Local bus holding up to buffer undelivered signals.
func NewLocal(buffer int) *Local {
	if buffer < 1 {
		buffer = 1
	}
	return &Local{
		ch:   make(chan Signal, buffer),
		done: make(chan struct{}),
	}
}

// Publish enqueues s, returning delayed.ErrSignalDropped if the buffer is
// full and delayed.ErrBusClosed after Close.
func (b *Local) Publish(_ context.Context, s Signal) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return delayed.ErrBusClosed
	}
	select {
	case b.ch <- s:
		return nil
	default:
		return delayed.ErrSignalDropped
	}
}

// Subscribe returns a channel fed from the shared buffer.
func (b *Local) Subscribe(ctx context.Context) (<-chan Signal, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, delayed.ErrBusClosed
	}

	out := make(chan Signal)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case s := <-b.ch:
				select {
				case out <- s:
				case <-ctx.Done():
					return
				case <-b.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// Len reports the number of buffered signals.
func (b *Local) Len() int { return len(b.ch) }

// Close stops all subscriptions. It is safe to call more than once.
func (b *Local) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

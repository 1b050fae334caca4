// Package redisbus implements event.Bus over Redis PUBLISH/SUBSCRIBE so a
// job created on one replica can be attempted by any replica.
//
// Redis pub/sub is fire-and-forget: replicas that are not subscribed when
// a signal is published never see it, and the sweep picks the job up.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/delayed/event"
)

// DefaultChannel is the pub/sub channel used unless overridden.
const DefaultChannel = "delayed:signals"

var _ event.Bus = (*Bus)(nil)

// Option configures the Bus.
type Option func(*Bus)

// WithChannel sets the pub/sub channel name.
func WithChannel(name string) Option {
	return func(b *Bus) { b.channel = name }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// Bus is a Redis-backed signal bus. The caller owns the client lifecycle.
type Bus struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// New creates a Redis signal bus.
func New(client redis.UniversalClient, opts ...Option) *Bus {
	b := &Bus{client: client, channel: DefaultChannel, logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish sends s to every subscribed replica.
func (b *Bus) Publish(ctx context.Context, s event.Signal) error {
	data, err := event.Encode(s)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("delayed/redisbus: publish: %w", err)
	}
	return nil
}

// Subscribe subscribes to the channel until ctx is done. Undecodable
// messages are logged and skipped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan event.Signal, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so no signal published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("delayed/redisbus: subscribe: %w", err)
	}

	out := make(chan event.Signal)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				s, err := event.Decode([]byte(msg.Payload))
				if err != nil {
					b.logger.Warn("dropping undecodable signal",
						slog.String("channel", msg.Channel),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the caller owns the Redis client.
func (b *Bus) Close() error { return nil }

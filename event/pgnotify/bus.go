// Package pgnotify implements event.Bus over PostgreSQL LISTEN/NOTIFY,
// letting deployments that already run the postgres store signal across
// replicas without another moving part.
package pgnotify

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/delayed/backoff"
	"github.com/xraph/delayed/event"
)

// DefaultChannel is the NOTIFY channel used unless overridden.
const DefaultChannel = "delayed_signals"

var _ event.Bus = (*Bus)(nil)

// Option configures the Bus.
type Option func(*Bus)

// WithChannel sets the NOTIFY channel name.
func WithChannel(name string) Option {
	return func(b *Bus) { b.channel = name }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithReconnectBackoff sets the delay between attempts to re-LISTEN after
// the listening connection fails. Defaults to exponential from one second,
// capped at thirty.
func WithReconnectBackoff(s backoff.Strategy) Option {
	return func(b *Bus) { b.retry = s }
}

// Bus is a LISTEN/NOTIFY signal bus. Each Subscribe holds one pooled
// connection for its lifetime, replacing it if it fails. The caller owns
// the pool.
type Bus struct {
	pool    *pgxpool.Pool
	channel string
	logger  *slog.Logger
	retry   backoff.Strategy
}

// New creates a LISTEN/NOTIFY signal bus.
func New(pool *pgxpool.Pool, opts ...Option) *Bus {
	b := &Bus{
		pool:    pool,
		channel: DefaultChannel,
		logger:  slog.Default(),
		retry:   backoff.NewExponential(time.Second, 30*time.Second),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish issues pg_notify with the base64-encoded msgpack signal;
// NOTIFY payloads must be text.
func (b *Bus) Publish(ctx context.Context, s event.Signal) error {
	data, err := event.Encode(s)
	if err != nil {
		return err
	}
	payload := base64.StdEncoding.EncodeToString(data)
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, b.channel, payload); err != nil {
		return fmt.Errorf("delayed/pgnotify: notify: %w", err)
	}
	return nil
}

// Subscribe acquires a connection, LISTENs on the channel, and forwards
// notifications until ctx is done. If the connection fails it is replaced
// and the channel stays open; signals sent in the gap are left to the
// sweep.
func (b *Bus) Subscribe(ctx context.Context) (<-chan event.Signal, error) {
	conn, err := b.listen(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan event.Signal)
	go b.forward(ctx, conn, out)
	return out, nil
}

// listen acquires a pooled connection and LISTENs on it.
func (b *Bus) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("delayed/pgnotify: acquire: %w", err)
	}
	listen := "LISTEN " + pgx.Identifier{b.channel}.Sanitize()
	if _, err := conn.Exec(ctx, listen); err != nil {
		conn.Release()
		return nil, fmt.Errorf("delayed/pgnotify: listen: %w", err)
	}
	return conn, nil
}

func (b *Bus) forward(ctx context.Context, conn *pgxpool.Conn, out chan<- event.Signal) {
	defer close(out)

	for {
		err := b.drain(ctx, conn, out)
		b.release(conn)
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("listener connection lost, reconnecting",
			slog.String("channel", b.channel),
			slog.String("error", err.Error()),
		)

		if conn = b.reconnect(ctx); conn == nil {
			return
		}
	}
}

// drain forwards notifications from conn until it fails or ctx is done.
func (b *Bus) drain(ctx context.Context, conn *pgxpool.Conn, out chan<- event.Signal) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s, err := b.decode(n.Payload)
		if err != nil {
			b.logger.Warn("dropping undecodable signal",
				slog.String("channel", n.Channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case out <- s:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reconnect retries listen with backoff. It returns nil once ctx is done.
func (b *Bus) reconnect(ctx context.Context) *pgxpool.Conn {
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(b.retry.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := b.listen(ctx)
		if err == nil {
			b.logger.Info("listener reconnected",
				slog.String("channel", b.channel),
				slog.Int("attempt", attempt),
			)
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		b.logger.Warn("listener reconnect failed",
			slog.String("channel", b.channel),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bus) decode(payload string) (event.Signal, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return event.Signal{}, fmt.Errorf("delayed/pgnotify: decode payload: %w", err)
	}
	return event.Decode(data)
}

// release UNLISTENs before handing the connection back so the pool does
// not accumulate listeners.
func (b *Bus) release(conn *pgxpool.Conn) {
	ctx := context.Background()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		// A broken connection must not return to the pool.
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

// Close is a no-op; the caller owns the pool.
func (b *Bus) Close() error { return nil }

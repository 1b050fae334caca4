//go:build integration

package pgnotify_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/delayed/backoff"
	"github.com/xraph/delayed/event"
	"github.com/xraph/delayed/event/pgnotify"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

// setupPool starts a Postgres container and returns a pool connected to it.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("delayed_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func newBus(pool *pgxpool.Pool) *pgnotify.Bus {
	return pgnotify.New(pool,
		pgnotify.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		pgnotify.WithReconnectBackoff(backoff.NewConstant(50*time.Millisecond)),
	)
}

func newSignal() event.Signal {
	return event.Signal{
		JobID:  id.NewJobID(),
		Queue:  job.QueueEmailConfirm,
		SentAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// publishUntilReceived publishes s until it arrives on ch, so a listener
// that is still re-LISTENing does not make the test flaky.
func publishUntilReceived(t *testing.T, bus *pgnotify.Bus, ch <-chan event.Signal, s event.Signal) {
	t.Helper()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		if err := bus.Publish(context.Background(), s); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case got, ok := <-ch:
			if !ok {
				t.Fatal("subscription closed")
			}
			// Earlier repeats of a previous signal may still be queued.
			if got.JobID.String() == s.JobID.String() {
				return
			}
		case <-tick.C:
		case <-deadline:
			t.Fatal("signal not delivered")
		}
	}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newBus(setupPool(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	publishUntilReceived(t, bus, ch, newSignal())

	cancel()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("subscription not closed after cancel")
		}
	}
}

func TestSubscribeSurvivesTerminatedConnection(t *testing.T) {
	pool := setupPool(t)
	bus := newBus(pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	publishUntilReceived(t, bus, ch, newSignal())

	var killed int
	err = pool.QueryRow(context.Background(), `
		SELECT count(pg_terminate_backend(pid))
		FROM pg_stat_activity
		WHERE pid <> pg_backend_pid() AND query ILIKE 'LISTEN%'`,
	).Scan(&killed)
	if err != nil {
		t.Fatalf("terminate listener: %v", err)
	}
	if killed == 0 {
		t.Fatal("no listening backend found")
	}

	publishUntilReceived(t, bus, ch, newSignal())
}

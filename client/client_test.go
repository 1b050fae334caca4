package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/api"
	"github.com/xraph/delayed/client"
	"github.com/xraph/delayed/engine"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
	"github.com/xraph/delayed/store/memory"
	"github.com/xraph/delayed/stream"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupClientTest serves the HTTP API for a memory-backed engine on an
// httptest server and returns a client pointed at it. The engine is not
// started, so jobs only run through Run and Sweep.
func setupClientTest(t *testing.T) (*client.Client, *engine.Engine, *stream.Broker) {
	t.Helper()

	logger := testLogger()
	s := memory.New()
	d, err := delayed.New(
		delayed.WithStore(s),
		delayed.WithConcurrency(2),
		delayed.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("delayed.New: %v", err)
	}

	reg := job.MustRegistry(map[job.Queue]job.Handler{
		job.QueueEmailConfirm: job.HandlerFunc(func(context.Context, string) error { return nil }),
		job.QueueEmailShipped: job.HandlerFunc(func(context.Context, string) error {
			return job.Recoverable(errors.New("smtp unavailable"), "smtp unavailable")
		}),
	})

	broker := stream.NewBroker(logger)
	eng, err := engine.Build(d, s, reg, engine.WithExtension(broker))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	ts := httptest.NewServer(api.New(eng, api.WithBroker(broker), api.WithLogger(logger)).Handler())

	c, err := client.New(ts.URL, client.WithLogger(logger))
	if err != nil {
		ts.Close()
		t.Fatalf("client.New: %v", err)
	}

	t.Cleanup(func() {
		ts.Close()
		_ = eng.Stop(context.Background())
	})
	return c, eng, broker
}

// ── Construction ──────────────────────────────────────

func TestNew_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "://nope", "localhost:8080"} {
		if _, err := client.New(raw); err == nil {
			t.Errorf("New(%q) succeeded, want error", raw)
		}
	}
}

// ── Jobs ──────────────────────────────────────────────

func TestClient_CreateAndGet(t *testing.T) {
	c, _, _ := setupClientTest(t)
	ctx := context.Background()

	at := time.Now().Add(time.Hour).Truncate(time.Second)
	created, err := c.Create(ctx, "order-42", job.QueueEmailConfirm, client.At(at))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ActorID != "order-42" || created.Queue != job.QueueEmailConfirm {
		t.Errorf("created = %+v", created)
	}
	if !created.RunAt.Equal(at) {
		t.Errorf("RunAt = %v, want %v", created.RunAt, at)
	}

	got, err := c.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID.String() != created.ID.String() || got.State() != job.StatePending {
		t.Errorf("got = %+v", got)
	}
}

func TestClient_CreateInvalid(t *testing.T) {
	c, _, _ := setupClientTest(t)

	_, err := c.Create(context.Background(), "", job.QueueEmailConfirm)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Message == "" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestClient_GetNotFound(t *testing.T) {
	c, _, _ := setupClientTest(t)

	_, err := c.Get(context.Background(), id.NewJobID())
	if !errors.Is(err, delayed.ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestClient_RunRetries(t *testing.T) {
	c, _, _ := setupClientTest(t)
	ctx := context.Background()

	j, err := c.Create(ctx, "order-7", job.QueueEmailShipped)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := c.Run(ctx, j.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Outcome != "retrying" {
		t.Errorf("Outcome = %q, want retrying", resp.Outcome)
	}
	if resp.Job.Attempts != 1 || resp.Job.RetryReason != "smtp unavailable" {
		t.Errorf("job = attempts %d reason %q", resp.Job.Attempts, resp.Job.RetryReason)
	}
	if !resp.Job.RunAt.After(j.RunAt) {
		t.Errorf("RunAt %v did not move past %v", resp.Job.RunAt, j.RunAt)
	}
}

func TestClient_ListSweepStats(t *testing.T) {
	c, _, _ := setupClientTest(t)
	ctx := context.Background()

	for _, actor := range []string{"a", "b", "c"} {
		if _, err := c.Create(ctx, actor, job.QueueEmailConfirm); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := c.Create(ctx, "later", job.QueueEmailConfirm, client.At(time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := c.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 3 {
		t.Errorf("Sweep dispatched %d, want 3", n)
	}

	done, err := c.List(ctx, job.ListOpts{State: job.StateDone, Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(done) != 2 {
		t.Errorf("List(done, limit 2) = %d jobs", len(done))
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Done != 3 || stats.Pending != 1 || stats.Total != 4 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestClient_Health(t *testing.T) {
	c, _, _ := setupClientTest(t)
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

// ── Streaming ─────────────────────────────────────────

func TestClient_Watch(t *testing.T) {
	c, _, broker := setupClientTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := c.Watch(ctx, stream.QueueTopic(job.QueueEmailConfirm))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	for broker.Stats().SubscriberCount == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	j, err := c.Create(ctx, "order-1", job.QueueEmailConfirm)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Run(ctx, j.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []stream.EventType{stream.EventJobCreated, stream.EventJobStarted, stream.EventJobCompleted}
	for _, typ := range want {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatalf("stream closed before %s", typ)
			}
			if evt.Type != typ {
				t.Errorf("Type = %q, want %q", evt.Type, typ)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", typ)
		}
	}

	cancel()
	for range events {
	}
}

func TestClient_WatchInvalidTopic(t *testing.T) {
	c, _, _ := setupClientTest(t)
	if _, err := c.Watch(context.Background(), "order:x"); err == nil {
		t.Error("Watch(order:x) succeeded, want error")
	}
}

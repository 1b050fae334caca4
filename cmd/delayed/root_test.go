package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/api"
	"github.com/xraph/delayed/engine"
	"github.com/xraph/delayed/job"
	"github.com/xraph/delayed/store/memory"
)

func TestGetenv(t *testing.T) {
	t.Setenv("DELAYED_TEST_KEY", "set")
	if got := getenv("DELAYED_TEST_KEY", "fallback"); got != "set" {
		t.Errorf("getenv = %q, want set", got)
	}
	t.Setenv("DELAYED_TEST_KEY", "")
	if got := getenv("DELAYED_TEST_KEY", "fallback"); got != "fallback" {
		t.Errorf("getenv(empty) = %q, want fallback", got)
	}
}

func TestOpenBackend_UnknownStore(t *testing.T) {
	_, err := openBackend(context.Background(), &backendFlags{store: "cassandra"}, (&rootFlags{}).logger())
	if err == nil || !strings.Contains(err.Error(), "unknown store") {
		t.Errorf("err = %v, want unknown store", err)
	}
}

func TestOpenBackend_UnknownBus(t *testing.T) {
	_, err := openBackend(context.Background(), &backendFlags{store: "memory", bus: "kafka"}, (&rootFlags{}).logger())
	if err == nil || !strings.Contains(err.Error(), "unknown bus") {
		t.Errorf("err = %v, want unknown bus", err)
	}
}

func TestOpenBackend_SQLiteMigrate(t *testing.T) {
	ctx := context.Background()
	f := &backendFlags{store: "sqlite", dsn: t.TempDir() + "/delayed.db"}

	b, err := openBackend(ctx, f, (&rootFlags{}).logger())
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer b.Close()
	defer b.store.Close()

	if err := b.store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := b.store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestRemoteCommands(t *testing.T) {
	logger := (&rootFlags{logLevel: "error"}).logger()
	s := memory.New()
	d, err := delayed.New(delayed.WithStore(s), delayed.WithLogger(logger))
	if err != nil {
		t.Fatalf("delayed.New: %v", err)
	}
	eng, err := engine.Build(d, s, demoRegistry(logger))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	ts := httptest.NewServer(api.New(eng, api.WithLogger(logger)).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = eng.Stop(context.Background())
	})

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(append(args, "--server", ts.URL))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	out := run("enqueue", "order-1", "EMAIL_CONFIRM")
	if !strings.Contains(out, `"actor_id": "order-1"`) {
		t.Fatalf("enqueue output = %s", out)
	}
	run("enqueue", "order-2", "EMAIL_SHIPPED", "--in", "1h")

	if out := run("sweep"); out != "dispatched 1\n" {
		t.Errorf("sweep output = %q", out)
	}

	jobs, err := eng.List(context.Background(), job.ListOpts{State: job.StateDone})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("done jobs = %d, err = %v", len(jobs), err)
	}
	if out := run("get", jobs[0].ID.String()); !strings.Contains(out, `"complete": true`) {
		t.Errorf("get output = %s", out)
	}

	out = run("stats")
	if !strings.Contains(out, "done     1") || !strings.Contains(out, "pending  1") {
		t.Errorf("stats output = %s", out)
	}
}

func TestEnqueue_RejectsUnknownQueue(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"enqueue", "order-1", "SMS", "--server", "http://127.0.0.1:1"})
	if err := cmd.Execute(); err == nil {
		t.Error("enqueue SMS succeeded, want error")
	}
}

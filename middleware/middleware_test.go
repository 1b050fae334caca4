package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
	"github.com/xraph/delayed/middleware"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		ActorID:  "order-1",
		Queue:    job.QueueEmailConfirm,
		Attempts: 2,
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	if err := chain(context.Background(), newTestJob(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesFatal(t *testing.T) {
	mw := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw, middleware.Logging(slog.Default()))

	err := chain(context.Background(), newTestJob(), func(_ context.Context) error {
		return job.Fatal("order deleted")
	})
	if !job.IsFatal(err) {
		t.Fatalf("expected fatal error to survive the chain, got %v", err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		panic("test panic")
	})

	var pe *job.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *job.PanicError, got %T (%v)", err, err)
	}
	if pe.Value != "test panic" {
		t.Errorf("panic value = %v", pe.Value)
	}
	if !strings.Contains(string(pe.Stack), "goroutine") {
		t.Error("expected a goroutine stack")
	}
	if job.IsFatal(err) {
		t.Error("a panic must not be fatal")
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	called := false
	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

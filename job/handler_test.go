package job_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/job"
)

func noop(context.Context, string) error { return nil }

func TestRegistry_Get(t *testing.T) {
	var got string
	r, err := job.NewRegistry(map[job.Queue]job.Handler{
		job.QueueEmailConfirm: job.HandlerFunc(func(_ context.Context, actorID string) error {
			got = actorID
			return nil
		}),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	h, ok := r.Get(job.QueueEmailConfirm)
	if !ok {
		t.Fatal("expected handler to be registered")
	}
	if err := h.Run(context.Background(), "order-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "order-1" {
		t.Errorf("actorID = %q, want %q", got, "order-1")
	}

	if _, ok := r.Get(job.QueueEmailShipped); ok {
		t.Error("expected no handler for unregistered queue")
	}
}

func TestRegistry_IsACopy(t *testing.T) {
	handlers := map[job.Queue]job.Handler{job.QueueEmailConfirm: job.HandlerFunc(noop)}
	r := job.MustRegistry(handlers)

	handlers[job.QueueEmailShipped] = job.HandlerFunc(noop)

	if _, ok := r.Get(job.QueueEmailShipped); ok {
		t.Error("registry changed after construction")
	}
}

func TestRegistry_Rejects(t *testing.T) {
	_, err := job.NewRegistry(map[job.Queue]job.Handler{"BOGUS": job.HandlerFunc(noop)})
	if !errors.Is(err, delayed.ErrInvalidQueue) {
		t.Errorf("expected ErrInvalidQueue, got %v", err)
	}

	_, err = job.NewRegistry(map[job.Queue]job.Handler{job.QueueEmailConfirm: nil})
	if !errors.Is(err, delayed.ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
}

func TestRegistry_Queues(t *testing.T) {
	r := job.MustRegistry(map[job.Queue]job.Handler{
		job.QueuePaymentReconcile: job.HandlerFunc(noop),
		job.QueueEmailConfirm:     job.HandlerFunc(noop),
	})
	got := r.Queues()
	if len(got) != 2 || got[0] != job.QueueEmailConfirm || got[1] != job.QueuePaymentReconcile {
		t.Errorf("Queues() = %v", got)
	}

	var nilReg *job.Registry
	if _, ok := nilReg.Get(job.QueueEmailConfirm); ok {
		t.Error("nil registry returned a handler")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	sentinel := errors.New("smtp down")

	tests := []struct {
		name   string
		err    error
		fatal  bool
		reason string
	}{
		{"plain", sentinel, false, ""},
		{"recoverable", job.Recoverable(sentinel, "smtp timeout"), false, "smtp timeout"},
		{"fatal", job.Fatal("order deleted"), true, "order deleted"},
		{"fatalf", job.Fatalf("order %s deleted", "order-1"), true, "order order-1 deleted"},
		{"wrapped fatal", fmt.Errorf("send: %w", job.Fatal("bad address")), true, "bad address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := job.IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
			if got := job.ReasonOf(tt.err); got != tt.reason {
				t.Errorf("ReasonOf() = %q, want %q", got, tt.reason)
			}
		})
	}

	if !errors.Is(job.Recoverable(sentinel, "x"), sentinel) {
		t.Error("Recoverable should unwrap to its cause")
	}
	if !errors.Is(job.Fatalf("lookup: %w", sentinel), sentinel) {
		t.Error("Fatalf with %w should unwrap to its cause")
	}
}

func TestTrace(t *testing.T) {
	if job.Trace(nil) != "" {
		t.Error("Trace(nil) should be empty")
	}

	plain := job.Trace(errors.New("boom"))
	if plain != "boom" {
		t.Errorf("Trace() = %q", plain)
	}

	pe := &job.PanicError{Value: "nil map", Stack: []byte("goroutine 7 [running]:")}
	got := job.Trace(fmt.Errorf("handler: %w", pe))
	if !strings.Contains(got, "panic: nil map") || !strings.Contains(got, "goroutine 7") {
		t.Errorf("Trace() missing panic details: %q", got)
	}
}

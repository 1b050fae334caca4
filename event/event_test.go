package event_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/event"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
)

func newSignal() event.Signal {
	return event.Signal{
		JobID:  id.NewJobID(),
		Queue:  job.QueueEmailConfirm,
		SentAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestEncodeDecode(t *testing.T) {
	s := newSignal()
	data, err := event.Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := event.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.JobID.String() != s.JobID.String() || got.Queue != s.Queue || !got.SentAt.Equal(s.SentAt) {
		t.Errorf("decoded %+v, want %+v", got, s)
	}
}

func TestDecode_Rejects(t *testing.T) {
	if _, err := event.Decode([]byte("not msgpack")); err == nil {
		t.Error("expected error for garbage")
	}

	bad := newSignal()
	bad.Queue = "NOPE"
	data, err := event.Encode(bad)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := event.Decode(data); !errors.Is(err, delayed.ErrInvalidQueue) {
		t.Errorf("expected ErrInvalidQueue, got %v", err)
	}
}

func TestLocal_PublishSubscribe(t *testing.T) {
	bus := event.NewLocal(4)
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	s := newSignal()
	if err := bus.Publish(ctx, s); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.JobID.String() != s.JobID.String() {
			t.Errorf("got %s, want %s", got.JobID, s.JobID)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for signal")
	}
}

func TestLocal_DropsWhenFull(t *testing.T) {
	bus := event.NewLocal(1)
	defer bus.Close()
	ctx := context.Background()

	if err := bus.Publish(ctx, newSignal()); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := bus.Publish(ctx, newSignal()); !errors.Is(err, delayed.ErrSignalDropped) {
		t.Fatalf("expected ErrSignalDropped, got %v", err)
	}
	if bus.Len() != 1 {
		t.Errorf("Len() = %d, want 1", bus.Len())
	}
}

func TestLocal_Close(t *testing.T) {
	bus := event.NewLocal(1)
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = bus.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}

	if err := bus.Publish(ctx, newSignal()); !errors.Is(err, delayed.ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
	if _, err := bus.Subscribe(ctx); !errors.Is(err, delayed.ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
}

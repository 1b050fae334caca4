package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/delayed/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob() *job.Job {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	return job.New("order-1", job.QueueEmailConfirm, now, now)
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscriber %s closed", sub.ID())
		}
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
	}
	return nil
}

func expectNothing(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("subscriber %s got unexpected %s", sub.ID(), evt.Type)
	default:
	}
}

func TestBrokerJobTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	j := testJob()

	firehose := b.Subscribe("firehose", TopicFirehose)
	jobs := b.Subscribe("jobs", TopicJobs)
	byJob := b.Subscribe("by-job", JobTopic(j.ID.String()))
	byQueue := b.Subscribe("by-queue", QueueTopic(job.QueueEmailConfirm))
	otherQueue := b.Subscribe("other-queue", QueueTopic(job.QueueEmailShipped))

	if err := b.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}

	for _, sub := range []*Subscriber{firehose, jobs, byJob, byQueue} {
		evt := receive(t, sub)
		if evt.Type != EventJobCreated {
			t.Errorf("%s: Type = %q, want %q", sub.ID(), evt.Type, EventJobCreated)
		}
	}
	expectNothing(t, otherQueue)
}

func TestBrokerJobPayload(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("s", TopicJobs)
	j := testJob()
	j.Attempts = 2

	if err := b.OnJobRetrying(context.Background(), j, errors.New("smtp down")); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := receive(t, sub)
	var data JobEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.JobID != j.ID.String() || data.ActorID != "order-1" || data.Queue != "EMAIL_CONFIRM" {
		t.Errorf("payload = %+v", data)
	}
	if data.Attempts != 2 || data.Error != "smtp down" || data.State != "pending" {
		t.Errorf("payload = %+v", data)
	}
}

func TestBrokerSweepOnlyOnFirehose(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	firehose := b.Subscribe("firehose", TopicFirehose)
	jobs := b.Subscribe("jobs", TopicJobs)

	if err := b.OnSweepCompleted(context.Background(), 3, 15*time.Millisecond); err != nil {
		t.Fatalf("OnSweepCompleted: %v", err)
	}

	evt := receive(t, firehose)
	if evt.Type != EventSweepCompleted {
		t.Fatalf("Type = %q, want %q", evt.Type, EventSweepCompleted)
	}
	var data SweepEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.Dispatched != 3 || data.ElapsedMs != 15 {
		t.Errorf("payload = %+v", data)
	}
	expectNothing(t, jobs)
}

func TestBrokerDeduplicatesAcrossTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	j := testJob()
	sub := b.Subscribe("s", TopicFirehose, TopicJobs, JobTopic(j.ID.String()))

	_ = b.OnJobStarted(context.Background(), j)

	receive(t, sub)
	expectNothing(t, sub)
	if got := b.Stats().TotalPublished; got != 1 {
		t.Errorf("TotalPublished = %d, want 1", got)
	}
}

func TestBrokerDropsOnFullBuffer(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithBufferSize(1))
	sub := b.Subscribe("slow", TopicJobs)
	j := testJob()

	_ = b.OnJobStarted(context.Background(), j)
	_ = b.OnJobCompleted(context.Background(), j, time.Millisecond)

	stats := b.Stats()
	if stats.TotalPublished != 1 || stats.TotalDropped != 1 {
		t.Errorf("stats = %+v, want 1 published and 1 dropped", stats)
	}
	if evt := receive(t, sub); evt.Type != EventJobStarted {
		t.Errorf("Type = %q, want the first event", evt.Type)
	}
}

func TestBrokerRemoveSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("s", TopicJobs)
	b.RemoveSubscriber("s")

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed after removal")
	}
	if stats := b.Stats(); stats.SubscriberCount != 0 || stats.TopicCount != 0 {
		t.Errorf("stats = %+v, want no subscribers or topics", stats)
	}

	// Publishing after removal is harmless.
	_ = b.OnJobCreated(context.Background(), testJob())
}

func TestBrokerShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	a := b.Subscribe("a", TopicFirehose)
	c := b.Subscribe("c", TopicJobs)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}
	for _, sub := range []*Subscriber{a, c} {
		if _, ok := <-sub.C(); ok {
			t.Errorf("%s: channel still open after shutdown", sub.ID())
		}
	}
}

func TestValidateTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic   string
		wantErr bool
	}{
		{TopicJobs, false},
		{TopicFirehose, false},
		{"job:job_01h2xcejqtf2nbrexx3vqjhp41", false},
		{"queue:EMAIL_SHIPPED", false},
		{"queue:SMS", true},
		{"job:", true},
		{"order:abc", true},
		{"everything", true},
	}
	for _, tt := range tests {
		err := ValidateTopic(tt.topic)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTopic(%q) err = %v, wantErr %v", tt.topic, err, tt.wantErr)
		}
	}
}

package job_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/job"
)

func TestJob_State(t *testing.T) {
	tests := []struct {
		name string
		j    job.Job
		want job.State
	}{
		{"fresh", job.Job{}, job.StatePending},
		{"locked", job.Job{Locked: true}, job.StateRunning},
		{"done", job.Job{Complete: true}, job.StateDone},
		{"failed", job.Job{Complete: true, CompletedWithFailure: true}, job.StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.j.State(); got != tt.want {
				t.Errorf("State() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJob_Eligible(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		j    job.Job
		want bool
	}{
		{"due", job.Job{RunAt: now}, true},
		{"past", job.Job{RunAt: now.Add(-time.Hour)}, true},
		{"future", job.Job{RunAt: now.Add(time.Second)}, false},
		{"locked", job.Job{RunAt: now, Locked: true}, false},
		{"complete", job.Job{RunAt: now, Complete: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.j.Eligible(now); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_CloneIsDeep(t *testing.T) {
	ts := time.Now()
	orig := &job.Job{ActorID: "order-1", LockedAt: &ts}
	cp := orig.Clone()

	*cp.LockedAt = ts.Add(time.Hour)
	cp.ActorID = "order-2"

	if !orig.LockedAt.Equal(ts) {
		t.Error("mutating clone changed original LockedAt")
	}
	if orig.ActorID != "order-1" {
		t.Error("mutating clone changed original ActorID")
	}
}

func TestNew(t *testing.T) {
	now := time.Now().UTC()
	j := job.New("order-1", job.QueueEmailConfirm, now, now)

	if j.ID.IsNil() {
		t.Fatal("expected an ID")
	}
	if j.Locked || j.Complete || j.Attempts != 0 {
		t.Errorf("new job not pending: %+v", j)
	}
	if !j.RunAt.Equal(now) {
		t.Errorf("RunAt = %v, want %v", j.RunAt, now)
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []string{"", "pending", "running", "done", "failed"} {
		if _, err := job.ParseState(s); err != nil {
			t.Errorf("ParseState(%q): %v", s, err)
		}
	}
	if _, err := job.ParseState("retrying"); !errors.Is(err, delayed.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestQueue(t *testing.T) {
	for _, q := range job.Queues() {
		if !q.Valid() {
			t.Errorf("%q should be valid", q)
		}
		parsed, err := job.ParseQueue(string(q))
		if err != nil || parsed != q {
			t.Errorf("ParseQueue(%q) = %q, %v", q, parsed, err)
		}
	}

	for _, bad := range []string{"", "email_confirm", "SEND_SPAM"} {
		if _, err := job.ParseQueue(bad); !errors.Is(err, delayed.ErrInvalidQueue) {
			t.Errorf("ParseQueue(%q): expected ErrInvalidQueue, got %v", bad, err)
		}
	}

	var q job.Queue
	if err := q.UnmarshalText([]byte("NOPE")); err == nil {
		t.Error("UnmarshalText accepted an unknown queue")
	}
}

func TestResolveRunAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	at := now.Add(time.Hour)

	tests := []struct {
		name string
		opts []job.Option
		want time.Time
	}{
		{"default", nil, now},
		{"delay", []job.Option{job.WithDelay(time.Minute)}, now.Add(time.Minute)},
		{"run at", []job.Option{job.WithRunAt(at)}, at},
		{"run at wins", []job.Option{job.WithDelay(time.Minute), job.WithRunAt(at)}, at},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := job.ResolveRunAt(now, tt.opts...); !got.Equal(tt.want) {
				t.Errorf("ResolveRunAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

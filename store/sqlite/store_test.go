package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
	"github.com/xraph/delayed/store/sqlite"
	"github.com/xraph/delayed/store/storetest"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	ctx := context.Background()
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "delayed.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) job.Store { return openTestStore(t) })
}

func TestMigrateIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestQueueCheckConstraint(t *testing.T) {
	s := openTestStore(t)

	j := storetest.NewJob("order-1", job.Queue("NOT_A_QUEUE"), 0)
	err := s.CreateJob(context.Background(), j)
	if err == nil {
		t.Fatal("expected the queue CHECK constraint to reject an unknown queue")
	}
	if errors.Is(err, delayed.ErrJobAlreadyExists) {
		t.Fatalf("constraint violation misreported as duplicate: %v", err)
	}
}

func TestAcquireUnreadableRowReleasesLock(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	j := storetest.NewJob("order-1", job.QueueEmailConfirm, 0)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx,
		`UPDATE delayed_jobs SET created_at = 'yesterday' WHERE id = ?`, j.ID.String()); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	got, ok, err := s.AcquireJob(ctx, j.ID, id.NewLockID(), time.Now())
	if err == nil || ok || got != nil {
		t.Fatalf("AcquireJob = %v, %v, %v; want an error", got, ok, err)
	}

	var locked bool
	var lockID sql.NullString
	if err := s.DB().QueryRowContext(ctx,
		`SELECT locked, lock_id FROM delayed_jobs WHERE id = ?`, j.ID.String()).Scan(&locked, &lockID); err != nil {
		t.Fatalf("read row: %v", err)
	}
	if locked || lockID.Valid {
		t.Errorf("row left locked=%v lock_id=%q after a failed acquire", locked, lockID.String)
	}
}

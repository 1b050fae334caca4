package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/delayed/job"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// stateClause translates a derived state into a WHERE fragment.
func stateClause(s job.State) string {
	switch s {
	case job.StatePending:
		return "NOT complete AND NOT locked"
	case job.StateRunning:
		return "NOT complete AND locked"
	case job.StateDone:
		return "complete AND NOT completed_with_failure"
	case job.StateFailed:
		return "complete AND completed_with_failure"
	default:
		return "TRUE"
	}
}

package sqlite

type migration struct {
	version string
	name    string
	up      []string
}

// migrations is the ordered schema history of the sqlite store.
var migrations = []migration{
	{
		version: "20250301120000",
		name:    "create_jobs_table",
		up: []string{
			`CREATE TABLE IF NOT EXISTS delayed_jobs (
				id                     TEXT PRIMARY KEY,
				actor_id               TEXT NOT NULL,
				queue                  TEXT NOT NULL CHECK (queue IN (
				                           'EMAIL_CONFIRM',
				                           'EMAIL_SHIPPED',
				                           'EMAIL_CANCELLED',
				                           'PAYMENT_RECONCILE'
				                       )),
				run_at                 TEXT NOT NULL,
				locked                 INTEGER NOT NULL DEFAULT 0,
				locked_at              TEXT,
				lock_id                TEXT,
				attempts               INTEGER NOT NULL DEFAULT 0,
				complete               INTEGER NOT NULL DEFAULT 0,
				completed_at           TEXT,
				completed_with_failure INTEGER NOT NULL DEFAULT 0,
				failure_reason         TEXT NOT NULL DEFAULT '',
				last_error             TEXT NOT NULL DEFAULT '',
				failed_at              TEXT,
				retry_reason           TEXT NOT NULL DEFAULT '',
				created_at             TEXT NOT NULL,
				updated_at             TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_delayed_jobs_eligible
				ON delayed_jobs (run_at)
				WHERE locked = 0 AND complete = 0`,
			`CREATE INDEX IF NOT EXISTS idx_delayed_jobs_queue_created
				ON delayed_jobs (queue, created_at)`,
		},
	},
}

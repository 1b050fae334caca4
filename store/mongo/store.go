package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/store"
)

// Collection name constants.
const colJobs = "delayed_jobs"

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a store.Store implementation on the official MongoDB driver.
// The caller owns the client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store over db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates the job collection indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.jobs().Indexes().CreateMany(ctx, migrationIndexes())
	if err != nil {
		return fmt.Errorf("%w: %s indexes: %w", delayed.ErrMigrationFailed, colJobs, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

func (s *Store) jobs() *mongod.Collection {
	return s.db.Collection(colJobs)
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

// migrationIndexes returns the index definitions for the job collection.
func migrationIndexes() []mongod.IndexModel {
	return []mongod.IndexModel{
		// Sweep index: eligibility flags + run_at.
		{Keys: bson.D{
			{Key: "complete", Value: 1},
			{Key: "locked", Value: 1},
			{Key: "run_at", Value: 1},
		}},
		// Listing index.
		{Keys: bson.D{
			{Key: "queue", Value: 1},
			{Key: "created_at", Value: 1},
		}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
		// Reclaim index.
		{Keys: bson.D{
			{Key: "locked", Value: 1},
			{Key: "locked_at", Value: 1},
		}},
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/delayed/event"
	"github.com/xraph/delayed/event/pgnotify"
	"github.com/xraph/delayed/event/redisbus"
	"github.com/xraph/delayed/store"
	bunstore "github.com/xraph/delayed/store/bun"
	"github.com/xraph/delayed/store/memory"
	mongostore "github.com/xraph/delayed/store/mongo"
	pgstore "github.com/xraph/delayed/store/postgres"
	redisstore "github.com/xraph/delayed/store/redis"
	"github.com/xraph/delayed/store/sqlite"
)

type backendFlags struct {
	store     string
	dsn       string
	database  string
	bus       string
	redisAddr string
}

// backend holds an opened store, an optional cross-replica bus, and the
// connections they were built on. The store itself is closed by whoever
// runs it (Engine.Stop or the migrate command); Close releases the rest.
type backend struct {
	store  store.Store
	bus    event.Bus
	pgPool *pgxpool.Pool
	redis  *goredis.Client

	closers []func() error
}

func openBackend(ctx context.Context, f *backendFlags, logger *slog.Logger) (*backend, error) {
	b := &backend{}
	if err := b.openStore(ctx, f, logger); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := b.openBus(ctx, f, logger); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backend) openStore(ctx context.Context, f *backendFlags, logger *slog.Logger) error {
	switch f.store {
	case "memory":
		b.store = memory.New()

	case "postgres":
		s, err := pgstore.New(ctx, f.dsn, pgstore.WithLogger(logger))
		if err != nil {
			return err
		}
		b.store = s
		b.pgPool = s.Pool()

	case "bun":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(f.dsn)))
		db := bun.NewDB(sqldb, pgdialect.New())
		b.store = bunstore.New(db, bunstore.WithLogger(logger))
		b.closers = append(b.closers, db.Close)

	case "sqlite":
		s, err := sqlite.Open(ctx, f.dsn, sqlite.WithLogger(logger))
		if err != nil {
			return err
		}
		b.store = s

	case "redis":
		client := b.redisClient(f)
		b.store = redisstore.New(client, redisstore.WithLogger(logger))

	case "mongo":
		client, err := mongod.Connect(options.Client().ApplyURI(f.dsn))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		b.closers = append(b.closers, func() error {
			return client.Disconnect(context.Background())
		})
		b.store = mongostore.New(client.Database(f.database), mongostore.WithLogger(logger))

	default:
		return fmt.Errorf("unknown store %q (memory, postgres, bun, sqlite, redis, mongo)", f.store)
	}
	return nil
}

func (b *backend) openBus(ctx context.Context, f *backendFlags, logger *slog.Logger) error {
	switch f.bus {
	case "", "local":
		return nil

	case "redis":
		b.bus = redisbus.New(b.redisClient(f), redisbus.WithLogger(logger))

	case "pg":
		if b.pgPool == nil {
			pool, err := pgxpool.New(ctx, f.dsn)
			if err != nil {
				return fmt.Errorf("connect postgres bus: %w", err)
			}
			b.pgPool = pool
			b.closers = append(b.closers, func() error { pool.Close(); return nil })
		}
		b.bus = pgnotify.New(b.pgPool, pgnotify.WithLogger(logger))

	default:
		return fmt.Errorf("unknown bus %q (local, redis, pg)", f.bus)
	}
	b.closers = append(b.closers, b.bus.Close)
	return nil
}

func (b *backend) redisClient(f *backendFlags) *goredis.Client {
	if b.redis == nil {
		b.redis = goredis.NewClient(&goredis.Options{Addr: f.redisAddr})
		b.closers = append(b.closers, b.redis.Close)
	}
	return b.redis
}

// Close releases everything in reverse order of opening.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

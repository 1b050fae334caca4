// Package postgres implements the store using pgx/v5 with raw SQL.
//
// Acquisition is a single conditional UPDATE ... RETURNING, so the database
// row is the only lock between replicas. Schema changes ship as embedded
// SQL files applied in filename order and tracked in delayed_migrations.
package postgres

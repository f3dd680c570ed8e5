// Package database manages the PostgreSQL connection used by notifyd.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/notifyd/notifyd/internal/telemetry"
)

// DB wraps sql.DB with transaction and health helpers.
type DB struct {
	*sql.DB
}

// Open opens a pooled connection from a lib/pq DSN or URL.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configurePool(db)
	return &DB{db}, nil
}

// OpenInstrumented opens a connection instrumented with OpenTelemetry.
func OpenInstrumented(dsn, dbName string) (*DB, error) {
	db, err := otelsql.Open("postgres", dsn,
		otelsql.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBName(dbName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open instrumented database: %w", err)
	}
	configurePool(db)

	if err := otelsql.RegisterDBStatsMetrics(db,
		otelsql.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBName(dbName),
		),
	); err != nil {
		telemetry.GetGlobalLogger().WithError(err).Warn("Failed to register database stats")
	}

	return &DB{db}, nil
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)
}

// WaitReady pings the database until it responds or the context expires.
func (db *DB) WaitReady(ctx context.Context, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		if err := db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return fmt.Errorf("database not reachable after %d retries", maxRetries)
}

// Health reports connection liveness.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// WithTransaction runs fn inside a transaction, committing on nil error
// and rolling back on error or panic.
func (db *DB) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}

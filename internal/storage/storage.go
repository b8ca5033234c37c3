// Package storage provides the SQL persistence for the deal engine: the
// pricing document repository, analysis run records and schema migrations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Common errors
var (
	ErrNotFound          = errors.New("record not found")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB represents a database connection interface. Both *sql.DB and *sql.Tx
// satisfy it.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite, "":
		sqlDriver = "sqlite3"
	case DriverPostgres:
		sqlDriver = "postgres"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if sqlDriver == "sqlite3" {
		// one writer keeps sqlite from returning SQLITE_BUSY under the merge transaction
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

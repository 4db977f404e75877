package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"chatfunnel/internal/migrations"
	"chatfunnel/internal/models"
	"chatfunnel/internal/security"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Database is the persistent store for conversations, messages, identity
// mappings, funnel states and the delivery queue. It runs on sqlite for
// single-node deployments and postgres for shared ones; queries are
// written with ? placeholders and rebound for postgres.
type Database struct {
	db        *sql.DB
	driver    string
	encryptor *encryptor
}

func New(cfg models.DatabaseConfig) (*Database, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("missing database DSN")
	}

	if driver == DriverSQLite && cfg.DSN != ":memory:" {
		if err := security.ValidateFilePath(cfg.DSN); err != nil {
			return nil, fmt.Errorf("invalid database path: %w", err)
		}
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite && strings.Contains(cfg.DSN, ":memory:") {
		// Pooled connections would each open a private in-memory db.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.Schema()); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, driver: driver, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the underlying connection is still usable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// rebind converts ? placeholders to $1..$n for postgres. Sqlite queries
// pass through untouched.
func (d *Database) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *Database) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.rebind(query), args...)
}

func (d *Database) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.db.QueryRowContext(ctx, d.rebind(query), args...)
}

func (d *Database) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.rebind(query), args...)
}

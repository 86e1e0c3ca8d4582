// Package storage persists OAuth credentials in SQLite or PostgreSQL.
//
// SQLite is served by github.com/mattn/go-sqlite3 and PostgreSQL by
// github.com/jackc/pgx/v5 through its database/sql driver. Both backends share one
// table and the same queries; only parameter placeholders differ.
//
// Example usage:
//
//	store, err := storage.Open(ctx, storage.Config{Type: storage.TypeSQLite, Path: "tokens.db"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Type selects the database backend
type Type string

const (
	TypeSQLite   Type = "sqlite"
	TypePostgres Type = "postgres"
)

// Config holds database connection settings
type Config struct {
	Type Type

	// SQLite
	Path string

	// PostgreSQL
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// PostgresDSN builds the pgx connection string
func (c Config) PostgresDSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// Open connects to the configured database and applies migrations
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	var (
		db      *sql.DB
		dialect dialect
		err     error
	)

	switch cfg.Type {
	case TypeSQLite, "sqlite3":
		if cfg.Path == "" {
			return nil, fmt.Errorf("database path is required for sqlite")
		}
		db, err = sql.Open("sqlite3", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		// one writer at a time keeps SQLite from returning SQLITE_BUSY
		db.SetMaxOpenConns(1)
		dialect = sqliteDialect

	case TypePostgres, "postgresql":
		connConfig, parseErr := pgx.ParseConfig(cfg.PostgresDSN())
		if parseErr != nil {
			return nil, fmt.Errorf("invalid PostgreSQL configuration: %w", parseErr)
		}
		db = stdlib.OpenDB(*connConfig)
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
		dialect = postgresDialect

	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	store := &SQLStore{db: db, dialect: dialect}

	if err := store.Health(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Type, err)
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

type dialect int

const (
	sqliteDialect dialect = iota
	postgresDialect
)

// SQLStore is a key/value table of credential documents with an expiry column
// for lookups ahead of expiry. Each Put is one UPSERT statement, so readers never
// observe a partially written row.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLStore wraps an already opened database. The caller picks the dialect
// with postgres; migrations are applied.
func NewSQLStore(ctx context.Context, db *sql.DB, postgres bool) (*SQLStore, error) {
	d := sqliteDialect
	if postgres {
		d = postgresDialect
	}
	store := &SQLStore{db: db, dialect: d}
	if err := store.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS oauth_tokens (
    account TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    expires_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oauth_tokens_expires_at ON oauth_tokens(expires_at);
`

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.dialect != postgresDialect {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get returns the stored document for key. found is false when there is none.
func (s *SQLStore) Get(ctx context.Context, key string) (value string, found bool, err error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT payload FROM oauth_tokens WHERE account = ?`), key)
	if err := row.Scan(&value); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Put inserts or replaces the document for key
func (s *SQLStore) Put(ctx context.Context, key, value string, expiresAt time.Time) error {
	query := s.rebind(`
INSERT INTO oauth_tokens (account, payload, expires_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (account) DO UPDATE SET
    payload = excluded.payload,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at`)

	_, err := s.db.ExecContext(ctx, query, key, value, expiresAt.Unix(), time.Now().Unix())
	return err
}

// Delete removes the document for key. Deleting a missing key is not an error.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM oauth_tokens WHERE account = ?`), key)
	return err
}

// KeysExpiringBefore lists keys whose expiry is at or before the given instant,
// soonest first
func (s *SQLStore) KeysExpiringBefore(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT account FROM oauth_tokens WHERE expires_at <= ? ORDER BY expires_at`),
		before.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Health pings the database
func (s *SQLStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jengzang/dining-presence-go/internal/database"
)

// SQLite stores values in the kv table
type SQLite struct {
	db      *sql.DB
	version int
	logger  *zap.Logger
}

// NewSQLite creates a store over an opened, migrated database
func NewSQLite(db *sql.DB, logger *zap.Logger) *SQLite {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLite{db: db, version: SchemaVersion, logger: logger}
}

// Get retrieves the value of key
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT value, schema_version FROM kv WHERE key = ?", key).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if version != s.version {
		s.logger.Warn("ignoring value from another schema version",
			zap.String("key", key), zap.Int("version", version), zap.Int("want", s.version))
		return nil, ErrNotFound
	}
	return value, nil
}

// Set writes value under key
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	return database.Transaction(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, schema_version, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				schema_version = excluded.schema_version,
				updated_at = excluded.updated_at
		`, key, value, s.version)
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	return database.Transaction(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		return nil
	})
}

// GetMany retrieves every present key in one query
func (s *SQLite) GetMany(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	query := "SELECT key, value, schema_version FROM kv WHERE key IN (?" + strings.Repeat(", ?", len(keys)-1) + ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		var version int
		if err := rows.Scan(&key, &value, &version); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		if version != s.version {
			s.logger.Warn("ignoring value from another schema version", zap.String("key", key), zap.Int("version", version))
			continue
		}
		out[key] = value
	}

	return out, rows.Err()
}

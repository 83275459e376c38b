package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestOpen_AppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "presence.db")

	db, err := Open(ctx, Config{Path: path}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	db.Close()

	// reopening must not re-run 001
	db, err = Open(ctx, Config{Path: path}, zap.NewNop())
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 applied migration, got %d", n)
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "tx.db")}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	boom := errors.New("boom")
	err = Transaction(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO kv (key, value, schema_version) VALUES ('a', 'x', 1)"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction() error = %v, want boom", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM kv").Scan(&n); err != nil {
		t.Fatalf("count kv: %v", err)
	}
	if n != 0 {
		t.Errorf("expected rollback, found %d rows", n)
	}
}

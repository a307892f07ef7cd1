package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore is a SQLite implementation of the VerdictStore interface
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (and if needed creates) a SQLite verdict store
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// one writer at a time; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	err = execAll(db, `
		CREATE TABLE IF NOT EXISTS verdict_cache (
			fingerprint TEXT PRIMARY KEY,
			verdict TEXT NOT NULL,
			inserted_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`, `
		CREATE INDEX IF NOT EXISTS idx_verdict_cache_expires_at ON verdict_cache(expires_at)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &SQLiteStore{sqlStore{
		db: db,
		upsert: `
			INSERT OR REPLACE INTO verdict_cache (fingerprint, verdict, inserted_at, expires_at)
			VALUES (?, ?, ?, ?)
		`,
		logger: logger,
		now:    time.Now,
	}}, nil
}

package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the VerdictStore interface
type MySQLStore struct {
	sqlStore
}

// NewMySQLStore connects to MySQL and creates the verdict table if needed
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	err = execAll(db, `
		CREATE TABLE IF NOT EXISTS verdict_cache (
			fingerprint CHAR(64) PRIMARY KEY,
			verdict TEXT NOT NULL,
			inserted_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL,
			INDEX idx_expires_at (expires_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MySQLStore{sqlStore{
		db: db,
		upsert: `
			INSERT INTO verdict_cache (fingerprint, verdict, inserted_at, expires_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				verdict = VALUES(verdict),
				inserted_at = VALUES(inserted_at),
				expires_at = VALUES(expires_at)
		`,
		logger: logger,
		now:    time.Now,
	}}, nil
}

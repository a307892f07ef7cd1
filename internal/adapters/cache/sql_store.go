package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

// sqlStore is the verdict store shared by the SQL dialects
type sqlStore struct {
	db     *sql.DB
	upsert string
	logger *zap.Logger
	now    func() time.Time
}

// Get retrieves an unexpired entry for a fingerprint
func (s *sqlStore) Get(ctx context.Context, fp core.Fingerprint) (*core.CacheEntry, error) {
	var data string
	var insertedAt, expiresAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT verdict, inserted_at, expires_at
		FROM verdict_cache
		WHERE fingerprint = ? AND expires_at > ?
	`, fp.String(), s.now().UnixMilli()).Scan(&data, &insertedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, unavailable("query verdict cache", err)
	}

	v, err := decodeVerdict(fp, data)
	if err != nil {
		s.logger.Error("Dropping undecodable cache entry", zap.String("fingerprint", fp.String()), zap.Error(err))
		_ = s.Delete(ctx, fp)
		return nil, core.ErrNotFound
	}

	return &core.CacheEntry{
		Fingerprint: fp,
		Verdict:     v,
		InsertedAt:  time.UnixMilli(insertedAt).UTC(),
		ExpiresAt:   time.UnixMilli(expiresAt).UTC(),
	}, nil
}

// Set stores a cache entry, replacing any previous one
func (s *sqlStore) Set(ctx context.Context, entry *core.CacheEntry) error {
	data, err := encodeVerdict(entry.Verdict)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.upsert,
		entry.Fingerprint.String(), data, entry.InsertedAt.UnixMilli(), entry.ExpiresAt.UnixMilli())
	if err != nil {
		return unavailable("insert cache entry", err)
	}
	return nil
}

// Delete removes a cache entry
func (s *sqlStore) Delete(ctx context.Context, fp core.Fingerprint) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM verdict_cache WHERE fingerprint = ?`, fp.String()); err != nil {
		return unavailable("delete cache entry", err)
	}
	return nil
}

// Cleanup removes expired entries
func (s *sqlStore) Cleanup(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM verdict_cache WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return unavailable("clean up expired entries", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
	} else {
		s.logger.Debug("Cleaned up expired store entries", zap.Int64("expired_count", rowsAffected))
	}
	return nil
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

func execAll(db *sql.DB, statements ...string) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

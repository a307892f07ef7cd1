package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

var schemas = map[string]string{
	"sqlite3": `
		CREATE TABLE IF NOT EXISTS tenant_tiers (
			tenant_id TEXT PRIMARY KEY,
			plan TEXT NOT NULL,
			request_limit INTEGER NOT NULL,
			window_seconds INTEGER NOT NULL
		)
	`,
	"mysql": `
		CREATE TABLE IF NOT EXISTS tenant_tiers (
			tenant_id VARCHAR(255) PRIMARY KEY,
			plan VARCHAR(64) NOT NULL,
			request_limit INT NOT NULL,
			window_seconds INT NOT NULL
		)
	`,
}

var upserts = map[string]string{
	"sqlite3": `
		INSERT OR REPLACE INTO tenant_tiers (tenant_id, plan, request_limit, window_seconds)
		VALUES (?, ?, ?, ?)
	`,
	"mysql": `
		INSERT INTO tenant_tiers (tenant_id, plan, request_limit, window_seconds)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			plan = VALUES(plan),
			request_limit = VALUES(request_limit),
			window_seconds = VALUES(window_seconds)
	`,
}

// SQLProvider reads tenant tiers from a tenant_tiers table kept by the billing system
type SQLProvider struct {
	db     *sql.DB
	upsert string
	logger *zap.Logger
}

// NewSQLProvider opens the database and creates the table if needed. Driver is "sqlite3" or "mysql".
func NewSQLProvider(driver, dsn string, logger *zap.Logger) (*SQLProvider, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported tenant database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant database: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to tenant database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	logger.Info("Tenant tier database ready", zap.String("driver", driver))
	return &SQLProvider{db: db, upsert: upserts[driver], logger: logger}, nil
}

// GetTier returns the stored tier of a tenant, or ErrNotFound
func (p *SQLProvider) GetTier(ctx context.Context, tenantID string) (core.TierInfo, error) {
	var tier core.TierInfo
	err := p.db.QueryRowContext(ctx, `
		SELECT plan, request_limit, window_seconds
		FROM tenant_tiers
		WHERE tenant_id = ?
	`, tenantID).Scan(&tier.Plan, &tier.Limit, &tier.WindowSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TierInfo{}, fmt.Errorf("%w: tenant %s", core.ErrNotFound, tenantID)
	}
	if err != nil {
		return core.TierInfo{}, fmt.Errorf("failed to query tenant tier: %w", err)
	}
	return tier, nil
}

// SetTier stores or replaces a tenant's tier
func (p *SQLProvider) SetTier(ctx context.Context, tenantID string, tier core.TierInfo) error {
	if _, err := p.db.ExecContext(ctx, p.upsert, tenantID, tier.Plan, tier.Limit, tier.WindowSeconds); err != nil {
		return fmt.Errorf("failed to store tenant tier: %w", err)
	}
	return nil
}

// Close closes the database
func (p *SQLProvider) Close() error {
	return p.db.Close()
}

package ports

import (
	"context"

	"github.com/mikey/phishguard/internal/core"
)

// Analyzer produces verdicts for tenant submissions
type Analyzer interface {
	// Analyze admits the request against the tenant quota and returns its verdict
	Analyze(ctx context.Context, req *core.AnalysisRequest) (*core.Verdict, error)

	// Usage reports the tenant's quota consumption in the current window
	Usage(ctx context.Context, tenantID string) (*core.QuotaUsage, error)
}

// EmailFilter defines the interface for an intake surface
type EmailFilter interface {
	// ProcessEmail analyzes one submission and returns its verdict
	ProcessEmail(ctx context.Context, req *core.AnalysisRequest) (*core.Verdict, error)

	// Start starts the email filter service
	Start() error

	// Stop stops the email filter service
	Stop() error
}

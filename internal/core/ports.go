package core

import (
	"context"
	"time"
)

// ScoringBackend produces a risk score for email text
type ScoringBackend interface {
	// Name returns the backend name recorded on results
	Name() string

	// Score returns a risk score in [0,1] for the given text and features
	Score(ctx context.Context, text string, features FeatureSet) (*ClassifierResult, error)
}

// VerdictStore is a persistent second-tier verdict store
type VerdictStore interface {
	// Get retrieves a cached entry for a fingerprint, ErrNotFound when absent or expired
	Get(ctx context.Context, fp Fingerprint) (*CacheEntry, error)

	// Set stores a cache entry
	Set(ctx context.Context, entry *CacheEntry) error

	// Delete removes a cache entry
	Delete(ctx context.Context, fp Fingerprint) error

	// Cleanup removes expired entries
	Cleanup(ctx context.Context) error

	// Close releases the underlying connection
	Close() error
}

// TierProvider supplies subscription tiers for tenants
type TierProvider interface {
	GetTier(ctx context.Context, tenantID string) (TierInfo, error)
}

// Normalizer canonicalizes raw email content
type Normalizer interface {
	Normalize(content EmailContent) *NormalizedContent
}

// FeatureExtractor derives heuristic signals from normalized content
type FeatureExtractor interface {
	Extract(content *NormalizedContent) FeatureSet
}

// Classifier scores normalized content, falling back to heuristics when the backend fails
type Classifier interface {
	Classify(ctx context.Context, content *NormalizedContent, features FeatureSet) *ClassifierResult
}

// Aggregator turns a classifier result and features into a verdict
type Aggregator interface {
	Aggregate(result *ClassifierResult, features FeatureSet, fp Fingerprint) *Verdict
}

// QuotaGate admits or rejects tenant requests against their window budget
type QuotaGate interface {
	// Admit consumes one unit of the tenant's budget or returns ErrQuotaExceeded
	Admit(ctx context.Context, tenantID string) (*Admission, error)

	// Usage reports the tenant's consumption in the current window
	Usage(ctx context.Context, tenantID string) (*QuotaUsage, error)
}

// VerdictCache maps fingerprints to verdicts with at most one computation in flight per fingerprint
type VerdictCache interface {
	Lookup(ctx context.Context, fp Fingerprint) (*Verdict, bool)
	Store(ctx context.Context, fp Fingerprint, tenantID string, verdict *Verdict)
	Resolve(ctx context.Context, fp Fingerprint, tenantID string, compute func(ctx context.Context) (*Verdict, error)) (*Verdict, bool, error)
	Accessors(fp Fingerprint) []string
}

// AnalysisObserver receives orchestrator events, usually backed by metrics
type AnalysisObserver interface {
	ObserveAnalysis(category string, cached, degraded bool, elapsed time.Duration)
	QuotaRejected()
}

package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// FingerprintFunc computes the cache key of normalized content
type FingerprintFunc func(content *NormalizedContent) Fingerprint

// AnalysisService is the core service that turns tenant submissions into verdicts
type AnalysisService struct {
	gate        QuotaGate
	normalizer  Normalizer
	fingerprint FingerprintFunc
	extractor   FeatureExtractor
	classifier  Classifier
	aggregator  Aggregator
	cache       VerdictCache
	observer    AnalysisObserver
	logger      *zap.Logger
	now         func() time.Time
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(
	gate QuotaGate,
	normalizer Normalizer,
	fingerprint FingerprintFunc,
	extractor FeatureExtractor,
	classifier Classifier,
	aggregator Aggregator,
	cache VerdictCache,
	observer AnalysisObserver,
	logger *zap.Logger,
) *AnalysisService {
	return &AnalysisService{
		gate:        gate,
		normalizer:  normalizer,
		fingerprint: fingerprint,
		extractor:   extractor,
		classifier:  classifier,
		aggregator:  aggregator,
		cache:       cache,
		observer:    observer,
		logger:      logger,
		now:         time.Now,
	}
}

// Analyze admits the request against the tenant's quota and returns its verdict.
// Every admitted request counts toward the quota, including cache hits.
func (s *AnalysisService) Analyze(ctx context.Context, req *AnalysisRequest) (*Verdict, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant", ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := s.now()

	if _, err := s.gate.Admit(ctx, req.TenantID); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			s.observer.QuotaRejected()
		}
		return nil, err
	}

	normalized := s.normalizer.Normalize(req.Content)
	fp := s.fingerprint(normalized)

	verdict, cached, err := s.cache.Resolve(ctx, fp, req.TenantID, func(ctx context.Context) (*Verdict, error) {
		features := s.extractor.Extract(normalized)
		result := s.classifier.Classify(ctx, normalized, features)
		return s.aggregator.Aggregate(result, features, fp), nil
	})
	if err != nil {
		return nil, err
	}

	elapsed := s.now().Sub(start)
	s.observer.ObserveAnalysis(string(verdict.Category), cached, verdict.Degraded, elapsed)

	s.logger.Debug("Email analyzed",
		zap.String("request_id", req.ID),
		zap.String("tenant", req.TenantID),
		zap.String("fingerprint", fp.String()),
		zap.String("category", string(verdict.Category)),
		zap.Float64("score", verdict.Score),
		zap.Bool("cached", cached),
		zap.Bool("degraded", verdict.Degraded),
		zap.Duration("elapsed", elapsed))

	return verdict.Clone(), nil
}

// Usage reports a tenant's quota consumption without consuming any of it
func (s *AnalysisService) Usage(ctx context.Context, tenantID string) (*QuotaUsage, error) {
	return s.gate.Usage(ctx, tenantID)
}

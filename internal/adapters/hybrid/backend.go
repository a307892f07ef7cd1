package hybrid

import (
	"context"

	"github.com/mikey/phishguard/internal/adapters/rules"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/features"
	"go.uber.org/zap"
)

// Backend is the name reported on results of the hybrid backend
const Backend = "hybrid"

// Gray zone of rule scores worth a second opinion
const (
	GrayZoneLow  = 0.2
	GrayZoneHigh = 0.8
	// FactorBoost is added to the rule score for each extra factor the model finds
	FactorBoost = 0.05
)

// HybridBackend scores with the rule engine and consults an LLM only for uncertain messages
type HybridBackend struct {
	rules  *rules.Engine
	llm    core.ScoringBackend
	logger *zap.Logger
}

// NewHybridBackend creates a new hybrid backend
func NewHybridBackend(llm core.ScoringBackend, logger *zap.Logger) *HybridBackend {
	return &HybridBackend{
		rules:  rules.NewEngine(),
		llm:    llm,
		logger: logger,
	}
}

// Name returns the backend name
func (b *HybridBackend) Name() string {
	return Backend
}

// Close releases the wrapped LLM client if it holds a connection
func (b *HybridBackend) Close() error {
	if closer, ok := b.llm.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// ShouldConsult reports whether a rule score is uncertain enough to ask the model.
// Inside the gray zone the model is asked when few factors explain the score, or
// when the score sits in the middle band.
func ShouldConsult(score float64, factors []string) bool {
	if score < GrayZoneLow || score > GrayZoneHigh {
		return false
	}
	if len(factors) < 3 {
		return true
	}
	return score >= 0.4 && score <= 0.6
}

// Score runs the rule engine and, in the gray zone, adds the model's findings
func (b *HybridBackend) Score(ctx context.Context, text string, fs core.FeatureSet) (*core.ClassifierResult, error) {
	base, err := b.rules.Score(ctx, text, fs)
	if err != nil {
		return nil, err
	}
	base.Backend = Backend

	if b.llm == nil || !ShouldConsult(base.Score, base.Rationale) {
		return base, nil
	}

	extra, err := b.llm.Score(ctx, text, fs)
	if err != nil {
		b.logger.Warn("LLM analysis failed, keeping rule score",
			zap.String("llm", b.llm.Name()),
			zap.Error(err))
		return base, nil
	}

	result := &core.ClassifierResult{
		Score:      features.Clamp(base.Score + FactorBoost*float64(len(extra.Rationale))),
		Rationale:  append([]string{}, base.Rationale...),
		Confidence: max(base.Confidence, extra.Confidence),
		Backend:    Backend,
	}
	for _, reason := range extra.Rationale {
		result.Rationale = append(result.Rationale, b.llm.Name()+" detected: "+reason)
	}

	b.logger.Debug("Gray-zone score refined by LLM",
		zap.Float64("rule_score", base.Score),
		zap.Float64("score", result.Score),
		zap.Int("llm_factors", len(extra.Rationale)))
	return result, nil
}

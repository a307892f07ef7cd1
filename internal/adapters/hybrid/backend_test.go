package hybrid

import (
	"context"
	"errors"
	"testing"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLLM struct {
	result *core.ClassifierResult
	err    error
	calls  int
}

func (f *fakeLLM) Name() string { return "openai" }

func (f *fakeLLM) Score(context.Context, string, core.FeatureSet) (*core.ClassifierResult, error) {
	f.calls++
	return f.result, f.err
}

func TestShouldConsult(t *testing.T) {
	tests := []struct {
		score   float64
		factors int
		want    bool
	}{
		{0.1, 0, false},
		{0.2, 1, true},
		{0.5, 4, true},
		{0.7, 4, false},
		{0.7, 2, true},
		{0.85, 1, false},
	}
	for _, tt := range tests {
		got := ShouldConsult(tt.score, make([]string, tt.factors))
		assert.Equal(t, tt.want, got, "score %.2f with %d factors", tt.score, tt.factors)
	}
}

func TestSkipsClearCases(t *testing.T) {
	llm := &fakeLLM{}
	b := NewHybridBackend(llm, zap.NewNop())

	res, err := b.Score(context.Background(), "see you at lunch", core.NewFeatureSet())
	require.NoError(t, err)
	assert.Zero(t, res.Score)
	assert.Equal(t, Backend, res.Backend)
	assert.Zero(t, llm.calls)
}

func TestGrayZoneAddsFactors(t *testing.T) {
	llm := &fakeLLM{result: &core.ClassifierResult{
		Score:      0.9,
		Confidence: 0.9,
		Rationale:  []string{"Generic greeting", "Mismatched branding"},
	}}
	b := NewHybridBackend(llm, zap.NewNop())
	fs := core.NewFeatureSet(core.BoolFeature(features.SensitiveRequest, true))

	res, err := b.Score(context.Background(), "please send your password", fs)
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls)
	assert.InDelta(t, 0.35+0.1, res.Score, 1e-9)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, []string{
		"Requests for sensitive information",
		"openai detected: Generic greeting",
		"openai detected: Mismatched branding",
	}, res.Rationale)
}

func TestLLMFailureKeepsRuleScore(t *testing.T) {
	llm := &fakeLLM{err: errors.New("rate limited")}
	b := NewHybridBackend(llm, zap.NewNop())
	fs := core.NewFeatureSet(core.BoolFeature(features.SensitiveRequest, true))

	res, err := b.Score(context.Background(), "please send your password", fs)
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls)
	assert.InDelta(t, 0.35, res.Score, 1e-9)
	assert.False(t, res.Degraded)
}

type closingLLM struct {
	fakeLLM
	closed bool
}

func (c *closingLLM) Close() error {
	c.closed = true
	return nil
}

func TestCloseReleasesLLM(t *testing.T) {
	llm := &closingLLM{}
	require.NoError(t, NewHybridBackend(llm, zap.NewNop()).Close())
	assert.True(t, llm.closed)

	assert.NoError(t, NewHybridBackend(&fakeLLM{}, zap.NewNop()).Close())
}

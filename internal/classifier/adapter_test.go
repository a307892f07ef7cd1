package classifier

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBackend struct {
	name  string
	calls atomic.Int32
	score func(ctx context.Context) (*core.ClassifierResult, error)
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Score(ctx context.Context, _ string, _ core.FeatureSet) (*core.ClassifierResult, error) {
	f.calls.Add(1)
	return f.score(ctx)
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Timeout = 50 * time.Millisecond
	s.ConsecutiveFailures = 3
	s.OpenTimeout = time.Minute
	return s
}

func testFeatures() core.FeatureSet {
	return core.NewFeatureSet(
		core.BoolFeature(features.DomainMismatch, true),
		core.NumberFeature(features.UrgencyScore, 0.5),
	)
}

func TestClassifyReturnsBackendResult(t *testing.T) {
	backend := &fakeBackend{name: "fake", score: func(context.Context) (*core.ClassifierResult, error) {
		return &core.ClassifierResult{Score: 0.42, Confidence: 0.9, Rationale: []string{"odd link"}}, nil
	}}
	a := NewAdapter(backend, testSettings(), nil, zap.NewNop())

	result := a.Classify(context.Background(), &core.NormalizedContent{}, testFeatures())

	assert.Equal(t, 0.42, result.Score)
	assert.Equal(t, 0.9, result.Confidence)
	assert.False(t, result.Degraded)
	assert.Equal(t, "fake", result.Backend)
	assert.Equal(t, []string{"odd link"}, result.Rationale)
}

func TestClassifyClampsOutOfRangeScore(t *testing.T) {
	backend := &fakeBackend{name: "fake", score: func(context.Context) (*core.ClassifierResult, error) {
		return &core.ClassifierResult{Score: 1.7, Confidence: -1}, nil
	}}
	a := NewAdapter(backend, testSettings(), nil, zap.NewNop())

	result := a.Classify(context.Background(), &core.NormalizedContent{}, testFeatures())

	assert.Equal(t, 1.0, result.Score)
	assert.Equal(t, 0.0, result.Confidence)
	assert.False(t, result.Degraded)
}

func TestClassifyFallsBackOnError(t *testing.T) {
	backend := &fakeBackend{name: "fake", score: func(context.Context) (*core.ClassifierResult, error) {
		return nil, errors.New("boom")
	}}
	a := NewAdapter(backend, testSettings(), nil, zap.NewNop())
	fs := testFeatures()

	result := a.Classify(context.Background(), &core.NormalizedContent{}, fs)

	assert.True(t, result.Degraded)
	assert.Equal(t, HeuristicBackend, result.Backend)
	assert.InDelta(t, features.HeuristicScore(fs), result.Score, 1e-9)
	assert.Equal(t, []string{
		features.ReasonFor(features.DomainMismatch),
		features.ReasonFor(features.UrgencyScore),
	}, result.Rationale)
}

func TestClassifyFallsBackOnNaN(t *testing.T) {
	backend := &fakeBackend{name: "fake", score: func(context.Context) (*core.ClassifierResult, error) {
		return &core.ClassifierResult{Score: math.NaN()}, nil
	}}
	a := NewAdapter(backend, testSettings(), nil, zap.NewNop())

	result := a.Classify(context.Background(), &core.NormalizedContent{}, testFeatures())

	assert.True(t, result.Degraded)
	assert.False(t, math.IsNaN(result.Score))
}

func TestClassifyTimeoutDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	backend := &fakeBackend{name: "slow", score: func(ctx context.Context) (*core.ClassifierResult, error) {
		// ignores ctx on purpose
		<-release
		return &core.ClassifierResult{Score: 0.1}, nil
	}}
	a := NewAdapter(backend, testSettings(), nil, zap.NewNop())

	start := time.Now()
	result := a.Classify(context.Background(), &core.NormalizedContent{}, testFeatures())

	assert.True(t, result.Degraded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClassifyBreakerOpens(t *testing.T) {
	backend := &fakeBackend{name: "flaky", score: func(context.Context) (*core.ClassifierResult, error) {
		return nil, errors.New("unavailable")
	}}
	a := NewAdapter(backend, testSettings(), nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		require.True(t, a.Classify(context.Background(), &core.NormalizedContent{}, testFeatures()).Degraded)
	}
	require.Equal(t, int32(3), backend.calls.Load())

	result := a.Classify(context.Background(), &core.NormalizedContent{}, testFeatures())

	assert.True(t, result.Degraded)
	assert.Equal(t, int32(3), backend.calls.Load(), "open breaker must short-circuit the backend")
}

func TestPromptText(t *testing.T) {
	text := PromptText(&core.NormalizedContent{
		Sender:      "a@b.example",
		DisplayName: "Bank",
		Subject:     "Hello",
		Text:        "body",
		Links:       []core.Link{{Href: "http://x.example", Display: "click"}},
		Attachments: []string{"a.zip"},
	})

	assert.Equal(t, "From: Bank <a@b.example>\nSubject: Hello\nLink: http://x.example (shown as \"click\")\nAttachments: a.zip\n\nbody", text)
}

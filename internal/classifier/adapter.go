package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/features"
	"github.com/mikey/phishguard/internal/metrics"
	"github.com/mikey/phishguard/internal/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// HeuristicBackend is the backend name recorded on fallback results
const HeuristicBackend = "heuristic"

// fallbackConfidence is reported for heuristic results
const fallbackConfidence = 0.5

// Settings configures the adapter
type Settings struct {
	Timeout time.Duration
	// MaxRequests allowed through a half-open breaker
	MaxRequests uint32
	// Interval after which closed-state failure counts reset
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing again
	OpenTimeout time.Duration
	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures uint32
	// MaxTextSize bounds the text handed to the backend, zero means unlimited
	MaxTextSize int
}

// DefaultSettings returns the adapter defaults
func DefaultSettings() Settings {
	return Settings{
		Timeout:             3 * time.Second,
		MaxRequests:         1,
		Interval:            time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
		MaxTextSize:         8192,
	}
}

// Adapter invokes a scoring backend with a timeout and circuit breaker,
// falling back to the heuristic score when the backend cannot answer
type Adapter struct {
	backend  core.ScoringBackend
	breaker  *gobreaker.CircuitBreaker
	settings Settings
	text     *utils.TextProcessor
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewAdapter creates a new classifier adapter
func NewAdapter(backend core.ScoringBackend, settings Settings, m *metrics.Metrics, logger *zap.Logger) *Adapter {
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultSettings().Timeout
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultSettings().ConsecutiveFailures
	}

	a := &Adapter{
		backend:  backend,
		settings: settings,
		text:     utils.NewTextProcessor(logger),
		metrics:  m,
		logger:   logger,
	}

	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        backend.Name(),
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Classifier circuit breaker state changed",
				zap.String("backend", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			m.BreakerState(name, int(to))
		},
	})
	m.BreakerState(backend.Name(), int(gobreaker.StateClosed))

	return a
}

// Backend returns the name of the wrapped backend
func (a *Adapter) Backend() string {
	return a.backend.Name()
}

// Classify scores the content. It never blocks past the configured timeout and never
// fails: any backend problem yields the heuristic score marked degraded.
func (a *Adapter) Classify(ctx context.Context, content *core.NormalizedContent, fs core.FeatureSet) *core.ClassifierResult {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, a.settings.Timeout)
	defer cancel()

	type outcome struct {
		result *core.ClassifierResult
		err    error
	}
	done := make(chan outcome, 1)
	text := a.text.ProcessText(PromptText(content), a.settings.MaxTextSize)

	go func() {
		v, err := a.breaker.Execute(func() (interface{}, error) {
			res, err := a.backend.Score(callCtx, text, fs)
			if err != nil {
				return nil, err
			}
			if res == nil || math.IsNaN(res.Score) || math.IsNaN(res.Confidence) {
				return nil, fmt.Errorf("%w: backend returned an invalid score", core.ErrClassifierUnavailable)
			}
			return res, nil
		})
		if err != nil {
			done <- outcome{err: err}
			return
		}
		done <- outcome{result: v.(*core.ClassifierResult)}
	}()

	var err error
	select {
	case o := <-done:
		if o.err == nil {
			result := sanitize(o.result, a.backend.Name())
			a.metrics.ObserveClassification(result.Backend, false, time.Since(start))
			return result
		}
		err = o.err
	case <-callCtx.Done():
		err = callCtx.Err()
	}

	reason := "error"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		reason = "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case errors.Is(err, context.Canceled):
		reason = "canceled"
	}
	a.logger.Warn("Classifier unavailable, using heuristic fallback",
		zap.String("backend", a.backend.Name()),
		zap.String("reason", reason),
		zap.Error(err))

	result := Fallback(fs)
	a.metrics.ObserveClassification(a.backend.Name(), true, time.Since(start))
	return result
}

// Fallback returns the heuristic result for a feature set
func Fallback(fs core.FeatureSet) *core.ClassifierResult {
	contributions := features.Contributions(fs)
	rationale := make([]string, 0, len(contributions))
	for _, c := range contributions {
		rationale = append(rationale, c.Reason)
	}
	return &core.ClassifierResult{
		Score:      features.HeuristicScore(fs),
		Rationale:  rationale,
		Confidence: fallbackConfidence,
		Degraded:   true,
		Backend:    HeuristicBackend,
	}
}

// sanitize clamps a backend result and fills its backend name
func sanitize(res *core.ClassifierResult, backend string) *core.ClassifierResult {
	out := *res
	out.Score = features.Clamp(res.Score)
	out.Confidence = features.Clamp(res.Confidence)
	out.Rationale = append([]string(nil), res.Rationale...)
	if out.Backend == "" {
		out.Backend = backend
	}
	return &out
}

// PromptText renders normalized content as the text handed to scoring backends
func PromptText(content *core.NormalizedContent) string {
	var sb strings.Builder
	sb.WriteString("From: ")
	if content.DisplayName != "" {
		sb.WriteString(content.DisplayName)
		sb.WriteString(" ")
	}
	sb.WriteString("<")
	sb.WriteString(content.Sender)
	sb.WriteString(">\nSubject: ")
	sb.WriteString(content.Subject)
	sb.WriteString("\n")
	for _, l := range content.Links {
		sb.WriteString("Link: ")
		sb.WriteString(l.Href)
		if l.Display != "" {
			sb.WriteString(" (shown as \"")
			sb.WriteString(l.Display)
			sb.WriteString("\")")
		}
		sb.WriteString("\n")
	}
	if len(content.Attachments) > 0 {
		sb.WriteString("Attachments: ")
		sb.WriteString(strings.Join(content.Attachments, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(content.Text)

	return sb.String()
}

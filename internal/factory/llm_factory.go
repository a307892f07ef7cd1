package factory

import (
	"fmt"

	"github.com/mikey/phishguard/internal/adapters/bedrock"
	"github.com/mikey/phishguard/internal/adapters/gemini"
	"github.com/mikey/phishguard/internal/adapters/hybrid"
	"github.com/mikey/phishguard/internal/adapters/openai"
	"github.com/mikey/phishguard/internal/adapters/rules"
	"github.com/mikey/phishguard/internal/classifier"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/metrics"
	"go.uber.org/zap"
)

// LLMFactory creates scoring backends
type LLMFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger) *LLMFactory {
	return &LLMFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateBackend creates the scoring backend named by llm.provider
func (f *LLMFactory) CreateBackend() (core.ScoringBackend, error) {
	llmConfig := f.cfg.GetLLM()

	if llmConfig.Provider == hybrid.Backend {
		if llmConfig.HybridProvider == hybrid.Backend || llmConfig.HybridProvider == rules.Backend {
			return nil, fmt.Errorf("unsupported hybrid LLM provider: %s", llmConfig.HybridProvider)
		}
		llm, err := f.create(llmConfig.HybridProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create hybrid LLM backend: %w", err)
		}
		return hybrid.NewHybridBackend(llm, f.logger), nil
	}

	return f.create(llmConfig.Provider)
}

func (f *LLMFactory) create(provider string) (core.ScoringBackend, error) {
	switch provider {
	case rules.Backend:
		return rules.NewEngine(), nil
	case bedrock.Backend:
		return NewBedrockFactory(f.cfg, f.logger).CreateBackend()
	case gemini.Backend:
		return NewGeminiFactory(f.cfg, f.logger).CreateBackend()
	case openai.Backend:
		return NewOpenAIFactory(f.cfg, f.logger).CreateBackend()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// CreateClassifier wraps a backend in the timeout and circuit breaker adapter
func (f *LLMFactory) CreateClassifier(backend core.ScoringBackend, m *metrics.Metrics) (*classifier.Adapter, error) {
	c, err := f.cfg.GetClassifier()
	if err != nil {
		return nil, fmt.Errorf("invalid classifier configuration: %w", err)
	}

	f.logger.Info("Using scoring backend",
		zap.String("backend", backend.Name()),
		zap.Duration("timeout", c.Timeout))

	return classifier.NewAdapter(backend, classifier.Settings{
		Timeout:             c.Timeout,
		MaxRequests:         c.MaxRequests,
		Interval:            c.Interval,
		OpenTimeout:         c.OpenTimeout,
		ConsecutiveFailures: c.ConsecutiveFailures,
		MaxTextSize:         c.MaxTextSize,
	}, m, f.logger), nil
}

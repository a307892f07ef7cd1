package factory

import (
	"fmt"
	"io"
	"net/http"

	"github.com/mikey/phishguard/internal/adapters/filter"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/ports"
	"go.uber.org/zap"
)

// FilterFactory creates intake surfaces based on configuration
type FilterFactory struct {
	cfg      *config.Config
	logger   *zap.Logger
	analyzer ports.Analyzer
}

// NewFilterFactory creates a new filter factory
func NewFilterFactory(cfg *config.Config, logger *zap.Logger, analyzer ports.Analyzer) *FilterFactory {
	return &FilterFactory{
		cfg:      cfg,
		logger:   logger,
		analyzer: analyzer,
	}
}

// CreateEmailFilter creates the filter named by server.filter_type. metricsHandler is
// mounted by the HTTP filter and ignored by the others.
func (f *FilterFactory) CreateEmailFilter(metricsHandler http.Handler, out io.Writer) (ports.EmailFilter, error) {
	serverCfg, err := f.cfg.GetServer()
	if err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	switch serverCfg.FilterType {
	case "http":
		return filter.NewHTTPFilter(
			f.analyzer,
			f.logger,
			serverCfg.ListenAddress,
			serverCfg.RequestTimeout,
			serverCfg.MaxBodyBytes,
			metricsHandler,
		), nil
	case "postfix":
		return filter.NewPostfixFilter(
			f.analyzer,
			f.logger,
			serverCfg.SMTP,
			serverCfg.Headers,
			serverCfg.RequestTimeout,
		), nil
	case "cli":
		return filter.NewCliFilter(
			f.analyzer,
			f.logger,
			out,
			f.cfg.GetBool("cli.verbose"),
			f.cfg.GetBool("cli.json"),
		)
	default:
		return nil, fmt.Errorf("unsupported filter type: %s", serverCfg.FilterType)
	}
}

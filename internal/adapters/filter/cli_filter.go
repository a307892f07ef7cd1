package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/ports"
	"go.uber.org/zap"
)

// CliFilter implements a command-line interface for one-shot analysis
type CliFilter struct {
	analyzer   ports.Analyzer
	logger     *zap.Logger
	out        io.Writer
	verbose    bool
	jsonOutput bool
}

// NewCliFilter creates a new CLI filter writing its report to out
func NewCliFilter(analyzer ports.Analyzer, logger *zap.Logger, out io.Writer, verbose, jsonOutput bool) (*CliFilter, error) {
	return &CliFilter{
		analyzer:   analyzer,
		logger:     logger,
		out:        out,
		verbose:    verbose,
		jsonOutput: jsonOutput,
	}, nil
}

// ProcessEmail analyzes a submission and prints the verdict
func (f *CliFilter) ProcessEmail(ctx context.Context, req *core.AnalysisRequest) (*core.Verdict, error) {
	f.logger.Debug("Processing email",
		zap.String("request_id", req.ID),
		zap.String("tenant", req.TenantID))

	startTime := time.Now()
	verdict, err := f.analyzer.Analyze(ctx, req)
	if err != nil {
		f.logger.Error("Failed to analyze email", zap.Error(err))
		return nil, err
	}
	duration := time.Since(startTime)

	if f.jsonOutput {
		enc := json.NewEncoder(f.out)
		enc.SetIndent("", "  ")
		return verdict, enc.Encode(verdict)
	}

	fmt.Fprintf(f.out, "\n=== Verdict ===\n")
	fmt.Fprintf(f.out, "Category: %s\n", verdict.Category)
	fmt.Fprintf(f.out, "Risk score: %.4f\n", verdict.Score)
	fmt.Fprintf(f.out, "Confidence: %.4f\n", verdict.Confidence)
	fmt.Fprintf(f.out, "Backend: %s\n", verdict.Backend)
	if verdict.Degraded {
		fmt.Fprintf(f.out, "Degraded: backend unavailable, heuristic score used\n")
	}
	if len(verdict.Reasons) > 0 {
		fmt.Fprintf(f.out, "Reasons:\n")
		for _, r := range verdict.Reasons {
			fmt.Fprintf(f.out, "  - %s\n", r)
		}
	}
	if f.verbose {
		fmt.Fprintf(f.out, "Fingerprint: %s\n", verdict.Fingerprint)
		fmt.Fprintf(f.out, "Processing time: %v\n", duration)
	}

	return verdict, nil
}

// Start is a no-op for the CLI filter
func (f *CliFilter) Start() error {
	return nil
}

// Stop is a no-op for the CLI filter
func (f *CliFilter) Stop() error {
	return nil
}

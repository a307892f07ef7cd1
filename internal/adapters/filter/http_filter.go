package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/ports"
	"go.uber.org/zap"
)

// HTTPFilter exposes the analyzer over HTTP
type HTTPFilter struct {
	analyzer     ports.Analyzer
	logger       *zap.Logger
	listenAddr   string
	maxBodyBytes int64
	handler      http.Handler
	server       *http.Server
}

type analyzeRequest struct {
	Sender  string              `json:"sender"`
	Subject string              `json:"subject"`
	Body    string              `json:"body"`
	Headers map[string][]string `json:"headers,omitempty"`
}

type analyzeResponse struct {
	RequestID   string `json:"request_id"`
	TenantID    string `json:"tenant_id"`
	Fingerprint string `json:"fingerprint"`
	*core.Verdict
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPFilter creates the HTTP intake. metricsHandler is mounted on /metrics when not nil.
func NewHTTPFilter(
	analyzer ports.Analyzer,
	logger *zap.Logger,
	listenAddr string,
	requestTimeout time.Duration,
	maxBodyBytes int64,
	metricsHandler http.Handler,
) *HTTPFilter {
	f := &HTTPFilter{
		analyzer:     analyzer,
		logger:       logger,
		listenAddr:   listenAddr,
		maxBodyBytes: maxBodyBytes,
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	if metricsHandler != nil {
		mux.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		if requestTimeout > 0 {
			rt.Use(middleware.Timeout(requestTimeout))
		}
		rt.Post("/analyze", f.wrap(f.handleAnalyze))
		rt.Get("/quota", f.wrap(f.handleQuota))
	})

	f.handler = mux
	return f
}

// Handler returns the router
func (f *HTTPFilter) Handler() http.Handler {
	return f.handler
}

// Start starts serving in the background
func (f *HTTPFilter) Start() error {
	f.server = &http.Server{
		Addr:              f.listenAddr,
		Handler:           f.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	f.logger.Info("HTTP filter starting", zap.String("address", f.listenAddr))

	go func() {
		if err := f.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down
func (f *HTTPFilter) Stop() error {
	if f.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return f.server.Shutdown(ctx)
}

// ProcessEmail analyzes a submission directly
func (f *HTTPFilter) ProcessEmail(ctx context.Context, req *core.AnalysisRequest) (*core.Verdict, error) {
	return f.analyzer.Analyze(ctx, req)
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (f *HTTPFilter) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		status := http.StatusInternalServerError
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, core.ErrQuotaExceeded):
			status = http.StatusTooManyRequests
		case errors.Is(err, core.ErrInvalidRequest), errors.As(err, &maxErr):
			status = http.StatusBadRequest
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		case errors.Is(err, context.Canceled):
			// client went away
			return
		}

		if status == http.StatusInternalServerError {
			f.logger.Error("Request failed",
				zap.String("path", req.URL.Path),
				zap.String("request_id", middleware.GetReqID(req.Context())),
				zap.Error(err))
		}
		f.writeJSON(w, status, errorResponse{Error: err.Error()})
	}
}

// POST /v1/{tenant}/analyze
// Body: {"sender","subject","body","headers"} as JSON, or a raw message/rfc822 message.
func (f *HTTPFilter) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	tenantID := chi.URLParam(req, "tenant")
	if f.maxBodyBytes > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, f.maxBodyBytes)
	}

	content, err := readContent(req)
	if err != nil {
		return err
	}

	areq := core.NewAnalysisRequest(tenantID, content, time.Now())
	verdict, err := f.analyzer.Analyze(req.Context(), areq)
	if err != nil {
		return err
	}

	f.writeJSON(w, http.StatusOK, analyzeResponse{
		RequestID:   areq.ID,
		TenantID:    tenantID,
		Fingerprint: verdict.Fingerprint.String(),
		Verdict:     verdict,
	})
	return nil
}

// GET /v1/{tenant}/quota
func (f *HTTPFilter) handleQuota(w http.ResponseWriter, req *http.Request) error {
	usage, err := f.analyzer.Usage(req.Context(), chi.URLParam(req, "tenant"))
	if err != nil {
		return err
	}
	f.writeJSON(w, http.StatusOK, usage)
	return nil
}

func readContent(req *http.Request) (core.EmailContent, error) {
	mediaType := "application/json"
	if ct := req.Header.Get("Content-Type"); ct != "" {
		parsed, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return core.EmailContent{}, fmt.Errorf("%w: bad content type: %w", core.ErrInvalidRequest, err)
		}
		mediaType = parsed
	}

	switch mediaType {
	case "message/rfc822":
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return core.EmailContent{}, err
		}
		if len(raw) == 0 {
			return core.EmailContent{}, fmt.Errorf("%w: empty message", core.ErrInvalidRequest)
		}
		return core.EmailContent{Raw: raw}, nil

	case "application/json":
		var body analyzeRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return core.EmailContent{}, err
			}
			return core.EmailContent{}, fmt.Errorf("%w: malformed JSON: %w", core.ErrInvalidRequest, err)
		}
		return core.EmailContent{
			Sender:  body.Sender,
			Subject: body.Subject,
			Body:    body.Body,
			Headers: body.Headers,
		}, nil

	default:
		return core.EmailContent{}, fmt.Errorf("%w: unsupported content type %s", core.ErrInvalidRequest, mediaType)
	}
}

func (f *HTTPFilter) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// status is already sent, the client usually went away
		f.logger.Debug("Failed to write response",
			zap.Int("status", status),
			zap.Error(err))
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"retail-analytics-pipeline/internal/domain"
	"retail-analytics-pipeline/internal/logger"
	"retail-analytics-pipeline/internal/pipeline"
)

// Runner executes one pipeline batch.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Summary, error)
}

// QualityChecker runs the post-load quality checks on demand.
type QualityChecker interface {
	RunQualityChecks(ctx context.Context) (*domain.QualityReport, error)
}

// Pinger reports whether the warehouse is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPHandler holds dependencies for HTTP handlers.
type HTTPHandler struct {
	runner  Runner
	quality QualityChecker
	pinger  Pinger
	health  *HealthReporter
	log     *logger.Logger

	runMu sync.Mutex // held for the duration of a triggered run

	mu     sync.RWMutex
	latest *pipeline.Summary
}

// NewHTTPHandler creates a new HTTPHandler with dependencies. health may be nil.
func NewHTTPHandler(runner Runner, quality QualityChecker, pinger Pinger, health *HealthReporter, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		runner:  runner,
		quality: quality,
		pinger:  pinger,
		health:  health,
		log:     log.With("component", "http"),
	}
}

// ErrorResponse defines the structure for JSON error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *HTTPHandler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, ErrorResponse{Error: message})
}

func (h *HTTPHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			h.log.Error("failed to encode JSON response", "error", err)
		}
	}
}

// TriggerRun runs one batch synchronously and answers with its summary.
// Only one run may be in progress; a second trigger gets 409.
func (h *HTTPHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if !h.runMu.TryLock() {
		h.respondWithError(w, http.StatusConflict, "a pipeline run is already in progress")
		return
	}
	defer h.runMu.Unlock()

	// A client hanging up must not abort the batch halfway through a stage.
	ctx := context.WithoutCancel(r.Context())
	sum, err := h.runner.Run(ctx)
	if sum != nil {
		h.mu.Lock()
		h.latest = sum
		h.mu.Unlock()
		if h.health != nil {
			h.health.RecordRun(sum)
		}
	}

	switch {
	case sum == nil:
		h.log.Error("pipeline run returned no summary", "error", err)
		h.respondWithError(w, http.StatusInternalServerError, "pipeline run failed")
	case err != nil:
		h.log.Warn("triggered run failed", "run_id", sum.RunID, "error", err)
		h.respondWithJSON(w, http.StatusInternalServerError, sum)
	default:
		h.respondWithJSON(w, http.StatusCreated, sum)
	}
}

// LatestRun returns the summary of the most recent run triggered through this handler.
func (h *HTTPHandler) LatestRun(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	sum := h.latest
	h.mu.RUnlock()

	if sum == nil {
		h.respondWithError(w, http.StatusNotFound, "no pipeline run has finished yet")
		return
	}
	h.respondWithJSON(w, http.StatusOK, sum)
}

// Quality runs the warehouse quality checks and returns the report.
func (h *HTTPHandler) Quality(w http.ResponseWriter, r *http.Request) {
	report, err := h.quality.RunQualityChecks(r.Context())
	if err != nil {
		h.log.Error("quality checks failed", "error", err)
		h.respondWithError(w, http.StatusInternalServerError, "failed to run quality checks")
		return
	}
	h.respondWithJSON(w, http.StatusOK, report)
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// Healthz pings the warehouse. An unreachable warehouse answers 503.
func (h *HTTPHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Database: "healthy", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	code := http.StatusOK
	if err := h.pinger.Ping(ctx); err != nil {
		h.log.Warn("health check ping failed", "error", err)
		resp.Status = "unhealthy"
		resp.Database = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	h.respondWithJSON(w, code, resp)
}

// RegisterRoutes sets up the HTTP routes for the service.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", h.TriggerRun)      // POST /api/v1/runs
		r.Get("/runs/latest", h.LatestRun) // GET /api/v1/runs/latest
		r.Get("/quality", h.Quality)       // GET /api/v1/quality
		r.Get("/healthz", h.Healthz)       // GET /api/v1/healthz
	})
}

// RequestLogger logs one line per request through the structured logger.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

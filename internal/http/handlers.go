package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/ambient-gateway/internal/degraded"
	"github.com/kjstillabower/ambient-gateway/internal/lifecycle"
	"github.com/kjstillabower/ambient-gateway/internal/models"
	"github.com/kjstillabower/ambient-gateway/internal/observability"
	"github.com/kjstillabower/ambient-gateway/internal/validation"
)

// DefaultMaxBodyBytes caps /describe request bodies.
const DefaultMaxBodyBytes = 4 << 10

// SourceHeader reports whether a description came from the model or the fallback.
const SourceHeader = "X-Description-Source"

// Describer is implemented by service.DescribeService.
type Describer interface {
	Describe(ctx context.Context, body io.Reader) (models.Description, error)
}

// ReadyConfig holds thresholds for the readiness handler.
type ReadyConfig struct {
	DegradedWindow      time.Duration
	DegradedFallbackPct int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	describer    Describer
	readyConfig  *ReadyConfig
	logger       *zap.Logger
	maxBodyBytes int64

	readyStatusMu   sync.Mutex
	readyStatusPrev string
}

// NewHandler returns a new Handler. readyConfig may be nil.
func NewHandler(describer Describer, readyConfig *ReadyConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		describer:    describer,
		readyConfig:  readyConfig,
		logger:       logger,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// SetMaxBodyBytes overrides DefaultMaxBodyBytes.
func (h *Handler) SetMaxBodyBytes(n int64) {
	if n > 0 {
		h.maxBodyBytes = n
	}
}

// GetHealth handles GET /health. Liveness only; it has no dependencies.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PostDescribe handles POST /describe. Malformed input is 422; everything else
// is 200, with the fallback sentence when the model failed.
func (h *Handler) PostDescribe(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	desc, err := h.describer.Describe(r.Context(), body)
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			writeValidationError(w, r, verr)
			return
		}
		observability.LoggerFromContext(r.Context()).Error("describe failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Unable to describe reading")
		return
	}
	w.Header().Set(SourceHeader, desc.Source)
	writeJSON(w, http.StatusOK, desc)
}

// readyResult holds the computed readiness status and metadata for logging.
type readyResult struct {
	status     string
	statusCode int
	model      string
	cache      string
}

// GetReady handles GET /ready. It is 503 once shutdown has begun; a degraded
// model is reported but stays 200 because /describe still answers with fallbacks.
func (h *Handler) GetReady(w http.ResponseWriter, r *http.Request) {
	result := h.computeReadyStatus()

	h.readyStatusMu.Lock()
	prev := h.readyStatusPrev
	current := result.status
	if result.model != "" {
		current += "/" + result.model
	}
	if prev != "" && prev != current {
		h.logger.Info("readiness transition",
			zap.String("previous_status", prev),
			zap.String("current_status", current))
	}
	h.readyStatusPrev = current
	h.readyStatusMu.Unlock()

	resp := map[string]string{"status": result.status}
	if result.model != "" {
		resp["model"] = result.model
	}
	if result.cache != "" {
		resp["cache"] = result.cache
	}
	writeJSON(w, result.statusCode, resp)
}

func (h *Handler) computeReadyStatus() readyResult {
	if lifecycle.IsShuttingDown() {
		return readyResult{status: lifecycle.StatusShuttingDown, statusCode: http.StatusServiceUnavailable}
	}
	result := readyResult{status: lifecycle.StatusReady, statusCode: http.StatusOK, model: "ok"}
	if h.readyConfig == nil {
		return result
	}
	if degraded.IsDegraded(h.readyConfig.DegradedWindow, h.readyConfig.DegradedFallbackPct) {
		result.model = "degraded"
	}
	if h.readyConfig.CachePing != nil {
		result.cache = "ok"
		if err := h.readyConfig.CachePing(); err != nil {
			result.cache = "unreachable"
		}
	}
	return result
}

// NotFound writes a JSON 404 for unmatched routes.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "No route for "+r.URL.Path)
}

// MethodNotAllowed writes a JSON 405 for known routes with the wrong method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" not allowed on "+r.URL.Path)
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code      string                  `json:"code"`
	Message   string                  `json:"message"`
	RequestID string                  `json:"requestId"`
	Fields    []validation.FieldError `json:"fields,omitempty"`
}

// writeError writes an error response in the standard error format with code,
// message and requestId (correlation ID).
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {
			Code:      code,
			Message:   message,
			RequestID: observability.CorrelationID(r.Context()),
		},
	})
}

func writeValidationError(w http.ResponseWriter, r *http.Request, verr *validation.Error) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]errorBody{
		"error": {
			Code:      "VALIDATION_FAILED",
			Message:   "Request body is invalid",
			RequestID: observability.CorrelationID(r.Context()),
			Fields:    verr.Fields,
		},
	})
}

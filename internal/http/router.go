package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/ambient-gateway/internal/observability"
)

// RouterOptions configures the /describe route. A nil Limiter disables rate
// limiting; a zero RequestTimeout disables the per-request deadline.
type RouterOptions struct {
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
}

// NewRouter registers every route with the shared middleware chain.
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.GetReady).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	var describe http.Handler = http.HandlerFunc(h.PostDescribe)
	describe = TimeoutMiddleware(opts.RequestTimeout)(describe)
	describe = RateLimitMiddleware(opts.Limiter)(describe)
	router.Handle("/describe", describe).Methods(http.MethodPost)

	// mux skips router middleware for unmatched requests
	router.NotFoundHandler = CorrelationIDMiddleware(logger)(MetricsMiddleware(http.HandlerFunc(h.NotFound)))
	router.MethodNotAllowedHandler = CorrelationIDMiddleware(logger)(MetricsMiddleware(http.HandlerFunc(h.MethodNotAllowed)))
	return router
}

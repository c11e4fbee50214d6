package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skwidy/assistant/config"
	"github.com/skwidy/assistant/internal"
	"github.com/skwidy/assistant/logger"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_http_requests_total",
	Help: "HTTP requests served, by route pattern and status code.",
}, []string{"route", "code"})

// requestID tags every request with a short unique id for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := internal.WithRequestID(r.Context(), internal.NewRequestID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// logRequests emits one structured line per request once it completes.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()

		category := logger.CategorySuccess
		if rec.status >= http.StatusBadRequest {
			category = logger.CategoryWarning
		}
		h.log.Info(logger.ComponentServer, category, internal.GetRequestID(r.Context()), "request completed", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"assistant":   internal.GetAssistantKey(r.Context()),
		})
	})
}

// corsMiddleware mirrors the browser client contract: in development every
// origin is reflected, in production only the configured allow-list passes.
func corsMiddleware(reg *config.Registry) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if reg.IsProduction() {
		opts.AllowedOrigins = reg.AllowedOrigins
	} else {
		opts.AllowOriginFunc = func(r *http.Request, origin string) bool { return true }
	}
	return cors.Handler(opts)
}

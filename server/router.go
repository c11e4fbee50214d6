package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the HTTP surface. Route shapes mirror the browser
// client contract; /metrics serves Prometheus scrapes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(h.logRequests)
	r.Use(corsMiddleware(h.reg))

	r.Get("/health", h.Health)
	r.Get("/assistants", h.ListAssistants)
	r.Get("/assistants/{assistantId}/info", h.AssistantInfo)
	r.Post("/assistants/{assistantId}/ask", h.Ask)

	// Legacy single-assistant routes, kept for older clients: the assistant
	// is implied by the subdomain or falls back to the default.
	r.Post("/ask", h.LegacyAsk)
	r.Get("/info", h.LegacyInfo)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

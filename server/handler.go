package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skwidy/assistant/config"
	"github.com/skwidy/assistant/dispatch"
	"github.com/skwidy/assistant/internal"
	"github.com/skwidy/assistant/logger"
	"github.com/skwidy/assistant/ratelimit"
	"github.com/skwidy/assistant/types"
)

// Asker executes one conversational turn. Satisfied by *dispatch.Dispatcher;
// tests plug in a stub.
type Asker interface {
	Ask(ctx context.Context, agentID, message, threadID string) (dispatch.Result, error)
}

// Handler holds the edge's collaborators. The registry is read-only, so the
// handler is safe for concurrent use.
type Handler struct {
	reg        *config.Registry
	gate       *ratelimit.Gate
	dispatcher Asker
	log        *logger.ObservabilityLogger
	version    string
}

// NewHandler wires the edge against its resolved collaborators.
func NewHandler(reg *config.Registry, gate *ratelimit.Gate, dispatcher Asker, log *logger.ObservabilityLogger, version string) *Handler {
	return &Handler{reg: reg, gate: gate, dispatcher: dispatcher, log: log, version: version}
}

// Health reports liveness plus app metadata.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		App:       h.reg.AppName,
		Version:   h.version,
	})
}

// ListAssistants enumerates the configured assistants in declaration order.
func (h *Handler) ListAssistants(w http.ResponseWriter, r *http.Request) {
	all := h.reg.All()
	infos := make([]types.AssistantInfo, 0, len(all))
	for _, a := range all {
		infos = append(infos, assistantInfo(a))
	}
	writeJSON(w, http.StatusOK, types.AssistantListResponse{
		AppName:          h.reg.AppName,
		Assistants:       infos,
		DefaultAssistant: h.reg.DefaultAssistant,
	})
}

// AssistantInfo returns the public view of one assistant.
func (h *Handler) AssistantInfo(w http.ResponseWriter, r *http.Request) {
	a, ok := h.reg.Get(chi.URLParam(r, "assistantId"))
	if !ok {
		writeError(w, http.StatusNotFound, types.ErrorResponse{Error: "Assistant not found"})
		return
	}
	writeJSON(w, http.StatusOK, assistantInfo(a))
}

// Ask handles POST /assistants/{assistantId}/ask.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	if !h.admitGlobal(w, r) {
		return
	}
	a, ok := h.reg.Get(chi.URLParam(r, "assistantId"))
	if !ok {
		writeError(w, http.StatusNotFound, types.ErrorResponse{Error: "Assistant not found"})
		return
	}
	h.ask(w, r, a)
}

// LegacyAsk handles POST /ask: the assistant is resolved from the request
// subdomain, falling back to the configured default.
func (h *Handler) LegacyAsk(w http.ResponseWriter, r *http.Request) {
	if !h.admitGlobal(w, r) {
		return
	}
	h.ask(w, r, h.resolveImplicit(r))
}

// LegacyInfo handles GET /info for the subdomain-or-default assistant.
func (h *Handler) LegacyInfo(w http.ResponseWriter, r *http.Request) {
	a := h.resolveImplicit(r)
	writeJSON(w, http.StatusOK, map[string]string{"name": a.Name})
}

// ask runs the shared turn pipeline for an already resolved assistant:
// per-assistant admission, body validation, dispatch, result mapping.
func (h *Handler) ask(w http.ResponseWriter, r *http.Request, a *config.Assistant) {
	ctx := internal.WithAssistantKey(r.Context(), a.Key)
	r = r.WithContext(ctx)
	requestID := internal.GetRequestID(ctx)

	decision, err := h.gate.AllowAssistant(ctx, a.Key)
	if err != nil {
		h.log.Error(logger.ComponentRateLimit, logger.CategoryError, requestID, "admission check failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "Internal server error"})
		return
	}
	if !decision.Allowed {
		h.rejectRateLimited(w, requestID, decision)
		return
	}

	var req types.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "Message is required"})
		return
	}

	h.log.Info(logger.ComponentDispatch, logger.CategoryRequest, requestID, "dispatching turn", map[string]interface{}{
		"assistant":       a.Key,
		"continue_thread": req.ThreadID != "",
	})

	result, err := h.dispatcher.Ask(ctx, a.AgentID, req.Message, req.ThreadID)
	if err != nil {
		h.writeDispatchError(w, requestID, a.Key, err)
		return
	}

	writeJSON(w, http.StatusOK, types.AskResponse{
		Reply:       result.Reply,
		ThreadID:    result.ThreadID,
		AssistantID: a.Key,
	})
}

// admitGlobal charges the process-wide window. It runs before assistant
// resolution so every inbound chat request is counted against it.
func (h *Handler) admitGlobal(w http.ResponseWriter, r *http.Request) bool {
	requestID := internal.GetRequestID(r.Context())
	decision, err := h.gate.AllowGlobal(r.Context())
	if err != nil {
		h.log.Error(logger.ComponentRateLimit, logger.CategoryError, requestID, "admission check failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "Internal server error"})
		return false
	}
	if !decision.Allowed {
		h.rejectRateLimited(w, requestID, decision)
		return false
	}
	return true
}

func (h *Handler) rejectRateLimited(w http.ResponseWriter, requestID string, decision ratelimit.Decision) {
	h.log.Warn(logger.ComponentRateLimit, logger.CategoryBlocked, requestID, "request rate limited", map[string]interface{}{
		"scope":          decision.Scope,
		"retry_after_ms": decision.RetryAfter.Milliseconds(),
	})
	writeError(w, http.StatusTooManyRequests, types.ErrorResponse{
		Error:      "Too many requests",
		Scope:      decision.Scope,
		RetryAfter: decision.RetryAfter.Milliseconds(),
	})
}

// writeDispatchError converts a structured dispatch failure into the HTTP
// contract. Nothing escapes as a raw error string without a JSON envelope.
func (h *Handler) writeDispatchError(w http.ResponseWriter, requestID, assistantKey string, err error) {
	de, ok := dispatch.AsError(err)
	if !ok {
		h.log.Error(logger.ComponentDispatch, logger.CategoryError, requestID, "dispatch failed", map[string]interface{}{
			"assistant": assistantKey,
			"error":     err.Error(),
		})
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "Internal server error"})
		return
	}

	h.log.Error(logger.ComponentDispatch, logger.CategoryError, requestID, "dispatch failed", map[string]interface{}{
		"assistant": assistantKey,
		"kind":      de.Kind,
		"detail":    de.Detail,
	})

	switch de.Kind {
	case dispatch.KindRunFailed:
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "Assistant run failed", Details: de.Detail})
	case dispatch.KindExtractionFailed:
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "No assistant response found", Details: de.Detail})
	case dispatch.KindTimeout:
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "Assistant run timed out", Details: de.Detail})
	default:
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "Internal server error", Message: de.Detail})
	}
}

// resolveImplicit picks the assistant for the legacy endpoints: request
// subdomain first, configured default otherwise.
func (h *Handler) resolveImplicit(r *http.Request) *config.Assistant {
	if sub := subdomainOf(r.Host); sub != "" {
		if a, ok := h.reg.GetBySubdomain(sub); ok {
			return a
		}
	}
	a, _ := h.reg.Get(h.reg.DefaultAssistant)
	return a
}

// subdomainOf extracts the first host label when the host looks like a
// subdomain of a served domain. Bare domains and localhost yield "".
func subdomainOf(host string) string {
	if host == "" {
		return ""
	}
	if stripped, _, err := net.SplitHostPort(host); err == nil {
		host = stripped
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	if labels[0] == "www" {
		return ""
	}
	return labels[0]
}

func assistantInfo(a *config.Assistant) types.AssistantInfo {
	return types.AssistantInfo{
		ID:          a.Key,
		Name:        a.Name,
		Description: a.Description,
		Subdomain:   a.Subdomain,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, body types.ErrorResponse) {
	writeJSON(w, status, body)
}

// Package api provides the HTTP API handlers and routing for the producer and
// consumer services.
package api

import (
	"encoding/json"
	"log/slog"
	"loadharness/internal/apperrors"
	"loadharness/internal/counter"
	"loadharness/internal/dispatcher"
	"loadharness/internal/health"
	"loadharness/internal/producer"
	"net/http"
)

// Handler contains HTTP handlers for both services. Producer-only and
// consumer-only fields are nil in the other service.
type Handler struct {
	producer   *producer.Service
	counter    *counter.Counter
	health     *health.Checker
	dispatcher dispatcher.Dispatcher
}

// CountersResponse is the body of GET /v1/counters.
type CountersResponse struct {
	Counters []counter.Snapshot `json:"counters"`
	Total    int                `json:"total"`
}

// PostLog handles POST /api/log/{key}. It blocks until the batch is
// dispatched.
func (h *Handler) PostLog(w http.ResponseWriter, r *http.Request) {
	req, err := parseLoadRequest(r.PathValue("key"), r.URL.Query())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	res, err := h.producer.Post(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// ListCounters handles GET /v1/counters
func (h *Handler) ListCounters(w http.ResponseWriter, r *http.Request) {
	snapshots := h.counter.Snapshots()
	h.writeJSON(w, http.StatusOK, CountersResponse{Counters: snapshots, Total: len(snapshots)})
}

// GetCounter handles GET /v1/counters/{key}
func (h *Handler) GetCounter(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "Key is required")
		return
	}

	snapshot, ok := h.counter.Snapshot(key)
	if !ok {
		h.handleError(w, r, apperrors.NotFound("key", key))
		return
	}

	h.writeJSON(w, http.StatusOK, snapshot)
}

// DispatchStats handles GET /v1/dispatch/stats
func (h *Handler) DispatchStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.dispatcher.Stats())
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if a broker is unreachable or the service is shutting down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}

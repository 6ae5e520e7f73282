package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alfredjeanlab/paybridge/internal/pipeline"
	"github.com/alfredjeanlab/paybridge/internal/store"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health and
// GET /metrics) must include a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/claims/unresolved", s.handleListUnresolved)
	mux.HandleFunc("GET /v1/claims/{id}", s.handleGetClaim)
	mux.HandleFunc("GET /v1/claims/{id}/events", s.handleGetClaimEvents)
	mux.HandleFunc("POST /v1/claims/{id}/payout", s.handleRetryPayout)
	mux.HandleFunc("POST /v1/claims/{id}/reconcile", s.handleRetryReconcile)
	mux.HandleFunc("GET /v1/employees", s.handleListEmployees)
	mux.HandleFunc("GET /v1/proofs", s.handleListProofs)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.Handle("GET /metrics", s.metrics.Handler())
	if s.artifactsDir != "" {
		mux.Handle("GET /artifacts/", http.StripPrefix("/artifacts/", http.FileServer(http.Dir(s.artifactsDir))))
	}
	return RequestLogger(s.logger, AuthMiddleware(authToken, mux))
}

// healthResponse is the body of GET /v1/health.
type healthResponse struct {
	Status     string `json:"status"`
	Watcher    string `json:"watcher"`
	QueueDepth int    `json:"queue_depth"`
	SSEClients int    `json:"sse_clients"`
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Watcher:    "running",
		SSEClients: s.sseHub.clientCount(),
	}
	if s.halted {
		resp.Watcher = "halted"
	}
	if s.pipeline != nil {
		resp.QueueDepth = s.pipeline.QueueDepth()
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeStoreError maps store and pipeline errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var ce *store.ConflictError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

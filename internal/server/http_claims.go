package server

import (
	"net/http"
	"strings"

	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/proofs"
)

// handleListUnresolved handles GET /v1/claims/unresolved.
func (s *Server) handleListUnresolved(w http.ResponseWriter, r *http.Request) {
	claims, err := s.store.ListUnresolved(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if claims == nil {
		claims = []*model.Claim{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims, "total": len(claims)})
}

// handleGetClaim handles GET /v1/claims/{id}.
func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetClaim(r.Context(), claimID(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleGetClaimEvents handles GET /v1/claims/{id}/events.
func (s *Server) handleGetClaimEvents(w http.ResponseWriter, r *http.Request) {
	id := claimID(r)
	if _, err := s.store.GetClaim(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	evts, err := s.store.GetEvents(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if evts == nil {
		evts = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, evts)
}

// handleRetryPayout handles POST /v1/claims/{id}/payout.
func (s *Server) handleRetryPayout(w http.ResponseWriter, r *http.Request) {
	s.retry(w, r, "payout")
}

// handleRetryReconcile handles POST /v1/claims/{id}/reconcile.
func (s *Server) handleRetryReconcile(w http.ResponseWriter, r *http.Request) {
	s.retry(w, r, "reconcile")
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request, step string) {
	if s.halted || s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline halted")
		return
	}
	id := claimID(r)
	var err error
	if step == "payout" {
		err = s.pipeline.RetryPayout(r.Context(), id)
	} else {
		err = s.pipeline.RetryReconcile(r.Context(), id)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.logger.Info("operator retry accepted", "claim_id", id, "step", step)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "step": step, "status": "queued"})
}

// handleListEmployees handles GET /v1/employees.
func (s *Server) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListEmployeeStatus(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []*model.EmployeeStatus{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleListProofs handles GET /v1/proofs.
func (s *Server) handleListProofs(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListProofs(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []*model.Proof{}
	}
	writeJSON(w, http.StatusOK, proofs.WithURLs(list))
}

// claimID normalizes the {id} path value the same way claim ids are derived.
func claimID(r *http.Request) string {
	return model.ClaimID(strings.TrimSpace(r.PathValue("id")))
}

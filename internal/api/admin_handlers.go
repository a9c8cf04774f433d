package api

import (
	"net/http"
	"time"

	"github.com/ventro/backend/internal/audit"
	"github.com/ventro/backend/internal/middleware"
)

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	limit, offset := pagination(r)
	events, err := s.Audit.EventsByOrg(r.Context(), claims.OrgID, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// handleAuditVerify walks the caller's full chain and reports the first
// broken link, if any.
func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	result, err := audit.Verify(r.Context(), s.Audit, claims.OrgID)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.Recorder.Record(r.Context(), "audit.verified", claims.Subject, claims.OrgID,
		"audit_chain", claims.OrgID, map[string]interface{}{"valid": result.Valid, "checked": result.Checked}); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// handleLive answers as long as the process serves requests at all.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReady reports dependency state, including the completion chain's
// circuit breakers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ready",
		"breakers": s.Router.BreakerStats(),
	})
}

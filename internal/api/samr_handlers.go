package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/middleware"
)

// handleSAMRFeedback records a reviewer's judgment and invalidates the
// cached threshold so the next run recomputes it.
func (s *Server) handleSAMRFeedback(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var req struct {
		SessionID     string  `json:"session_id"`
		AlertRaised   bool    `json:"alert_raised"`
		SAMRTriggered bool    `json:"samr_triggered"`
		Correct       bool    `json:"correct"`
		FalseNegative bool    `json:"false_negative"`
		Similarity    float64 `json:"similarity"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		respondBadRequest(w, "session_id is required")
		return
	}

	fb := &core.SAMRFeedback{
		ID:            uuid.NewString(),
		OrgID:         claims.OrgID,
		SessionID:     req.SessionID,
		AlertRaised:   req.AlertRaised,
		SAMRTriggered: req.SAMRTriggered,
		Correct:       req.Correct,
		FalseNegative: req.FalseNegative,
		Similarity:    req.Similarity,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.SAMR.SaveFeedback(r.Context(), fb); err != nil {
		respondError(w, err)
		return
	}
	if err := s.Thresholds.Invalidate(r.Context(), claims.OrgID); err != nil {
		respondError(w, err)
		return
	}

	if err := s.Recorder.Record(r.Context(), "samr.feedback", claims.Subject, claims.OrgID,
		"session", req.SessionID, map[string]interface{}{"correct": req.Correct}); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, fb)
}

func (s *Server) handleSAMRAlerts(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	limit, offset := pagination(r)
	alerts, err := s.SAMR.AlertsByOrg(r.Context(), claims.OrgID, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func (s *Server) handleSAMRAnalytics(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	since := time.Now().AddDate(0, 0, -30)
	if v := r.URL.Query().Get("days"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 && days <= 365 {
			since = time.Now().AddDate(0, 0, -days)
		}
	}

	analytics, err := s.SAMR.AnalyticsByOrg(r.Context(), claims.OrgID, since)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analytics)
}

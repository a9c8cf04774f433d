package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ventro/backend/internal/auth"
	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/jobs"
	"github.com/ventro/backend/internal/metrics"
	"github.com/ventro/backend/internal/middleware"
)

// handleCreateSession validates the triplet and persists the session.
// The pipeline does not start here; POST /sessions/{id}/run does that.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var req struct {
		DocumentIDs []string `json:"document_ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.DocumentIDs) < 2 || len(req.DocumentIDs) > 3 {
		respondBadRequest(w, "a session needs 2 or 3 document ids")
		return
	}

	docs, err := s.Documents.ByIDs(r.Context(), req.DocumentIDs)
	if err != nil {
		respondError(w, err)
		return
	}
	if len(docs) != len(req.DocumentIDs) {
		respondBadRequest(w, "one or more documents do not exist")
		return
	}
	seen := map[core.DocumentType]bool{}
	for _, doc := range docs {
		if !auth.CanAccessOrg(claims.Role, claims.OrgID, doc.OrgID) {
			respondJSON(w, http.StatusForbidden, map[string]string{"error": "cross-organization access denied"})
			return
		}
		if seen[doc.Type] {
			respondBadRequest(w, "duplicate document type in triplet")
			return
		}
		seen[doc.Type] = true
	}

	session := &core.Session{
		ID:          uuid.NewString(),
		OrgID:       claims.OrgID,
		DocumentIDs: req.DocumentIDs,
		State:       core.StateInitialized,
		CreatedBy:   claims.Subject,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.Sessions.Create(r.Context(), session); err != nil {
		respondError(w, err)
		return
	}

	if err := s.Recorder.Record(r.Context(), "session.created", claims.Subject, claims.OrgID,
		"session", session.ID, map[string]interface{}{"documents": req.DocumentIDs}); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

// handleRunSession queues the pipeline for a session. Only a session
// that has not started may run; anything else is a conflict.
func (s *Server) handleRunSession(w http.ResponseWriter, r *http.Request) {
	session := s.loadScopedSession(w, r)
	if session == nil {
		return
	}
	if !canStartRun(session.State) {
		respondJSON(w, http.StatusConflict, map[string]string{
			"error": "session already running or finished",
			"state": string(session.State),
		})
		return
	}

	if _, err := s.Jobs.Enqueue(r.Context(), jobs.TaskRunSession, jobs.RunSessionPayload{SessionID: session.ID}); err != nil {
		respondError(w, err)
		return
	}

	metrics.SessionsStarted.Inc()
	claims := middleware.ClaimsFromContext(r.Context())
	if err := s.Recorder.Record(r.Context(), "session.run_started", claims.Subject, claims.OrgID,
		"session", session.ID, nil); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"session_id": session.ID,
		"state":      string(session.State),
	})
}

// canStartRun reports whether the state permits queuing a run.
func canStartRun(state core.SessionState) bool {
	return state == core.StateInitialized
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	limit, offset := pagination(r)
	sessions, err := s.Sessions.ListByOrg(r.Context(), claims.OrgID, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// loadScopedSession fetches a session and enforces org scoping.
func (s *Server) loadScopedSession(w http.ResponseWriter, r *http.Request) *core.Session {
	claims := middleware.ClaimsFromContext(r.Context())
	session, err := s.Sessions.ByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return nil
	}
	if !auth.CanAccessOrg(claims.Role, claims.OrgID, session.OrgID) {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "cross-organization access denied"})
		return nil
	}
	return session
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if session := s.loadScopedSession(w, r); session != nil {
		respondJSON(w, http.StatusOK, session)
	}
}

func (s *Server) handleSessionFindings(w http.ResponseWriter, r *http.Request) {
	session := s.loadScopedSession(w, r)
	if session == nil {
		return
	}
	findings, err := s.Sessions.Findings(r.Context(), session.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"findings": findings})
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	session := s.loadScopedSession(w, r)
	if session == nil {
		return
	}
	results, err := s.Sessions.ExtractionResults(r.Context(), session.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// handleExportWorkpaper streams the rendered report. The content hash
// rides in a header so recipients can verify integrity offline.
func (s *Server) handleExportWorkpaper(w http.ResponseWriter, r *http.Request) {
	session := s.loadScopedSession(w, r)
	if session == nil {
		return
	}
	html, hash, err := s.Sessions.Workpaper(r.Context(), session.ID)
	if err != nil {
		respondError(w, err)
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if err := s.Recorder.Record(r.Context(), "workpaper.exported", claims.Subject, claims.OrgID,
		"session", session.ID, map[string]interface{}{"content_hash": hash}); err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Workpaper-Hash", hash)
	w.Header().Set("Content-Disposition", `attachment; filename="workpaper-`+session.ID+`.html"`)
	w.WriteHeader(http.StatusOK)
	w.Write(html)
}

// handleBatch queues a chord: one indexing task per document, then the
// match-and-dispatch callback that groups them into sessions.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var req struct {
		DocumentIDs []string `json:"document_ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.DocumentIDs) < 2 {
		respondBadRequest(w, "a batch needs at least 2 document ids")
		return
	}

	docs, err := s.Documents.ByIDs(r.Context(), req.DocumentIDs)
	if err != nil {
		respondError(w, err)
		return
	}
	if len(docs) != len(req.DocumentIDs) {
		respondBadRequest(w, "one or more documents do not exist")
		return
	}
	for _, doc := range docs {
		if !auth.CanAccessOrg(claims.Role, claims.OrgID, doc.OrgID) {
			respondJSON(w, http.StatusForbidden, map[string]string{"error": "cross-organization access denied"})
			return
		}
	}

	group := make([]jobs.ChordMember, len(req.DocumentIDs))
	for i, id := range req.DocumentIDs {
		group[i].Type = jobs.TaskProcessDocument
		group[i].Payload = jobs.ProcessDocumentPayload{DocumentID: id, OrgID: claims.OrgID}
	}

	chordID, err := s.Jobs.EnqueueChord(r.Context(), group, jobs.TaskMatchAndDispatch, jobs.BatchPayload{
		OrgID:       claims.OrgID,
		CreatedBy:   claims.Subject,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	if err := s.Recorder.Record(r.Context(), "batch.submitted", claims.Subject, claims.OrgID,
		"batch", chordID, map[string]interface{}{"documents": len(req.DocumentIDs)}); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch_id":  chordID,
		"documents": len(req.DocumentIDs),
	})
}

// handleProgressStream authenticates then hands off to the WebSocket
// relay. Browsers cannot set headers on WebSocket dials, so the token
// may ride in a query parameter instead.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); len(h) > 7 {
			token = h[7:]
		}
	}
	claims, err := s.Tokens.VerifyAccess(token)
	if err != nil || s.Denylist.IsDenied(r.Context(), claims.ID) {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}

	sessionID := mux.Vars(r)["id"]
	session, err := s.Sessions.ByID(r.Context(), sessionID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !auth.CanAccessOrg(claims.Role, claims.OrgID, session.OrgID) {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "cross-organization access denied"})
		return
	}

	s.Progress.Stream(w, r, sessionID)
}

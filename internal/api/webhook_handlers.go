package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/middleware"
	"github.com/ventro/backend/internal/webhooks"
)

// handleCreateWebhook registers a subscription in both the registry and
// the database. The signing secret is returned exactly once.
func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		respondBadRequest(w, "url must be an absolute http(s) URL")
		return
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		respondError(w, err)
		return
	}
	secret := hex.EncodeToString(secretBytes)

	sub := &webhooks.Subscription{
		ID:        uuid.NewString(),
		OrgID:     claims.OrgID,
		URL:       req.URL,
		Secret:    secret,
		CreatedAt: time.Now().UTC(),
	}
	for _, e := range req.Events {
		sub.Events = append(sub.Events, webhooks.EventType(e))
	}

	if err := s.Registry.Register(sub); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	endpoint := &core.WebhookEndpoint{
		ID:        sub.ID,
		OrgID:     sub.OrgID,
		URL:       sub.URL,
		Secret:    sub.Secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: sub.CreatedAt,
	}
	if err := s.Hooks.Create(r.Context(), endpoint); err != nil {
		s.Registry.Unregister(sub.ID)
		respondError(w, err)
		return
	}

	if err := s.Recorder.Record(r.Context(), "webhook.created", claims.Subject, claims.OrgID,
		"webhook", sub.ID, map[string]interface{}{"url": sub.URL, "events": req.Events}); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"webhook": sub,
		"secret":  secret,
	})
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"webhooks": s.Registry.ListByOrg(claims.OrgID),
	})
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	id := mux.Vars(r)["id"]

	sub, ok := s.Registry.Get(id)
	if !ok || sub.OrgID != claims.OrgID {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "webhook not found"})
		return
	}
	if err := s.Hooks.Delete(r.Context(), id, claims.OrgID); err != nil {
		respondError(w, err)
		return
	}
	s.Registry.Unregister(id)

	if err := s.Recorder.Record(r.Context(), "webhook.deleted", claims.Subject, claims.OrgID, "webhook", id, nil); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleTestWebhook queues a ping delivery to one endpoint.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	id := mux.Vars(r)["id"]

	sub, ok := s.Registry.Get(id)
	if !ok || sub.OrgID != claims.OrgID {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "webhook not found"})
		return
	}

	s.Dispatcher.EmitTest(sub)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "ping queued"})
}

func (s *Server) handleWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	id := mux.Vars(r)["id"]

	sub, ok := s.Registry.Get(id)
	if !ok || sub.OrgID != claims.OrgID {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "webhook not found"})
		return
	}

	limit, _ := pagination(r)
	deliveries, err := s.Hooks.Deliveries(r.Context(), id, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deliveries": deliveries})
}

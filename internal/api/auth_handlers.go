package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ventro/backend/internal/auth"
	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/middleware"
	"github.com/ventro/backend/internal/webhooks"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (s *Server) issueTokens(w http.ResponseWriter, r *http.Request, user *core.User) {
	access, _, err := s.Tokens.IssueAccess(user)
	if err != nil {
		respondError(w, err)
		return
	}
	refresh, refreshHash, err := auth.NewRefreshToken()
	if err != nil {
		respondError(w, err)
		return
	}
	expiry := time.Now().Add(s.Tokens.RefreshTTL())
	if err := s.Users.StoreRefreshToken(r.Context(), user.ID, refreshHash, expiry); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.Tokens.AccessTTL().Seconds()),
		TokenType:    "Bearer",
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		OrgID    string `json:"org_id"`
		Role     string `json:"role"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.OrgID == "" {
		respondBadRequest(w, "email and org_id are required")
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleAPAnalyst
	}
	if !auth.ValidRole(req.Role) {
		respondBadRequest(w, "unknown role")
		return
	}
	if reasons := auth.CheckPasswordStrength(req.Password); len(reasons) > 0 {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "password does not meet policy",
			"reasons": reasons,
		})
		return
	}

	hash, err := s.Hasher.Hash(req.Password)
	if err != nil {
		respondError(w, err)
		return
	}
	user := &core.User{
		ID:           uuid.NewString(),
		OrgID:        req.OrgID,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.Users.Create(r.Context(), user); err != nil {
		respondError(w, err)
		return
	}

	if err := s.Recorder.Record(r.Context(), "user.created", user.ID, user.OrgID, "user", user.ID,
		map[string]interface{}{"email": user.Email, "role": user.Role}); err != nil {
		respondError(w, err)
		return
	}
	s.Dispatcher.Emit(webhooks.EventUserCreated, user.OrgID, map[string]interface{}{
		"user_id": user.ID, "email": user.Email, "role": user.Role,
	})

	s.issueTokens(w, r, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.Users.ByEmail(r.Context(), req.Email)
	if err != nil || !user.Active || !s.Hasher.Verify(req.Password, user.PasswordHash) {
		// Uniform response for unknown user and wrong password.
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	if err := s.Recorder.Record(r.Context(), "user.login", user.ID, user.OrgID, "user", user.ID, nil); err != nil {
		respondError(w, err)
		return
	}
	s.issueTokens(w, r, user)
}

// handleRefresh rotates the refresh token: the presented token is
// consumed and a new pair is issued.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	userID, err := s.Users.ConsumeRefreshToken(r.Context(), auth.HashRefreshToken(req.RefreshToken))
	if err != nil {
		respondError(w, err)
		return
	}
	user, err := s.Users.ByID(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !user.Active {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "account disabled"})
		return
	}
	s.issueTokens(w, r, user)
}

// handleLogout denylists the presented access token and drops the
// user's refresh tokens.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims.ExpiresAt != nil {
		if err := s.Denylist.Deny(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			respondError(w, err)
			return
		}
	}
	if err := s.Users.DeleteRefreshTokens(r.Context(), claims.Subject); err != nil {
		respondError(w, err)
		return
	}
	if err := s.Recorder.Record(r.Context(), "user.logout", claims.Subject, claims.OrgID, "user", claims.Subject, nil); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleMe returns the caller's identity as the token asserts it.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": claims.Subject,
		"org_id":  claims.OrgID,
		"role":    claims.Role,
	})
}

// handleRevokeUser invalidates every outstanding credential of a user.
func (s *Server) handleRevokeUser(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	targetID := mux.Vars(r)["id"]

	target, err := s.Users.ByID(r.Context(), targetID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !auth.CanAccessOrg(claims.Role, claims.OrgID, target.OrgID) {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "cross-organization access denied"})
		return
	}

	now := time.Now().UTC()
	if err := s.Users.MarkRevoked(r.Context(), targetID, now); err != nil {
		respondError(w, err)
		return
	}
	if err := s.Users.DeleteRefreshTokens(r.Context(), targetID); err != nil {
		respondError(w, err)
		return
	}
	if err := s.Denylist.RevokeUser(r.Context(), targetID, s.Tokens.AccessTTL()); err != nil {
		respondError(w, err)
		return
	}

	if err := s.Recorder.Record(r.Context(), "user.revoked", claims.Subject, claims.OrgID, "user", targetID, nil); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	users, err := s.Users.ListByOrg(r.Context(), claims.OrgID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	targetID := mux.Vars(r)["id"]

	var req struct {
		Role string `json:"role"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !auth.ValidRole(req.Role) {
		respondBadRequest(w, "unknown role")
		return
	}

	target, err := s.Users.ByID(r.Context(), targetID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !auth.CanAccessOrg(claims.Role, claims.OrgID, target.OrgID) {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "cross-organization access denied"})
		return
	}

	if err := s.Users.UpdateRole(r.Context(), targetID, req.Role); err != nil {
		respondError(w, err)
		return
	}

	if err := s.Recorder.Record(r.Context(), "user.role_changed", claims.Subject, claims.OrgID, "user", targetID,
		map[string]interface{}{"from": target.Role, "to": req.Role}); err != nil {
		respondError(w, err)
		return
	}
	s.Dispatcher.Emit(webhooks.EventUserRoleChanged, target.OrgID, map[string]interface{}{
		"user_id": targetID, "from": target.Role, "to": req.Role,
	})
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated", "role": req.Role})
}

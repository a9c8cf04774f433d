// Package api exposes the reconciliation service over REST/JSON plus a
// WebSocket progress stream.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ventro/backend/internal/audit"
	"github.com/ventro/backend/internal/auth"
	"github.com/ventro/backend/internal/batch"
	"github.com/ventro/backend/internal/config"
	"github.com/ventro/backend/internal/jobs"
	"github.com/ventro/backend/internal/llm"
	"github.com/ventro/backend/internal/middleware"
	"github.com/ventro/backend/internal/progress"
	"github.com/ventro/backend/internal/repo"
	"github.com/ventro/backend/internal/storage"
	"github.com/ventro/backend/internal/webhooks"
)

// Deps carries everything the HTTP layer needs. Wired once in main.
type Deps struct {
	Config     *config.Config
	Users      *repo.UserRepo
	Documents  *repo.DocumentRepo
	Sessions   *repo.SessionRepo
	SAMR       *repo.SAMRRepo
	Audit      *repo.AuditRepo
	Hooks      *repo.WebhookRepo
	Files      *storage.FileStore
	Hasher     *auth.PasswordHasher
	Tokens     *auth.TokenManager
	Denylist   *auth.Denylist
	Recorder   *audit.Recorder
	Registry   *webhooks.Registry
	Dispatcher *webhooks.Dispatcher
	Limiter    *middleware.RateLimiter
	Router     *llm.Router
	Thresholds ThresholdInvalidator
	Jobs       *jobs.Runtime
	Matcher    *batch.Matcher
	Progress   *progress.Handler
}

// ThresholdInvalidator drops the cached SAMR threshold after feedback.
type ThresholdInvalidator interface {
	Invalidate(ctx context.Context, orgID string) error
}

type Server struct {
	Deps
	logger  *log.Logger
	httpSrv *http.Server
}

func NewServer(deps Deps) *Server {
	return &Server{
		Deps:   deps,
		logger: log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Start builds the route table and serves until Shutdown.
func (s *Server) Start() error {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	authn := middleware.NewAuthenticator(s.Tokens, s.Denylist)

	tierAuth := middleware.Tier{Name: "auth", Limit: s.Config.RateLimit.AuthPerMinute}
	tierUpload := middleware.Tier{Name: "upload", Limit: s.Config.RateLimit.UploadPerMinute}
	tierAPI := middleware.Tier{Name: "api", Limit: s.Config.RateLimit.APIPerMinute}

	// ===== Public =====

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/health/live", s.handleLive).Methods("GET")
	r.HandleFunc("/health/ready", s.handleReady).Methods("GET")

	pub := r.PathPrefix("/api/v1/auth").Subrouter()
	pub.Use(s.Limiter.Middleware(tierAuth, middleware.StrategyPerIP))
	pub.HandleFunc("/register", s.handleRegister).Methods("POST")
	pub.HandleFunc("/login", s.handleLogin).Methods("POST")
	pub.HandleFunc("/refresh", s.handleRefresh).Methods("POST")

	// ===== Authenticated =====

	apiR := r.PathPrefix("/api/v1").Subrouter()
	apiR.Use(authn.Middleware)
	apiR.Use(s.Limiter.Middleware(tierAPI, middleware.StrategyPerIPAndUser))

	apiR.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")
	apiR.HandleFunc("/auth/me", s.handleMe).Methods("GET")

	// Documents. Upload carries its own tighter limit.
	up := r.PathPrefix("/api/v1/documents").Subrouter()
	up.Use(authn.Middleware)
	up.Use(s.Limiter.Middleware(tierUpload, middleware.StrategyPerIPAndUser))
	up.HandleFunc("", middleware.RequirePermission(auth.PermDocumentsWrite, s.handleUploadDocument)).Methods("POST")
	up.HandleFunc("/{id}/versions", middleware.RequirePermission(auth.PermDocumentsWrite, s.handleUploadVersion)).Methods("POST")

	apiR.HandleFunc("/documents", middleware.RequirePermission(auth.PermDocumentsRead, s.handleListDocuments)).Methods("GET")
	apiR.HandleFunc("/documents/{id}", middleware.RequirePermission(auth.PermDocumentsRead, s.handleGetDocument)).Methods("GET")
	apiR.HandleFunc("/documents/{id}/versions", middleware.RequirePermission(auth.PermDocumentsRead, s.handleListVersions)).Methods("GET")

	// Reconciliation sessions.
	apiR.HandleFunc("/sessions", middleware.RequirePermission(auth.PermReconciliationRun, s.handleCreateSession)).Methods("POST")
	apiR.HandleFunc("/sessions", middleware.RequirePermission(auth.PermReconciliationRead, s.handleListSessions)).Methods("GET")
	apiR.HandleFunc("/sessions/{id}", middleware.RequirePermission(auth.PermReconciliationRead, s.handleGetSession)).Methods("GET")
	apiR.HandleFunc("/sessions/{id}/run", middleware.RequirePermission(auth.PermReconciliationRun, s.handleRunSession)).Methods("POST")
	apiR.HandleFunc("/sessions/{id}/findings", middleware.RequirePermission(auth.PermReconciliationRead, s.handleSessionFindings)).Methods("GET")
	apiR.HandleFunc("/sessions/{id}/results", middleware.RequirePermission(auth.PermReconciliationRead, s.handleSessionResults)).Methods("GET")
	apiR.HandleFunc("/sessions/{id}/workpaper", middleware.RequirePermission(auth.PermWorkpaperExport, s.handleExportWorkpaper)).Methods("GET")

	// Batch matching.
	apiR.HandleFunc("/batch", middleware.RequirePermission(auth.PermBatchRun, s.handleBatch)).Methods("POST")

	// SAMR feedback and analytics.
	apiR.HandleFunc("/samr/feedback", middleware.RequirePermission(auth.PermSAMRFeedback, s.handleSAMRFeedback)).Methods("POST")
	apiR.HandleFunc("/samr/alerts", middleware.RequirePermission(auth.PermAnalyticsRead, s.handleSAMRAlerts)).Methods("GET")
	apiR.HandleFunc("/samr/analytics", middleware.RequirePermission(auth.PermAnalyticsRead, s.handleSAMRAnalytics)).Methods("GET")

	// Webhook administration.
	apiR.HandleFunc("/webhooks", middleware.RequirePermission(auth.PermWebhooksManage, s.handleCreateWebhook)).Methods("POST")
	apiR.HandleFunc("/webhooks", middleware.RequirePermission(auth.PermWebhooksManage, s.handleListWebhooks)).Methods("GET")
	apiR.HandleFunc("/webhooks/{id}", middleware.RequirePermission(auth.PermWebhooksManage, s.handleDeleteWebhook)).Methods("DELETE")
	apiR.HandleFunc("/webhooks/{id}/test", middleware.RequirePermission(auth.PermWebhooksManage, s.handleTestWebhook)).Methods("POST")
	apiR.HandleFunc("/webhooks/{id}/deliveries", middleware.RequirePermission(auth.PermWebhooksManage, s.handleWebhookDeliveries)).Methods("GET")

	// Audit trail.
	apiR.HandleFunc("/audit", middleware.RequirePermission(auth.PermAuditRead, s.handleAuditEvents)).Methods("GET")
	apiR.HandleFunc("/audit/verify", middleware.RequirePermission(auth.PermAuditVerify, s.handleAuditVerify)).Methods("GET")

	// User administration.
	apiR.HandleFunc("/admin/users", middleware.RequirePermission(auth.PermUsersManage, s.handleListUsers)).Methods("GET")
	apiR.HandleFunc("/admin/users/{id}/role", middleware.RequirePermission(auth.PermUsersManage, s.handleChangeRole)).Methods("PATCH")
	apiR.HandleFunc("/admin/users/{id}/revoke", middleware.RequirePermission(auth.PermUsersManage, s.handleRevokeUser)).Methods("POST")

	// Progress stream. Auth happens inside the handler so browsers can
	// connect with a token query parameter.
	r.HandleFunc("/ws/sessions/{id}", s.handleProgressStream).Methods("GET")

	s.httpSrv = &http.Server{
		Addr:         ":" + s.Config.Server.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Printf("listening on %s", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

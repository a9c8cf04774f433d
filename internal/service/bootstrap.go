// Package service wires the application graph shared by the API and
// worker binaries: config, secrets, storage, Redis, Postgres, the LLM
// chain, and the reconciliation pipeline.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ventro/backend/internal/audit"
	"github.com/ventro/backend/internal/auth"
	"github.com/ventro/backend/internal/batch"
	"github.com/ventro/backend/internal/config"
	"github.com/ventro/backend/internal/crypto"
	"github.com/ventro/backend/internal/extraction"
	"github.com/ventro/backend/internal/infra"
	"github.com/ventro/backend/internal/jobs"
	"github.com/ventro/backend/internal/llm"
	"github.com/ventro/backend/internal/metrics"
	"github.com/ventro/backend/internal/pipeline"
	"github.com/ventro/backend/internal/progress"
	"github.com/ventro/backend/internal/quant"
	"github.com/ventro/backend/internal/repo"
	"github.com/ventro/backend/internal/samr"
	"github.com/ventro/backend/internal/secrets"
	"github.com/ventro/backend/internal/storage"
	"github.com/ventro/backend/internal/vector"
	"github.com/ventro/backend/internal/webhooks"
)

// embedDim is the fallback vector width when the embedder is down; it
// must match the Ollama embedding model in use.
const embedDim = 768

// App is the wired dependency graph.
type App struct {
	Config *config.Config

	DB    *sql.DB
	Redis *redis.Client

	Users     *repo.UserRepo
	Documents *repo.DocumentRepo
	Sessions  *repo.SessionRepo
	SAMRRepo  *repo.SAMRRepo
	AuditRepo *repo.AuditRepo
	HookRepo  *repo.WebhookRepo

	Files  *storage.FileStore
	Loader *storage.DocumentLoader

	Hasher   *auth.PasswordHasher
	Tokens   *auth.TokenManager
	Denylist *auth.Denylist
	Recorder *audit.Recorder

	Router     *llm.Router
	Embedder   *llm.SafeEmbedder
	Vectors    *vector.MemoryStore
	Engine     *extraction.Engine
	Validator  *quant.Validator
	Thresholds *samr.ThresholdService
	Detector   *samr.Detector
	Matcher    *batch.Matcher

	Registry   *webhooks.Registry
	Dispatcher *webhooks.Dispatcher
	Publisher  *progress.Publisher
	Subscriber *progress.Subscriber

	Orchestrator *pipeline.Orchestrator
	Jobs         *jobs.Runtime
}

// Build constructs the graph. Fatal misconfiguration surfaces here, at
// startup, never at request time.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	sec, err := secrets.New(ctx, cfg.Secrets.Provider, cfg.Secrets.SSMPrefix)
	if err != nil {
		return nil, err
	}

	// ===== Stores =====

	app.DB, err = repo.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	app.Redis, err = infra.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	app.Users = repo.NewUserRepo(app.DB)
	app.Documents = repo.NewDocumentRepo(app.DB)
	app.Sessions = repo.NewSessionRepo(app.DB)
	app.SAMRRepo = repo.NewSAMRRepo(app.DB)
	app.AuditRepo = repo.NewAuditRepo(app.DB)
	app.HookRepo = repo.NewWebhookRepo(app.DB)
	app.Recorder = audit.NewRecorder(app.AuditRepo)

	// ===== Crypto and auth =====

	masterKey := []byte{}
	if keyHex, err := sec.Get(ctx, cfg.Crypto.MasterKeyRef); err == nil {
		masterKey = []byte(keyHex)
	}
	enc, err := crypto.NewEncryptor(masterKey, cfg.Server.IsProduction())
	if err != nil {
		return nil, err
	}
	app.Files, err = storage.NewFileStore(cfg.Storage.Root, enc)
	if err != nil {
		return nil, err
	}
	app.Loader = storage.NewDocumentLoader(app.Documents, app.Files)

	jwtSecret, err := sec.Get(ctx, cfg.Auth.JWTSecretRef)
	if err != nil {
		return nil, fmt.Errorf("resolving JWT secret: %w", err)
	}
	app.Hasher = auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	app.Tokens = auth.NewTokenManager([]byte(jwtSecret), cfg.Auth.AccessTTL(), cfg.Auth.RefreshTTL())
	app.Denylist = auth.NewDenylist(app.Redis)

	// ===== LLM chain =====

	httpClient := &http.Client{Timeout: cfg.LLM.CallTimeout()}
	var chain []llm.Client
	var embedder llm.Embedder
	for _, name := range cfg.LLM.Chain {
		switch name {
		case "groq":
			apiKey, err := sec.Get(ctx, cfg.LLM.GroqAPIKeyRef)
			if err != nil {
				slog.Warn("groq API key unavailable, provider skipped", "error", err)
				continue
			}
			chain = append(chain, llm.NewGroqClient(apiKey, cfg.LLM.GroqModel, cfg.LLM.GroqBaseURL, httpClient))
		case "ollama":
			ollama := llm.NewOllamaClient(cfg.LLM.OllamaBaseURL, cfg.LLM.OllamaModel, cfg.LLM.EmbedModel, httpClient)
			chain = append(chain, ollama)
			embedder = ollama
		case "rule_based":
			chain = append(chain, llm.NewRuleBasedClient())
		default:
			return nil, fmt.Errorf("unknown LLM provider %q in chain", name)
		}
	}
	if embedder == nil {
		embedder = llm.NewOllamaClient(cfg.LLM.OllamaBaseURL, cfg.LLM.OllamaModel, cfg.LLM.EmbedModel, httpClient)
	}

	app.Router = llm.NewRouter(chain,
		uint32(cfg.LLM.BreakerFailures), cfg.LLM.BreakerRecovery(), cfg.LLM.CallTimeout(),
		llm.WithFailoverHook(func(from, to string) {
			metrics.LLMFailovers.WithLabelValues(from, to).Inc()
		}))
	app.Embedder = llm.NewSafeEmbedder(embedder, embedDim)

	// ===== Pipeline =====

	app.Vectors = vector.NewMemoryStore()
	app.Engine = extraction.NewEngine(app.Router, app.Embedder, app.Vectors,
		time.Duration(cfg.Pipeline.ExtractionTimeoutSec)*time.Second)
	app.Validator = quant.NewValidator(nil)
	app.Thresholds = samr.NewThresholdService(app.SAMRRepo, app.Redis,
		cfg.SAMR.PriorThreshold, cfg.SAMR.WindowSize, cfg.SAMR.MinSamples,
		cfg.SAMR.ShrinkageAlpha, time.Duration(cfg.SAMR.CacheTTLSec)*time.Second)
	app.Detector = samr.NewDetector(app.Embedder, app.Thresholds, cfg.SAMR.PerturbStrength)
	app.Matcher = batch.NewMatcher(app.Embedder)

	// ===== Outbound =====

	app.Registry = webhooks.NewRegistry()
	subs, err := app.HookRepo.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("hydrating webhook registry: %w", err)
	}
	for _, sub := range subs {
		hydrate := *sub
		if err := app.Registry.Register(&hydrate); err != nil {
			slog.Warn("skipping stored webhook", "id", sub.ID, "error", err)
		}
	}

	app.Dispatcher = webhooks.NewDispatcher(app.Registry,
		cfg.Webhooks.Workers, cfg.Webhooks.QueueSize,
		time.Duration(cfg.Webhooks.TimeoutSec)*time.Second,
		func(rec webhooks.DeliveryRecord) {
			outcome := "failed"
			if rec.Error == "" && rec.StatusCode >= 200 && rec.StatusCode < 300 {
				outcome = "delivered"
			}
			metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()
			if err := app.HookRepo.RecordDelivery(context.Background(), rec); err != nil {
				slog.Warn("recording webhook delivery", "error", err)
			}
			if sub, ok := app.Registry.Get(rec.SubscriptionID); ok {
				if err := app.HookRepo.SetFailureState(context.Background(), sub.ID, sub.FailCount, sub.Active); err != nil {
					slog.Warn("persisting webhook failure state", "error", err)
				}
			}
		})

	app.Publisher = progress.NewPublisher(app.Redis)
	app.Subscriber = progress.NewSubscriber(app.Redis)

	app.Orchestrator = pipeline.NewOrchestrator(
		repo.NewPipelineStore(app.Sessions, app.SAMRRepo),
		app.Loader, app.Engine, app.Validator, app.Detector, app.Router,
		app.Publisher, app.Dispatcher,
		cfg.Pipeline.MaxIterations, cfg.Pipeline.MaxStageErrors,
		true)

	app.Jobs = jobs.NewRuntime(app.Redis, jobs.Config{
		Concurrency:    cfg.Jobs.Concurrency,
		MaxRetries:     cfg.Jobs.MaxRetries,
		RetryBackoff:   time.Duration(cfg.Jobs.RetryBackoffSec) * time.Second,
		SoftTimeLimit:  time.Duration(cfg.Jobs.SoftTimeLimitSec) * time.Second,
		HardTimeLimit:  time.Duration(cfg.Jobs.HardTimeLimitSec) * time.Second,
		TasksPerWorker: cfg.Jobs.TasksPerWorker,
	})

	return app, nil
}

// Close releases the long-lived connections.
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Shutdown()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

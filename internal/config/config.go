package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	LLM       LLMConfig       `yaml:"llm"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	SAMR      SAMRConfig      `yaml:"samr"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
	Env         string `yaml:"env"` // development | production
}

func (s ServerConfig) IsProduction() bool { return s.Env == "production" }

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecretRef     string `yaml:"jwt_secret_ref"` // secrets-provider key
	AccessTTLMinutes int    `yaml:"access_ttl_minutes"`
	RefreshTTLDays   int    `yaml:"refresh_ttl_days"`
	BcryptCost       int    `yaml:"bcrypt_cost"`
}

func (a AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessTTLMinutes) * time.Minute
}

func (a AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshTTLDays) * 24 * time.Hour
}

type RateLimitConfig struct {
	Enabled         bool     `yaml:"enabled"`
	AuthPerMinute   int      `yaml:"auth_per_minute"`
	UploadPerMinute int      `yaml:"upload_per_minute"`
	APIPerMinute    int      `yaml:"api_per_minute"`
	BurstFactor     float64  `yaml:"burst_factor"`
	WhitelistCIDRs  []string `yaml:"whitelist_cidrs"`
}

type LLMConfig struct {
	// Ordered failover chain; the last entry must be "rule_based".
	Chain              []string `yaml:"chain"`
	GroqAPIKeyRef      string   `yaml:"groq_api_key_ref"`
	GroqModel          string   `yaml:"groq_model"`
	GroqBaseURL        string   `yaml:"groq_base_url"`
	OllamaBaseURL      string   `yaml:"ollama_base_url"`
	OllamaModel        string   `yaml:"ollama_model"`
	EmbedModel         string   `yaml:"embed_model"`
	CallTimeoutSec     int      `yaml:"call_timeout_sec"`
	BreakerFailures    int      `yaml:"breaker_failures"`
	BreakerRecoverySec int      `yaml:"breaker_recovery_sec"`
}

func (l LLMConfig) CallTimeout() time.Duration {
	if l.CallTimeoutSec <= 0 {
		return 45 * time.Second
	}
	return time.Duration(l.CallTimeoutSec) * time.Second
}

func (l LLMConfig) BreakerRecovery() time.Duration {
	return time.Duration(l.BreakerRecoverySec) * time.Second
}

type CryptoConfig struct {
	MasterKeyRef string `yaml:"master_key_ref"`
}

type SecretsConfig struct {
	// env, aws, or auto (aws when AWS_REGION is set, env otherwise).
	Provider  string `yaml:"provider"`
	SSMPrefix string `yaml:"ssm_prefix"`
}

type SAMRConfig struct {
	PriorThreshold  float64 `yaml:"prior_threshold"`
	PerturbStrength float64 `yaml:"perturb_strength"`
	WindowSize      int     `yaml:"window_size"`
	MinSamples      int     `yaml:"min_samples"`
	ShrinkageAlpha  float64 `yaml:"shrinkage_alpha"`
	CacheTTLSec     int     `yaml:"cache_ttl_sec"`
}

type PipelineConfig struct {
	ExtractionTimeoutSec int `yaml:"extraction_timeout_sec"`
	MaxIterations        int `yaml:"max_iterations"`
	MaxStageErrors       int `yaml:"max_stage_errors"`
}

type JobsConfig struct {
	Concurrency      int `yaml:"concurrency"`
	MaxRetries       int `yaml:"max_retries"`
	RetryBackoffSec  int `yaml:"retry_backoff_sec"`
	SoftTimeLimitSec int `yaml:"soft_time_limit_sec"`
	HardTimeLimitSec int `yaml:"hard_time_limit_sec"`
	TasksPerWorker   int `yaml:"tasks_per_worker"`
}

type WebhooksConfig struct {
	Workers    int `yaml:"workers"`
	QueueSize  int `yaml:"queue_size"`
	TimeoutSec int `yaml:"timeout_sec"`
}

type StorageConfig struct {
	Root string `yaml:"root"`
}

// LoadConfig reads the YAML file and overlays environment variables so
// deployments can override single values without editing the file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overlayStr(&c.Server.Port, "VENTRO_PORT")
	overlayStr(&c.Server.Env, "VENTRO_ENV")
	overlayStr(&c.Database.DSN, "DATABASE_URL")
	overlayStr(&c.Redis.Addr, "REDIS_ADDR")
	overlayStr(&c.Redis.Password, "REDIS_PASSWORD")
	overlayStr(&c.LLM.GroqBaseURL, "GROQ_BASE_URL")
	overlayStr(&c.LLM.OllamaBaseURL, "OLLAMA_BASE_URL")
	overlayStr(&c.Storage.Root, "VENTRO_STORAGE_ROOT")
	overlayInt(&c.Jobs.Concurrency, "VENTRO_WORKER_CONCURRENCY")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.MetricsPort == "" {
		c.Server.MetricsPort = "9090"
	}
	if c.Auth.AccessTTLMinutes <= 0 {
		c.Auth.AccessTTLMinutes = 60
	}
	if c.Auth.RefreshTTLDays <= 0 {
		c.Auth.RefreshTTLDays = 7
	}
	if c.Auth.BcryptCost <= 0 {
		c.Auth.BcryptCost = 12
	}
	if c.RateLimit.AuthPerMinute <= 0 {
		c.RateLimit.AuthPerMinute = 10
	}
	if c.RateLimit.UploadPerMinute <= 0 {
		c.RateLimit.UploadPerMinute = 20
	}
	if c.RateLimit.APIPerMinute <= 0 {
		c.RateLimit.APIPerMinute = 120
	}
	if c.RateLimit.BurstFactor <= 0 {
		c.RateLimit.BurstFactor = 1.5
	}
	if len(c.LLM.Chain) == 0 {
		c.LLM.Chain = []string{"groq", "ollama", "rule_based"}
	}
	if c.LLM.BreakerFailures <= 0 {
		c.LLM.BreakerFailures = 3
	}
	if c.LLM.BreakerRecoverySec <= 0 {
		c.LLM.BreakerRecoverySec = 60
	}
	if c.SAMR.PriorThreshold <= 0 {
		c.SAMR.PriorThreshold = 0.85
	}
	if c.SAMR.PerturbStrength <= 0 {
		c.SAMR.PerturbStrength = 0.1
	}
	if c.SAMR.WindowSize <= 0 {
		c.SAMR.WindowSize = 30
	}
	if c.SAMR.MinSamples <= 0 {
		c.SAMR.MinSamples = 5
	}
	if c.SAMR.ShrinkageAlpha <= 0 {
		c.SAMR.ShrinkageAlpha = 0.30
	}
	if c.SAMR.CacheTTLSec <= 0 {
		c.SAMR.CacheTTLSec = 3600
	}
	if c.Pipeline.ExtractionTimeoutSec <= 0 {
		c.Pipeline.ExtractionTimeoutSec = 90
	}
	if c.Pipeline.MaxIterations <= 0 {
		c.Pipeline.MaxIterations = 20
	}
	if c.Pipeline.MaxStageErrors <= 0 {
		c.Pipeline.MaxStageErrors = 3
	}
	if c.Jobs.Concurrency <= 0 {
		c.Jobs.Concurrency = 4
	}
	if c.Jobs.MaxRetries <= 0 {
		c.Jobs.MaxRetries = 3
	}
	if c.Jobs.RetryBackoffSec <= 0 {
		c.Jobs.RetryBackoffSec = 30
	}
	if c.Jobs.SoftTimeLimitSec <= 0 {
		c.Jobs.SoftTimeLimitSec = 300
	}
	if c.Jobs.HardTimeLimitSec <= 0 {
		c.Jobs.HardTimeLimitSec = 360
	}
	if c.Jobs.TasksPerWorker <= 0 {
		c.Jobs.TasksPerWorker = 100
	}
	if c.Webhooks.Workers <= 0 {
		c.Webhooks.Workers = 5
	}
	if c.Webhooks.QueueSize <= 0 {
		c.Webhooks.QueueSize = 1000
	}
	if c.Webhooks.TimeoutSec <= 0 {
		c.Webhooks.TimeoutSec = 10
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "./data/documents"
	}
}

func overlayStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overlayInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

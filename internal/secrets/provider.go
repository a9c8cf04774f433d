// Package secrets resolves secret references (JWT signing key, provider
// API keys, the encryption master key) from the configured backend.
package secrets

import (
	"context"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/ventro/backend/internal/core"
)

// Provider resolves a named secret. Implementations must be safe for
// concurrent use.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// New selects a backend: "env", "aws", or "auto" (aws when AWS_REGION is
// present, env otherwise).
func New(ctx context.Context, provider, ssmPrefix string) (Provider, error) {
	switch provider {
	case "", "env":
		return EnvProvider{}, nil
	case "aws":
		return newSSMProvider(ctx, ssmPrefix)
	case "auto":
		if os.Getenv("AWS_REGION") != "" {
			return newSSMProvider(ctx, ssmPrefix)
		}
		slog.Info("secrets provider auto-selected env backend")
		return EnvProvider{}, nil
	default:
		return nil, core.Errorf(core.KindValidation, "unknown secrets provider %q", provider)
	}
}

// EnvProvider reads secrets from environment variables. Reference names
// are upper-snake-cased: "jwt-secret" resolves VENTRO_JWT_SECRET then
// JWT_SECRET.
type EnvProvider struct{}

func (EnvProvider) Get(_ context.Context, name string) (string, error) {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(name))
	if v := os.Getenv("VENTRO_" + key); v != "" {
		return v, nil
	}
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", core.Errorf(core.KindNotFound, "secret %q not set in environment", name)
}

// SSMProvider reads secrets from AWS Systems Manager Parameter Store with
// decryption, caching each value for the process lifetime.
type SSMProvider struct {
	client *ssm.Client
	prefix string

	mu    sync.RWMutex
	cache map[string]string
}

func newSSMProvider(ctx context.Context, prefix string) (*SSMProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, core.Wrap(core.KindFatal, "loading AWS config", err)
	}
	if prefix == "" {
		prefix = "/ventro"
	}
	slog.Info("secrets provider using SSM Parameter Store", "prefix", prefix)
	return &SSMProvider{
		client: ssm.NewFromConfig(cfg),
		prefix: prefix,
		cache:  make(map[string]string),
	}, nil
}

func (p *SSMProvider) Get(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	if v, ok := p.cache[name]; ok {
		p.mu.RUnlock()
		return v, nil
	}
	p.mu.RUnlock()

	paramName := path.Join(p.prefix, name)
	decrypt := true
	out, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return "", core.Wrap(core.KindNotFound, "fetching SSM parameter "+paramName, err)
	}
	value := *out.Parameter.Value

	p.mu.Lock()
	p.cache[name] = value
	p.mu.Unlock()
	return value, nil
}

// Package configs parses the vault configuration from environment variables.
package configs

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	log "github.com/sirupsen/logrus"
)

const (
	DeploymentModeLocal = "local"
	DeploymentModeCloud = "cloud"

	KMSTypeGoogle = "google_kms"
	KMSTypeAWS    = "aws_kms"
	KMSTypeLocal  = "local"

	StateStoreShared = "shared"
	StateStoreRedis  = "redis"
)

type Config struct {
	LogLevel string `env:"VAULT_LOG_LEVEL" envDefault:"info"`

	// "local" skips key provisioning entirely and stores secrets with the
	// insecure base64 codec. Never use it outside of development.
	DeploymentMode string `env:"VAULT_DEPLOYMENT_MODE" envDefault:"cloud"`

	DatabaseDSN  string `env:"VAULT_DATABASE_DSN" envDefault:"vault.db"`
	DatabaseType string `env:"VAULT_DATABASE_TYPE" envDefault:"sqlite"`

	KMSType           string        `env:"VAULT_KMS_TYPE" envDefault:"google_kms"`
	KMSProjectID      string        `env:"VAULT_KMS_PROJECT_ID"`
	KMSLocationID     string        `env:"VAULT_KMS_LOCATION_ID" envDefault:"global"`
	KMSKeyRingID      string        `env:"VAULT_KMS_KEY_RING_ID" envDefault:"credential-vault"`
	KMSMaxRequestRate int           `env:"VAULT_KMS_MAX_REQUEST_RATE" envDefault:"0"`
	KMSKeyWaitTimeout time.Duration `env:"VAULT_KMS_KEY_WAIT_TIMEOUT" envDefault:"5m"`

	// Master key for the in-process KMS, must be 32 bytes.
	EncryptionKey string `env:"VAULT_ENCRYPTION_KEY"`

	OAuthStateTTL   time.Duration `env:"VAULT_OAUTH_STATE_TTL" envDefault:"10m"`
	OAuthStateStore string        `env:"VAULT_OAUTH_STATE_STORE" envDefault:"shared"`
	RedisURL        string        `env:"VAULT_REDIS_URL"`

	GoogleClientID     string   `env:"VAULT_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string   `env:"VAULT_GOOGLE_CLIENT_SECRET"`
	GoogleScopes       []string `env:"VAULT_GOOGLE_SCOPES" envSeparator:"," envDefault:"openid,email,profile"`

	AnalyticsWebhookURL     string        `env:"VAULT_ANALYTICS_WEBHOOK_URL"`
	AnalyticsWebhookTimeout time.Duration `env:"VAULT_ANALYTICS_WEBHOOK_TIMEOUT" envDefault:"5s"`

	TracingEnabled   bool   `env:"VAULT_TRACING_ENABLED" envDefault:"false"`
	TracingProjectID string `env:"VAULT_TRACING_PROJECT_ID"`
}

// Parse reads the environment into a Config and validates it.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	switch cfg.DeploymentMode {
	case DeploymentModeLocal, DeploymentModeCloud:
	default:
		return fmt.Errorf("unknown deployment mode %q", cfg.DeploymentMode)
	}

	switch cfg.KMSType {
	case KMSTypeGoogle, KMSTypeAWS:
	case KMSTypeLocal:
		if len(cfg.EncryptionKey) != 32 {
			return fmt.Errorf("kms type %q requires a 32 byte encryption key, got %d bytes", KMSTypeLocal, len(cfg.EncryptionKey))
		}
	default:
		return fmt.Errorf("unknown kms type %q", cfg.KMSType)
	}

	switch cfg.OAuthStateStore {
	case StateStoreShared:
	case StateStoreRedis:
		if cfg.RedisURL == "" {
			return fmt.Errorf("oauth state store set to redis but redis url is empty")
		}
	default:
		return fmt.Errorf("unknown oauth state store %q", cfg.OAuthStateStore)
	}

	if cfg.OAuthStateTTL <= 0 {
		return fmt.Errorf("oauth state ttl must be positive, got %s", cfg.OAuthStateTTL)
	}

	return nil
}

// IsLocal reports whether the vault runs without a KMS.
func (cfg *Config) IsLocal() bool {
	return cfg.DeploymentMode == DeploymentModeLocal
}

func ConfigureLogger(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithFields(log.Fields{"level": level}).Warn("Invalid log level, falling back to info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.JSONFormatter{})
}

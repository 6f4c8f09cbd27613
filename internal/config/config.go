package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port               int    `env:"PORT" envDefault:"8080"`
	DatabaseURL        string `env:"DATABASE_URL,required"`
	RedisURL           string `env:"REDIS_URL,required"`
	AdminPasswordHash  string `env:"ADMIN_PASSWORD_HASH"`
	AdminSessionSecret string `env:"ADMIN_SESSION_SECRET"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv             string `env:"APP_ENV" envDefault:"development"`

	OpenAIAPIKey             string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL            string `env:"OPENAI_BASE_URL" envDefault:""`
	AIDefaultProvider        string `env:"AI_DEFAULT_PROVIDER" envDefault:"openai"`
	AIDefaultModel           string `env:"AI_DEFAULT_MODEL" envDefault:"gpt-4o-mini"`
	AIProviderTimeoutSeconds int    `env:"AI_PROVIDER_TIMEOUT_SECONDS" envDefault:"30"`
	AIMinResponseLength      int    `env:"AI_MIN_RESPONSE_LENGTH" envDefault:"5"`

	SpikeThreshold        int `env:"SPIKE_THRESHOLD" envDefault:"20"`
	CredentialBcryptCost  int `env:"CREDENTIAL_BCRYPT_COST" envDefault:"10"`
	PolicyCacheTTLSeconds int `env:"POLICY_CACHE_TTL_SECONDS" envDefault:"10"`
	DetachedWorkers       int `env:"DETACHED_WORKERS" envDefault:"4"`
	DetachedQueueSize     int `env:"DETACHED_QUEUE_SIZE" envDefault:"256"`
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.AIProviderTimeoutSeconds) * time.Second
}

func (c *Config) PolicyCacheTTL() time.Duration {
	return time.Duration(c.PolicyCacheTTLSeconds) * time.Second
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.AdminPasswordHash != "" {
		if !strings.HasPrefix(c.AdminPasswordHash, "$2a$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2b$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2y$") {
			return fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash (generate with: studyctl hash-password <password>)")
		}
	}

	if c.SpikeThreshold < 0 {
		return fmt.Errorf("SPIKE_THRESHOLD must not be negative")
	}
	if c.CredentialBcryptCost < 4 || c.CredentialBcryptCost > 31 {
		return fmt.Errorf("CREDENTIAL_BCRYPT_COST must be between 4 and 31")
	}
	if c.AIProviderTimeoutSeconds <= 0 {
		return fmt.Errorf("AI_PROVIDER_TIMEOUT_SECONDS must be positive")
	}

	if isProduction {
		if err := validateSecret("ADMIN_SESSION_SECRET", c.AdminSessionSecret); err != nil {
			return err
		}

		if c.OpenAIAPIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY is empty in production: AI proxy will reject every provider")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

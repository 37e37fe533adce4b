package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/malbeclabs/slack-calculator/slack/internal/secret"
	"github.com/malbeclabs/slack-calculator/utils/pkg/logger"
)

const (
	EnvStorageBucketName      = "STORAGE_BUCKET_NAME"
	EnvSlackSigningSecretPath = "SLACK_SIGNING_SECRET_PATH"
	EnvCryptoKeyPath          = "CRYPTO_KEY_PATH"
	EnvAWSRegion              = "AWS_REGION"
	EnvSentryDSN              = "SENTRY_DSN"
	EnvSentryEnvironment      = "SENTRY_ENVIRONMENT"
	EnvRateLimitPerMinute     = "RATE_LIMIT_PER_MINUTE"

	DefaultRateLimitPerMinute = 120
	DefaultSentryEnvironment  = "development"
)

// Flags holds the command line values that feed into Config.
type Flags struct {
	HTTPAddr        string
	MetricsAddr     string
	Verbose         bool
	LogFormat       string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// Config holds all configuration for the calculator service
type Config struct {
	// Signing secret location
	SecretLocation secret.Location

	// AWS configuration
	AWSRegion string

	// Error reporting (optional)
	SentryDSN         string
	SentryEnvironment string

	// Server configuration
	HTTPAddr           string
	MetricsAddr        string
	ShutdownTimeout    time.Duration
	RequestTimeout     time.Duration
	RateLimitPerMinute int

	// Logging
	Verbose   bool
	LogFormat logger.Format
}

// LoadFromEnv loads configuration from environment variables and flags
func LoadFromEnv(flags Flags) (*Config, error) {
	format, err := logger.ParseFormat(flags.LogFormat)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:           flags.HTTPAddr,
		MetricsAddr:        flags.MetricsAddr,
		ShutdownTimeout:    flags.ShutdownTimeout,
		RequestTimeout:     flags.RequestTimeout,
		Verbose:            flags.Verbose,
		LogFormat:          format,
		RateLimitPerMinute: DefaultRateLimitPerMinute,
	}

	cfg.SecretLocation.Bucket, err = required(EnvStorageBucketName)
	if err != nil {
		return nil, err
	}
	cfg.SecretLocation.Object, err = required(EnvSlackSigningSecretPath)
	if err != nil {
		return nil, err
	}
	cfg.SecretLocation.KeyPath, err = required(EnvCryptoKeyPath)
	if err != nil {
		return nil, err
	}

	cfg.AWSRegion = os.Getenv(EnvAWSRegion)
	cfg.SentryDSN = os.Getenv(EnvSentryDSN)
	cfg.SentryEnvironment = os.Getenv(EnvSentryEnvironment)
	if cfg.SentryEnvironment == "" {
		cfg.SentryEnvironment = DefaultSentryEnvironment
	}

	if v := os.Getenv(EnvRateLimitPerMinute); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer, got: %s", EnvRateLimitPerMinute, v)
		}
		cfg.RateLimitPerMinute = n
	}

	if cfg.HTTPAddr == "" {
		return nil, fmt.Errorf("http addr is required")
	}
	if cfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("request timeout must not be negative, got: %s", cfg.RequestTimeout)
	}

	return cfg, nil
}

func required(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

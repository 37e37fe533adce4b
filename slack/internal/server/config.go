package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/slack-calculator/slack/internal/secret"
	"github.com/malbeclabs/slack-calculator/utils/pkg/retry"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
	defaultPreflightInterval = 30 * time.Second
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// SecretResolver resolves the signing secret. The startup preflight uses it
// to check that storage and key management are reachable.
type SecretResolver interface {
	Resolve(ctx context.Context, loc secret.Location) (string, error)
}

// Gate wraps the command route with signature verification.
type Gate interface {
	Middleware(next http.Handler) http.Handler
}

type Config struct {
	Logger            *slog.Logger
	Clock             clockwork.Clock
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	VersionInfo       VersionInfo

	Gate     Gate
	Commands http.Handler

	Secrets        SecretResolver
	SecretLocation secret.Location

	// RateLimitPerMinute is the per-IP limit on the command route. Zero disables it.
	RateLimitPerMinute int

	PreflightRetry    retry.Config
	PreflightInterval time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Gate == nil {
		return errors.New("gate is required")
	}
	if cfg.Commands == nil {
		return errors.New("commands handler is required")
	}
	if cfg.Secrets == nil {
		return errors.New("secret resolver is required")
	}
	if err := cfg.SecretLocation.Validate(); err != nil {
		return fmt.Errorf("invalid secret location: %w", err)
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("rate limit per minute must not be negative")
	}

	// Optional with defaults
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.PreflightRetry.MaxAttempts <= 0 {
		cfg.PreflightRetry = retry.DefaultConfig()
	}
	if cfg.PreflightRetry.Clock == nil {
		cfg.PreflightRetry.Clock = cfg.Clock
	}
	if cfg.PreflightInterval <= 0 {
		cfg.PreflightInterval = defaultPreflightInterval
	}
	return nil
}

package secret

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/malbeclabs/slack-calculator/slack/internal/metrics"
)

// ErrInfrastructure is wrapped by every error Resolve returns. It separates
// "we could not complete the check" from "the request is not authentic".
var ErrInfrastructure = errors.New("secret infrastructure failure")

// Location identifies the encrypted signing secret and the key that decrypts it.
type Location struct {
	Bucket  string
	Object  string
	KeyPath string
}

func (l Location) Validate() error {
	if l.Bucket == "" {
		return errors.New("bucket is required")
	}
	if l.Object == "" {
		return errors.New("object is required")
	}
	if l.KeyPath == "" {
		return errors.New("key path is required")
	}
	return nil
}

// ObjectStore reads raw object bytes from remote storage.
type ObjectStore interface {
	Fetch(ctx context.Context, bucket, object string) ([]byte, error)
}

// Decrypter decrypts a base64-encoded ciphertext with the key at keyPath.
type Decrypter interface {
	Decrypt(ctx context.Context, keyPath, ciphertext string) ([]byte, error)
}

type ResolverConfig struct {
	Logger    *slog.Logger
	Store     ObjectStore
	Decrypter Decrypter
}

func (cfg *ResolverConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("object store is required")
	}
	if cfg.Decrypter == nil {
		return errors.New("decrypter is required")
	}
	return nil
}

// Resolver fetches and decrypts the signing secret. Nothing is cached: every
// call performs one fetch followed by one decrypt, and the first failure is
// returned without retrying.
type Resolver struct {
	log *slog.Logger
	cfg ResolverConfig
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{log: cfg.Logger, cfg: cfg}, nil
}

func (r *Resolver) Resolve(ctx context.Context, loc Location) (string, error) {
	start := time.Now()
	defer func() {
		metrics.SecretResolutionDuration.Observe(time.Since(start).Seconds())
	}()

	raw, err := r.cfg.Store.Fetch(ctx, loc.Bucket, loc.Object)
	metrics.RecordSecretStage("fetch", err)
	if err != nil {
		return "", fmt.Errorf("%w: failed to fetch %s/%s: %w", ErrInfrastructure, loc.Bucket, loc.Object, err)
	}

	ciphertext := base64.StdEncoding.EncodeToString(raw)
	plaintext, err := r.cfg.Decrypter.Decrypt(ctx, loc.KeyPath, ciphertext)
	metrics.RecordSecretStage("decrypt", err)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decrypt %s/%s: %w", ErrInfrastructure, loc.Bucket, loc.Object, err)
	}

	r.log.Debug("secret: resolved signing secret", "bucket", loc.Bucket, "object", loc.Object, "duration", time.Since(start))

	// Secret files often end with a newline added by the editor that wrote them.
	return strings.TrimSpace(string(plaintext)), nil
}

package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/slack-calculator/slack/internal/secret"
)

const (
	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"

	// MaxAgeSeconds is the replay window. Older requests are rejected.
	MaxAgeSeconds = 5 * 60
)

// Request carries the parts of an inbound call that take part in verification.
// An empty Signature or Timestamp means the header was absent.
type Request struct {
	Signature string
	Timestamp string
	RawBody   []byte
}

// RequestFromHTTP builds a Request from the headers of r and its already-read body.
func RequestFromHTTP(r *http.Request, body []byte) Request {
	return Request{
		Signature: r.Header.Get(HeaderSignature),
		Timestamp: r.Header.Get(HeaderTimestamp),
		RawBody:   body,
	}
}

// Outcome is the result of verifying a request.
type Outcome int

const (
	Invalid Outcome = iota
	Valid
	TransientFailure
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case TransientFailure:
		return "transient_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Sign computes "{version}=" + hex(HMAC-SHA256(secret, "{version}:{timestamp}:{body}")).
func Sign(version, timestamp string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(version))
	mac.Write([]byte{':'})
	mac.Write([]byte(timestamp))
	mac.Write([]byte{':'})
	mac.Write(body)
	return version + "=" + hex.EncodeToString(mac.Sum(nil))
}

// Check verifies req against an already-resolved secret. It never returns
// TransientFailure.
func Check(req Request, secret string, now time.Time) Outcome {
	if !fresh(req, now) {
		return Invalid
	}
	if !matches(req, secret) {
		return Invalid
	}
	return Valid
}

// fresh reports whether both headers are present and the timestamp falls
// inside the replay window. Only past timestamps are bounded; a timestamp
// ahead of now is accepted.
func fresh(req Request, now time.Time) bool {
	if req.Signature == "" || req.Timestamp == "" {
		return false
	}
	ts, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return false
	}
	return ts >= now.Unix()-MaxAgeSeconds
}

func matches(req Request, secret string) bool {
	version, _, _ := strings.Cut(req.Signature, "=")
	expected := Sign(version, req.Timestamp, req.RawBody, secret)
	return hmac.Equal([]byte(req.Signature), []byte(expected))
}

// SecretSource resolves the signing secret.
type SecretSource interface {
	Resolve(ctx context.Context, loc secret.Location) (string, error)
}

type VerifierConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Secrets  SecretSource
	Location secret.Location
}

func (cfg *VerifierConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Secrets == nil {
		return errors.New("secret source is required")
	}
	if err := cfg.Location.Validate(); err != nil {
		return fmt.Errorf("invalid secret location: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Verifier checks requests against the signing secret at the configured
// location, resolving it on every call.
type Verifier struct {
	log *slog.Logger
	cfg VerifierConfig
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{log: cfg.Logger, cfg: cfg}, nil
}

// Verify returns Valid or Invalid with a nil error, or TransientFailure with
// the resolution error. Requests that fail the header or freshness checks are
// rejected before the secret is resolved.
func (v *Verifier) Verify(ctx context.Context, req Request) (Outcome, error) {
	now := v.cfg.Clock.Now()
	if !fresh(req, now) {
		v.log.Debug("signature: missing headers or stale timestamp", "timestamp", req.Timestamp)
		return Invalid, nil
	}

	signingSecret, err := v.cfg.Secrets.Resolve(ctx, v.cfg.Location)
	if err != nil {
		return TransientFailure, fmt.Errorf("failed to resolve signing secret: %w", err)
	}

	outcome := Check(req, signingSecret, now)
	if outcome != Valid {
		v.log.Debug("signature: mismatch", "timestamp", req.Timestamp)
	}
	return outcome, nil
}

package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/malbeclabs/slack-calculator/slack/internal/metrics"
	"github.com/malbeclabs/slack-calculator/slack/internal/signature"
)

const (
	// MaxBodyBytes bounds how much of a request body is read for verification.
	MaxBodyBytes = 1 << 20

	InvalidSignatureMessage = "Invalid request signature."
	InternalErrorMessage    = "Unable to verify request."
)

// Decision is the gate's verdict on a request.
type Decision int

const (
	Proceed Decision = iota
	Reject
	Fail
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Reject:
		return "reject"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// StatusCode returns the HTTP status that ends a rejected request. Proceed
// returns 200; the downstream handler writes its own response.
func (d Decision) StatusCode() int {
	switch d {
	case Proceed:
		return http.StatusOK
	case Reject:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Verifier decides whether a request is authentic.
type Verifier interface {
	Verify(ctx context.Context, req signature.Request) (signature.Outcome, error)
}

type Config struct {
	Logger   *slog.Logger
	Verifier Verifier
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Verifier == nil {
		return errors.New("verifier is required")
	}
	return nil
}

// Gate is the only path from an inbound call to the command handler.
type Gate struct {
	log      *slog.Logger
	verifier Verifier
}

func New(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{log: cfg.Logger, verifier: cfg.Verifier}, nil
}

// Authorize verifies req and maps the outcome to a Decision. Infrastructure
// failures are logged and reported here and never escape as errors.
func (g *Gate) Authorize(ctx context.Context, req signature.Request) Decision {
	outcome, err := g.verifier.Verify(ctx, req)
	metrics.RecordVerification(outcome.String())

	switch outcome {
	case signature.Valid:
		return Proceed
	case signature.TransientFailure:
		g.log.Error("gate: signature verification could not complete", "error", err, "request_id", middleware.GetReqID(ctx))
		reportFailure(ctx, err)
		return Fail
	default:
		g.log.Debug("gate: rejected request with invalid signature", "request_id", middleware.GetReqID(ctx))
		return Reject
	}
}

// Middleware reads the raw body, authorizes the request and either ends it
// with 400/500 or hands it to next with the body restored.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, "Request body too large.", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Failed to read request body.", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		decision := g.Authorize(r.Context(), signature.RequestFromHTTP(r, body))
		switch decision {
		case Proceed:
			next.ServeHTTP(w, r)
		case Reject:
			http.Error(w, InvalidSignatureMessage, decision.StatusCode())
		default:
			http.Error(w, InternalErrorMessage, decision.StatusCode())
		}
	})
}

func reportFailure(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "gate")
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			scope.SetTag("request_id", reqID)
		}
		hub.CaptureException(err)
	})
}

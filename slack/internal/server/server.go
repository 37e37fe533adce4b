package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/malbeclabs/slack-calculator/slack/internal/metrics"
	"github.com/malbeclabs/slack-calculator/utils/pkg/retry"
)

const CommandsPath = "/slack/commands"

var ErrEmptySecret = errors.New("signing secret is empty")

type Server struct {
	log     *slog.Logger
	cfg     Config
	router  *chi.Mux
	limiter *RateLimiter
	httpSrv *http.Server
	ready   atomic.Bool
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:    cfg.Logger,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = NewPerMinuteRateLimiter(cfg.RateLimitPerMinute, cfg.Clock)
	}

	s.setupRoutes()

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(requestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	s.router.Use(metrics.Middleware)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write healthz response", "error", err)
		}
	})
	s.router.Get("/readyz", s.readyzHandler)
	s.router.Get("/version", s.versionHandler)

	s.router.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(RateLimitMiddleware(s.limiter))
		}
		if s.cfg.RequestTimeout > 0 {
			r.Use(requestTimeout(s.cfg.RequestTimeout))
		}
		r.Use(s.cfg.Gate.Middleware)
		r.Post(CommandsPath, s.cfg.Commands.ServeHTTP)
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Ready reports whether the startup preflight has succeeded.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// Preflight resolves the signing secret once, with retries, and marks the
// server ready on success. The resolved value is discarded. An empty secret
// is a configuration error and is not retried.
func (s *Server) Preflight(ctx context.Context) error {
	start := s.cfg.Clock.Now()
	err := retry.Do(ctx, s.cfg.PreflightRetry, func() error {
		signingSecret, err := s.cfg.Secrets.Resolve(ctx, s.cfg.SecretLocation)
		if err != nil {
			return err
		}
		if signingSecret == "" {
			return retry.Permanent(ErrEmptySecret)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}
	s.ready.Store(true)
	s.log.Info("server: preflight complete", "duration", s.cfg.Clock.Since(start))
	return nil
}

func (s *Server) runPreflight(ctx context.Context) {
	for {
		err := s.Preflight(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		s.log.Warn("server: preflight failed, will retry", "error", err, "interval", s.cfg.PreflightInterval)

		select {
		case <-ctx.Done():
			return
		case <-s.cfg.Clock.After(s.cfg.PreflightInterval):
		}
	}
}

func (s *Server) Run(ctx context.Context) error {
	go s.runPreflight(ctx)
	if s.limiter != nil {
		s.limiter.StartCleanup(ctx)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "address", s.cfg.ListenAddr)
		return err
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !s.Ready() {
		s.log.Debug("readyz: preflight not complete")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("signing secret not resolved\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.cfg.VersionInfo); err != nil {
		s.log.Error("failed to write version response", "error", err)
	}
}

// requestID stores a request id under chi's RequestIDKey, reusing the
// inbound X-Request-Id header when present.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestTimeout bounds the context of downstream calls. Storage and key
// management calls that outlive it fail and surface as a 500.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

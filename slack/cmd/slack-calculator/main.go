package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/slack-calculator/slack/internal/command"
	"github.com/malbeclabs/slack-calculator/slack/internal/config"
	"github.com/malbeclabs/slack-calculator/slack/internal/gate"
	"github.com/malbeclabs/slack-calculator/slack/internal/metrics"
	"github.com/malbeclabs/slack-calculator/slack/internal/secret"
	"github.com/malbeclabs/slack-calculator/slack/internal/server"
	"github.com/malbeclabs/slack-calculator/slack/internal/signature"
	"github.com/malbeclabs/slack-calculator/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultMetricsAddr = "0.0.0.0:0"
	defaultHTTPAddr    = "0.0.0.0:3000"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts the calculator service.
//
// Slash commands to configure in the Slack app, all pointing at
// https://<host>/slack/commands:
//   - /add, /subtract, /multiply, /divide
//
// The signing secret is stored encrypted in S3 and decrypted with KMS on
// every request; see STORAGE_BUCKET_NAME, SLACK_SIGNING_SECRET_PATH and
// CRYPTO_KEY_PATH.
func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", "text", "log format: 'text' or 'json'")
	httpAddrFlag := flag.String("http-addr", defaultHTTPAddr, "address to listen on for slash commands")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "address to listen on for prometheus metrics (empty to disable)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "maximum time to wait for in-flight requests during graceful shutdown")
	requestTimeoutFlag := flag.Duration("request-timeout", 3*time.Second, "deadline for fetching and decrypting the signing secret per request (0 to disable)")

	flag.Parse()

	// A .env file is optional; the environment always wins.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := config.LoadFromEnv(config.Flags{
		HTTPAddr:        *httpAddrFlag,
		MetricsAddr:     *metricsAddrFlag,
		Verbose:         *verboseFlag,
		LogFormat:       *logFormatFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		RequestTimeout:  *requestTimeoutFlag,
	})
	if err != nil {
		return err
	}

	log := logger.NewWithFormat(os.Stdout, cfg.LogFormat, cfg.Verbose)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			Release:          version,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry initialized", "environment", cfg.SentryEnvironment)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	resolver, err := secret.NewResolver(secret.ResolverConfig{
		Logger:    log,
		Store:     secret.NewS3Store(s3.NewFromConfig(awsCfg)),
		Decrypter: secret.NewKMSDecrypter(kms.NewFromConfig(awsCfg)),
	})
	if err != nil {
		return fmt.Errorf("failed to create secret resolver: %w", err)
	}

	verifier, err := signature.NewVerifier(signature.VerifierConfig{
		Logger:   log,
		Secrets:  resolver,
		Location: cfg.SecretLocation,
	})
	if err != nil {
		return fmt.Errorf("failed to create signature verifier: %w", err)
	}

	g, err := gate.New(gate.Config{Logger: log, Verifier: verifier})
	if err != nil {
		return fmt.Errorf("failed to create request gate: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:             log,
		ListenAddr:         cfg.HTTPAddr,
		ShutdownTimeout:    cfg.ShutdownTimeout,
		RequestTimeout:     cfg.RequestTimeout,
		VersionInfo:        server.VersionInfo{Version: version, Commit: commit, Date: date},
		Gate:               g,
		Commands:           command.NewHandler(log),
		Secrets:            resolver,
		SecretLocation:     cfg.SecretLocation,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("slack calculator starting",
		"version", version,
		"commit", commit,
		"bucket", cfg.SecretLocation.Bucket,
		"object", cfg.SecretLocation.Object,
		"region", awsCfg.Region,
		"rate_limit_per_minute", cfg.RateLimitPerMinute,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return srv.Run(groupCtx)
	})

	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		group.Go(func() error {
			return runMetricsServer(groupCtx, cfg.MetricsAddr, log)
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	log.Info("slack calculator shut down")
	return nil
}

func runMetricsServer(ctx context.Context, addr string, log *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	log.Info("prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	if err := metricsSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("prometheus metrics server failed: %w", err)
	}
	return nil
}

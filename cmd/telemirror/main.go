package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telemirror/internal/config"
	"telemirror/internal/constants"
	"telemirror/internal/database"
	"telemirror/internal/features"
	"telemirror/internal/retry"
	"telemirror/internal/service"
	"telemirror/internal/tracing"
	"telemirror/pkg/notify"
	"telemirror/pkg/telegram"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes message content previews)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("telemirror %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting telemirror")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - message content previews will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	features.Initialize()
	features.GetGlobalManager().LoadFromEnvironment()

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewManager(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize the store with exponential backoff retry; Postgres may
	// still be coming up when we are.
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(ctx, database.Config{
			DSN:             config.DatabaseURL(),
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnLifetimeSec) * time.Second,
		}, logger)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	apiKey := config.GatewayAPIKey()
	if apiKey == "" {
		return fmt.Errorf("TELEMIRROR_GATEWAY_API_KEY environment variable is required")
	}

	httpTimeout := cfg.Telegram.TimeoutSec
	if httpTimeout <= 0 {
		httpTimeout = constants.DefaultHTTPTimeoutSec
	}
	gateway := telegram.NewClient(
		cfg.Telegram.APIBaseURL,
		cfg.Telegram.EventsURL,
		apiKey,
		&http.Client{Timeout: time.Duration(httpTimeout) * time.Second},
		logger,
	)

	publisher := notify.NewPublisher(db.DB(), logger)
	crawler := service.NewCrawlerService(cfg, gateway, db, publisher, logger)

	ctxWithVerbose := context.WithValue(ctx, service.VerboseContextKey, *verbose)
	if err := crawler.Start(ctxWithVerbose); err != nil {
		return fmt.Errorf("failed to start crawler: %w", err)
	}

	// The dashboard event feed listens on the same Postgres channel the
	// writer publishes to. Optional: the admin API works without it.
	var eventFeed *notify.Listener
	if features.IsEnabled(features.FlagEventStream) {
		eventFeed, err = notify.NewListener(config.DatabaseURL(), logger)
		if err != nil {
			logger.Warnf("Failed to start change notification listener: %v. Event feed disabled.", err)
		} else {
			defer eventFeed.Close()
		}
	}

	server := NewServer(cfg, crawler, db, eventFeed, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Failed to shutdown server gracefully: %v", err)
	}
	if err := crawler.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop crawler cleanly: %w", err)
	}

	logger.Info("Shutdown completed")
	return nil
}

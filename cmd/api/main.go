// Package main is the entry point for the engagement API server.
//
// It loads configuration, connects to Postgres and the AWS services (SQS for
// the delayed job queue), wires the batch scheduler and the engagement
// endpoints onto the HTTP chassis, and serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"

	"podflow/internal/api/handlers"
	"podflow/internal/config"
	"podflow/internal/core"
	"podflow/internal/db"
	"podflow/internal/queue"
	"podflow/internal/schedule"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("engagement api starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)

	activityRepo := db.NewActivityRepository(pool)
	deadLetterRepo := db.NewDeadLetterRepository(pool)
	publisher := queue.NewJobPublisher(sqsClient, cfg.AWS.EngagementQueueURL, logger)
	statsReader := queue.NewStatsReader(sqsClient, cfg.AWS.EngagementQueueURL)
	scheduler := schedule.NewScheduler(activityRepo, publisher, cfg.Scheduler, nil, logger)

	engagementHandler := handlers.NewEngagementHandler(
		scheduler,
		activityRepo,
		statsReader,
		deadLetterRepo,
		nil, // the worker pool runs in its own binary
		cfg.Scheduler.BatchLimit,
		logger,
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
		core.ProbeFunc{ProbeName: "engagement_queue", Fn: func(ctx context.Context) error {
			_, err := statsReader.Depths(ctx)
			return err
		}},
	}
	srv.V1RouteRegistrars = []core.RouteRegistrar{
		func(r chi.Router) { engagementHandler.RegisterRoutes(r) },
	}
	srv.MountRoutes()

	return srv.ListenAndServe(ctx)
}

// loadAWSConfig builds the shared AWS config, pointing at a custom endpoint
// (LocalStack) when one is configured.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// newLogger creates the structured JSON logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

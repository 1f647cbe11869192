// Package main is the entry point for the engagement worker.
//
// The worker long-polls the SQS engagement queue and executes like and
// comment jobs against the provider, guarded by the per-account rate limiter
// in DynamoDB. It also serves the operational HTTP surface (health, pipeline
// stats including live pool state) so a single deployment exposes both the
// consumer and its observability endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"podflow/internal/api/handlers"
	"podflow/internal/config"
	"podflow/internal/core"
	"podflow/internal/db"
	"podflow/internal/provider"
	"podflow/internal/queue"
	"podflow/internal/ratelimit"
	"podflow/internal/schedule"
	"podflow/internal/worker"
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
	logger.Info("engagement worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"concurrency", cfg.Worker.Concurrency,
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
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	activityRepo := db.NewActivityRepository(pool)
	deadLetterRepo := db.NewDeadLetterRepository(pool)
	memberAccounts := db.NewMemberAccountRepository(pool)

	publisher := queue.NewJobPublisher(sqsClient, cfg.AWS.EngagementQueueURL, logger)
	statsReader := queue.NewStatsReader(sqsClient, cfg.AWS.EngagementQueueURL)
	limiter := ratelimit.NewLimiter(dynamoClient, cfg.AWS.RateLimitTable, cfg.RateLimit, logger)
	providerClient := provider.NewClient(cfg.Provider)
	metrics := worker.NewCloudWatchEngagementMetrics(cwClient, cfg.AWS.MetricNamespace, logger)

	executor := worker.NewExecutor(
		activityRepo,
		memberAccounts,
		deadLetterRepo,
		limiter,
		providerClient,
		publisher,
		provider.ApplyVoice,
		worker.NewRetryPolicy(cfg.Worker),
		metrics,
		cfg.Provider,
		logger,
	)
	workerPool := worker.NewPool(sqsClient, executor, cfg.AWS.EngagementQueueURL, cfg.Worker, metrics, logger)

	scheduler := schedule.NewScheduler(activityRepo, publisher, cfg.Scheduler, nil, logger)
	engagementHandler := handlers.NewEngagementHandler(
		scheduler,
		activityRepo,
		statsReader,
		deadLetterRepo,
		workerPool.Health,
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := workerPool.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("engagement worker stopped cleanly")
	return nil
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

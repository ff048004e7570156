package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edihub/edi-backend/internal/app"
	"github.com/edihub/edi-backend/internal/cron"
	"github.com/edihub/edi-backend/internal/outgoing"
	"github.com/edihub/edi-backend/pkg/metrics"
	"github.com/edihub/edi-backend/pkg/outbox"
	"github.com/edihub/edi-backend/pkg/redis"
	"github.com/edihub/edi-backend/pkg/storage/blobstore"
)

const (
	serviceName     = "bundler-worker"
	lockName        = "bundler"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	bootCtx := context.Background()
	rt, err := app.Boot(bootCtx, serviceName)
	if err != nil {
		return err
	}
	defer rt.Close()

	service, err := buildService(bootCtx, rt)
	if err != nil {
		rt.Logger.Error(bootCtx, "failed to wire bundler worker", err)
		return err
	}

	ctx, stop := rt.SignalContext(map[string]any{"interval": rt.Config.Bundler.Interval.String()})
	defer stop()

	metricsServer := &http.Server{
		Addr:              ":" + rt.Config.App.Port,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	rt.Logger.Info(ctx, "starting bundler worker")
	return rt.Serve(ctx, metricsServer, shutdownTimeout, service.Run)
}

// buildService wires the bundling, retention and outbox maintenance jobs
// behind one Redis lease.
func buildService(ctx context.Context, rt *app.Runtime) (*cron.Service, error) {
	cfg, logg, dbClient := rt.Config, rt.Logger, rt.DB

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	rt.OnClose("redis", redisClient.Close)

	store, err := blobstore.Open(ctx, cfg, logg)
	if err != nil {
		return nil, fmt.Errorf("blob storage: %w", err)
	}

	outgoingMetrics := metrics.NewOutgoingMetrics(prometheus.DefaultRegisterer)
	repo := outgoing.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	pipeline := outgoing.NewPipeline(
		dbClient,
		repo,
		outbox.NewService(outboxRepo, logg),
		outgoing.LoggingMiddleware(logg),
		outgoing.ConflictMetricsMiddleware(outgoingMetrics),
	)

	bundler, err := outgoing.NewBundler(outgoing.BundlerParams{
		Pipeline:   pipeline,
		Policy:     outgoing.PolicyFromConfig(cfg.Bundling),
		Logger:     logg,
		Metrics:    outgoingMetrics,
		MaxBatches: cfg.Bundler.MaxBatches,
	})
	if err != nil {
		return nil, fmt.Errorf("bundler: %w", err)
	}
	retention, err := outgoing.NewRetention(outgoing.RetentionParams{
		Pipeline:   pipeline,
		Repository: repo,
		Storage:    store,
		Logger:     logg,
		Retention:  cfg.Retention.DequeuedRetention,
		BatchSize:  cfg.Retention.BatchSize,
		MaxBatches: cfg.Retention.MaxBatches,
	})
	if err != nil {
		return nil, fmt.Errorf("bundle retention: %w", err)
	}

	closeJob, err := cron.NewBundleCloseJob(cron.BundleCloseJobParams{Logger: logg, Bundler: bundler})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewBundleRetentionJob(cron.BundleRetentionJobParams{Logger: logg, Retention: retention})
	if err != nil {
		return nil, err
	}
	outboxJob, err := cron.NewOutboxMaintenanceJob(cron.OutboxMaintenanceJobParams{
		Logger:       logg,
		DB:           dbClient,
		Outbox:       outboxRepo,
		DeadLetters:  outbox.NewDLQRepository(dbClient.DB()),
		Retention:    cfg.Retention.OutboxRetention,
		DLQRetention: cfg.Retention.DLQRetention,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Bundler.LockTTL)
	if err != nil {
		return nil, err
	}
	jobs := cron.NewRegistry(closeJob).
		Every(retentionJob, cfg.Retention.Interval).
		Every(outboxJob, cfg.Retention.Interval)

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Bundler.Interval,
	})
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/edihub/edi-backend/api/controllers"
	"github.com/edihub/edi-backend/api/routes"
	"github.com/edihub/edi-backend/internal/app"
	"github.com/edihub/edi-backend/internal/outgoing"
	"github.com/edihub/edi-backend/pkg/enums"
	"github.com/edihub/edi-backend/pkg/metrics"
	"github.com/edihub/edi-backend/pkg/outbox"
	"github.com/edihub/edi-backend/pkg/redis"
	"github.com/edihub/edi-backend/pkg/storage/blobstore"
)

const (
	serviceName     = "api"
	shutdownTimeout = 15 * time.Second
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

	handler, err := buildHandler(bootCtx, rt)
	if err != nil {
		rt.Logger.Error(bootCtx, "failed to wire api", err)
		return err
	}

	// PORT wins when the platform injects one.
	port := os.Getenv("PORT")
	if port == "" {
		port = rt.Config.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := rt.SignalContext(map[string]any{"addr": server.Addr})
	defer stop()
	rt.Logger.Info(ctx, "starting api server")
	return rt.Serve(ctx, server, shutdownTimeout)
}

func buildHandler(ctx context.Context, rt *app.Runtime) (http.Handler, error) {
	cfg, logg, dbClient := rt.Config, rt.Logger, rt.DB

	codes, err := enums.NewCodeTables()
	if err != nil {
		return nil, fmt.Errorf("code tables: %w", err)
	}
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	rt.OnClose("redis", redisClient.Close)

	store, err := blobstore.Open(ctx, cfg, logg)
	if err != nil {
		return nil, fmt.Errorf("blob storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	outgoingMetrics := metrics.NewOutgoingMetrics(registry)

	repo := outgoing.NewRepository(dbClient.DB())
	pipeline := outgoing.NewPipeline(
		dbClient,
		repo,
		outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		outgoing.LoggingMiddleware(logg),
		outgoing.ConflictMetricsMiddleware(outgoingMetrics),
	)

	enqueuer, err := outgoing.NewEnqueuer(outgoing.EnqueuerParams{
		Pipeline:       pipeline,
		Storage:        store,
		Policy:         outgoing.PolicyFromConfig(cfg.Bundling),
		Logger:         logg,
		Metrics:        outgoingMetrics,
		UploadTimeout:  cfg.Blob.UploadTimeout,
		RetryAttempts:  cfg.Bundling.RetryAttempts,
		RetryBaseDelay: cfg.Bundling.RetryBaseDelay,
		RetryMaxDelay:  cfg.Bundling.RetryMaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueuer: %w", err)
	}

	delivery, err := outgoing.NewDelivery(outgoing.DeliveryParams{
		Pipeline:            pipeline,
		Repository:          repo,
		Storage:             store,
		Writer:              outgoing.NewJSONDocumentWriter(codes),
		Logger:              logg,
		Metrics:             outgoingMetrics,
		DownloadConcurrency: cfg.Peek.DownloadConcurrency,
		MaxRestarts:         cfg.Peek.MaxRestarts,
		UploadTimeout:       cfg.Blob.UploadTimeout,
		DownloadTimeout:     cfg.Blob.DownloadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("delivery: %w", err)
	}

	readiness := []controllers.ReadinessCheck{
		{Name: "db", Pinger: dbClient},
		{Name: "redis", Pinger: redisClient},
		{Name: "storage", Pinger: store},
	}
	return routes.NewRouter(cfg, logg, readiness, redisClient, registry, delivery, enqueuer), nil
}

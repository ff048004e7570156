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
	"github.com/edihub/edi-backend/pkg/metrics"
	"github.com/edihub/edi-backend/pkg/outbox"
	"github.com/edihub/edi-backend/pkg/outbox/registry"
	"github.com/edihub/edi-backend/pkg/pubsub"
)

const (
	serviceName     = "outbox-publisher"
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

	relay, topics, err := buildRelay(bootCtx, rt)
	if err != nil {
		rt.Logger.Error(bootCtx, "failed to wire outbox relay", err)
		return err
	}

	ctx, stop := rt.SignalContext(map[string]any{
		"ordered": rt.Config.Outbox.Ordered,
		"topics":  topics,
	})
	defer stop()

	metricsServer := &http.Server{
		Addr:              ":" + rt.Config.App.Port,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	rt.Logger.Info(ctx, "starting outbox relay")
	return rt.Serve(ctx, metricsServer, shutdownTimeout, relay.Run)
}

func buildRelay(ctx context.Context, rt *app.Runtime) (*Relay, []string, error) {
	cfg := rt.Config
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, rt.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub: %w", err)
	}
	rt.OnClose("pubsub", pubsubClient.Close)

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return nil, nil, fmt.Errorf("event registry: %w", err)
	}

	relay, err := NewRelay(RelayParams{
		Config:        cfg,
		Logger:        rt.Logger,
		Metrics:       metrics.NewRelayMetrics(prometheus.DefaultRegisterer),
		DB:            rt.DB,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(rt.DB.DB()),
		DLQRepository: outbox.NewDLQRepository(rt.DB.DB()),
		Registry:      events,
	})
	if err != nil {
		return nil, nil, err
	}
	return relay, events.Topics(), nil
}

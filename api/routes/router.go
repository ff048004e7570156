package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edihub/edi-backend/api/controllers"
	"github.com/edihub/edi-backend/api/middleware"
	"github.com/edihub/edi-backend/internal/outgoing"
	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/logger"
)

// MessageService is the peek/dequeue surface served to receivers.
type MessageService interface {
	Peek(ctx context.Context, req outgoing.PeekRequest) (*outgoing.PeekResult, error)
	Dequeue(ctx context.Context, req outgoing.DequeueRequest) (outgoing.DequeueResult, error)
	ContentType() string
}

// EnqueueService accepts messages from internal producers.
type EnqueueService interface {
	Enqueue(ctx context.Context, req outgoing.EnqueueRequest) (uuid.UUID, error)
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness []controllers.ReadinessCheck,
	limiter rateLimiter,
	gatherer prometheus.Gatherer,
	messages MessageService,
	enqueuer EnqueueService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness...))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	peekPolicy := middleware.RateLimitPolicy{
		Name:   "peek",
		Limit:  cfg.Peek.RateLimit,
		Window: cfg.Peek.RateLimitWindow,
	}

	r.Route("/api/v1/messages", func(r chi.Router) {
		r.Use(middleware.RequireActor(logg))
		r.With(middleware.ActorRateLimit(peekPolicy, limiter, logg)).Get("/peek/{category}", controllers.PeekMessages(messages, logg))
		r.Delete("/{messageId}", controllers.DequeueMessage(messages, logg))
	})

	if enqueuer != nil {
		r.Route("/api/internal/v1", func(r chi.Router) {
			r.Post("/outgoing-messages", controllers.EnqueueOutgoingMessage(enqueuer, logg))
		})
	}

	return r
}

package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/edihub/edi-backend/api/responses"
	pkgerrors "github.com/edihub/edi-backend/pkg/errors"
	"github.com/edihub/edi-backend/pkg/logger"
)

type rateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy throttles a route per calling actor.
type RateLimitPolicy struct {
	Name   string
	Limit  int
	Window time.Duration
}

func (p RateLimitPolicy) enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

func (p RateLimitPolicy) scope(actorNumber, actorRole string) string {
	name := p.Name
	if name == "" {
		name = "default"
	}
	return name + ":" + actorNumber + ":" + actorRole
}

// ActorRateLimit enforces a fixed-window counter per actor. It must run
// after RequireActor. Store failures fail open so a cache outage never
// blocks delivery.
func ActorRateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor, ok := ActorFromContext(ctx)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			allowed, count, err := store.FixedWindowAllow(ctx, policy.scope(actor.Number, string(actor.Role)), int64(policy.Limit), policy.Window)
			if err != nil {
				if logg != nil {
					logg.Error(ctx, "rate_limit.store_failed", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{
						"policy":         policy.Name,
						"attempts":       count,
						"limit":          policy.Limit,
						"window_seconds": int(policy.Window.Seconds()),
					})
					logg.Warn(logCtx, "rate_limit.blocked")
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(policy.Window.Seconds())))
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"context"

	"github.com/edihub/edi-backend/internal/outgoing"
)

type contextKey string

const ctxActor contextKey = "actor"

// ActorFromContext returns the actor resolved by RequireActor.
func ActorFromContext(ctx context.Context) (outgoing.Actor, bool) {
	if ctx == nil {
		return outgoing.Actor{}, false
	}
	actor, ok := ctx.Value(ctxActor).(outgoing.Actor)
	return actor, ok
}

// WithActor injects the calling actor into the context.
func WithActor(ctx context.Context, actor outgoing.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

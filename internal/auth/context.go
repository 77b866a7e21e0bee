package auth

import (
	"context"

	"github.com/ajaymenon/storefront-core/internal/domain"
)

type contextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFrom returns the authenticated actor placed in the context by the
// middleware.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(domain.Actor)
	return actor, ok
}

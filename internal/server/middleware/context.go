package middleware

import (
	"context"
)

type contextKey string

const ContextKeyActor contextKey = "actor"

// WithActor returns a copy of ctx that attributes mutations to name.
func WithActor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeyActor, name)
}

// ActorFromContext returns the display name attributed to the request, or
// "" when the caller is anonymous.
func ActorFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyActor).(string)
	return v
}

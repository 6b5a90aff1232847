// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them; services read them. Keeping the
// package free of net/http lets services avoid transport imports, and tests can
// inject a fixed clock with WithTime.
package requestcontext

import (
	"context"
	"time"
)

type (
	requestIDKey   struct{}
	requestTimeKey struct{}
	actorKey       struct{}
)

// WithRequestID stores the correlation ID for this request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the correlation ID, or an empty string when unset.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithTime pins the request clock. Middleware sets it once per request so all
// timestamps within one operation agree; tests set it to a fixed instant.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}

// Now returns the request time, falling back to the wall clock when unset.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithActor stores the authenticated caller identifier for audit attribution.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Actor returns the authenticated caller, or an empty string when unset.
func Actor(ctx context.Context) string {
	v, _ := ctx.Value(actorKey{}).(string)
	return v
}

package reqid

import (
	"context"
	"log/slog"
)

// Header carries the request id on HTTP requests and responses.
const Header = "X-Request-ID"

type key struct{}

// With returns a new context with the provided request ID attached.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key{}, id)
}

// From extracts the request ID from the context, if present.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx.Value(key{}).(string)
	return s, ok && s != ""
}

// Logger returns log tagged with the request id carried by ctx, or log
// unchanged when there is none.
func Logger(ctx context.Context, log *slog.Logger) *slog.Logger {
	if id, ok := From(ctx); ok {
		return log.With("request_id", id)
	}
	return log
}

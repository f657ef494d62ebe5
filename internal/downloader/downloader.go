package downloader

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the remote resource does not exist.
	ErrNotFound = errors.New("fetch: resource not found")
	// ErrForbidden is returned for 401/403 responses.
	ErrForbidden = errors.New("fetch: access forbidden")
	// ErrServerError is returned for 5xx responses.
	ErrServerError = errors.New("fetch: server error")
	// ErrUnexpectedStatus covers any other non-2xx response.
	ErrUnexpectedStatus = errors.New("fetch: unexpected status")
)

// Worker performs the retrieval of a single key.
//
// Run executes on a pool goroutine. Over its lifetime it must report at most
// one Start, zero or more Progress events (0-100) and exactly one of Complete
// or Failed. Failures are reported, never returned or panicked.
type Worker interface {
	Run(ctx context.Context, rep Reporter)
}

// Factory builds a Worker bound to a key, a destination directory (or bucket
// URL) and an optional local identifier used to name the result. Building a
// worker must not report anything.
type Factory interface {
	NewWorker(key, dir, identifier string) Worker
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(key, dir, identifier string) Worker

func (f FactoryFunc) NewWorker(key, dir, identifier string) Worker { return f(key, dir, identifier) }

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, rep Reporter)

func (f WorkerFunc) Run(ctx context.Context, rep Reporter) { f(ctx, rep) }

package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(discardLogger(), 2)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	var (
		running, peak atomic.Int32
		release       = make(chan struct{})
		wg            sync.WaitGroup
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		ok := p.Submit(func(ctx context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		})
		if !ok {
			t.Fatalf("submit %d rejected", i)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for running.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := running.Load(); got != 2 {
		t.Fatalf("running = %d want 2", got)
	}
	close(release)
	wg.Wait()
	if got := peak.Load(); got != 2 {
		t.Fatalf("peak concurrency = %d want 2", got)
	}
}

func TestPoolAdmitsFIFO(t *testing.T) {
	p := NewPool(discardLogger(), 1)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	var (
		mu    sync.Mutex
		order []int
		done  = make(chan struct{})
	)
	gate := make(chan struct{})
	p.Submit(func(ctx context.Context) { <-gate })
	for i := 0; i < 5; i++ {
		i := i
		p.Submit(func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			n := len(order)
			mu.Unlock()
			if n == 5 {
				close(done)
			}
		})
	}
	close(gate)
	waitClosed(t, done, "queued jobs")

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, order); diff != "" {
		t.Fatalf("admission order mismatch (-want +got):\n%s", diff)
	}
}

func TestPoolShutdownCancelsRunningAndDropsQueued(t *testing.T) {
	p := NewPool(discardLogger(), 1)

	started := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	var ranQueued atomic.Bool
	p.Submit(func(ctx context.Context) { ranQueued.Store(true) })
	waitClosed(t, started, "first job")

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if ranQueued.Load() {
		t.Fatalf("queued job ran after shutdown")
	}
	if p.Submit(func(context.Context) {}) {
		t.Fatalf("submit accepted after shutdown")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestPoolSubmitRacingShutdown(t *testing.T) {
	p := NewPool(discardLogger(), 1)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Submit(func(context.Context) {})
		}()
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	wg.Wait()

	// Nothing reads the queue once shutdown has drained it.
	if n := p.q.len(); n != 0 {
		t.Fatalf("%d jobs stranded in queue after shutdown", n)
	}
	if p.Submit(func(context.Context) {}) {
		t.Fatalf("submit accepted after shutdown")
	}
}

func TestPoolShutdownDeadline(t *testing.T) {
	p := NewPool(discardLogger(), 1)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	p.Submit(func(ctx context.Context) {
		close(started)
		<-release
	})
	waitClosed(t, started, "stubborn job")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("shutdown err = %v want deadline exceeded", err)
	}
}

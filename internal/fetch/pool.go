package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/fanfetch/internal/metrics"
)

// DefaultWorkers is the number of fetches a Pool runs concurrently.
const DefaultWorkers = 2

// Job is a unit of work run by the pool. ctx is cancelled when the pool
// shuts down.
type Job func(ctx context.Context)

// Pool runs jobs with bounded parallelism. Submissions never block and are
// admitted in FIFO order; there is no priority and nothing is rejected while
// the pool is open.
type Pool struct {
	log    *slog.Logger
	q      *queue[Job]
	g      errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu orders Submit against Shutdown: a push either lands before the
	// queue is drained or is refused.
	mu     sync.Mutex
	closed bool
}

// NewPool starts a pool running at most size jobs at once.
func NewPool(log *slog.Logger, size int) *Pool {
	if log == nil {
		log = slog.Default()
	}
	if size <= 0 {
		size = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		log:    log.With("component", "pool", "operation_id", uuid.NewString()),
		q:      newQueue[Job](),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.g.SetLimit(size)
	go p.admit()
	p.log.Debug("pool started", "size", size)
	return p
}

// Submit queues j. It returns false once the pool is shut down.
func (p *Pool) Submit(j Job) bool {
	if j == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.q.push(j)
	metrics.PoolQueueDepth.Set(float64(p.q.len()))
	return true
}

// admit moves queued jobs into the errgroup one at a time. g.Go blocks while
// every slot is busy, which is what keeps admission FIFO.
func (p *Pool) admit() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.q.ready:
		}
		for {
			j, ok := p.q.pop()
			if !ok {
				break
			}
			if p.ctx.Err() != nil {
				return
			}
			metrics.PoolQueueDepth.Set(float64(p.q.len()))
			p.g.Go(func() error {
				// A slot may free up only after shutdown began.
				if p.ctx.Err() == nil {
					j(p.ctx)
				}
				return nil
			})
		}
	}
}

// Shutdown stops admission, cancels the context handed to running jobs and
// waits for them until ctx expires. Queued jobs that never started are
// abandoned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cancel()
	abandoned := len(p.q.drain())
	p.mu.Unlock()
	metrics.PoolQueueDepth.Set(0)

	finished := make(chan struct{})
	go func() {
		<-p.done
		_ = p.g.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.log.Debug("pool stopped", "abandoned", abandoned)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool shutdown (abandoned %d queued): %w", abandoned, ctx.Err())
	}
}

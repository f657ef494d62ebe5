package fetch

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Dispatcher runs delivery tasks one at a time on a dedicated goroutine, in
// the order they were posted. Producers never block.
type Dispatcher struct {
	log *slog.Logger
	q   *queue[func()]

	once sync.Once
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Call Run before posting.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{log: log, q: newQueue[func()](), stop: make(chan struct{})}
}

// Run starts the delivery loop.
func (d *Dispatcher) Run() {
	// Tag this run with a stable operation_id for easier correlation.
	d.log = d.log.With("component", "dispatcher", "operation_id", uuid.NewString())
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.stop:
				return
			case <-d.q.ready:
			}
			for {
				fn, ok := d.q.pop()
				if !ok {
					break
				}
				d.exec(fn)
				select {
				case <-d.stop:
					return
				default:
				}
			}
		}
	}()
}

// Post enqueues fn for delivery.
func (d *Dispatcher) Post(fn func()) {
	if fn == nil {
		return
	}
	d.q.push(fn)
}

// Stop terminates the loop. Tasks still queued are discarded.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.stop)
		d.wg.Wait()
		if n := len(d.q.drain()); n > 0 {
			d.log.Debug("discarded pending deliveries", "count", n)
		}
	})
}

func (d *Dispatcher) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("delivery panicked", "panic", r)
		}
	}()
	fn()
}

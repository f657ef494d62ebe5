package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/fanfetch/internal/data"
	"github.com/tinoosan/fanfetch/internal/downloader"
	"github.com/tinoosan/fanfetch/internal/metrics"
	"github.com/tinoosan/fanfetch/internal/repo"
)

// DefaultBuffer is the number of outcomes a Recorder holds before dropping.
const DefaultBuffer = 256

// Recorder persists terminal fetch outcomes. Observe never blocks the caller:
// when the buffer is full the outcome is dropped and counted.
type Recorder struct {
	repo repo.HistoryWriter
	log  *slog.Logger
	in   chan *data.HistoryEntry

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a Recorder writing into w. Call Run to start it.
func New(log *slog.Logger, w repo.HistoryWriter, buffer int) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Recorder{repo: w, log: log, in: make(chan *data.HistoryEntry, buffer), stop: make(chan struct{})}
}

// EntryFor maps a terminal event to the history entry it produces. ok is
// false for events that are not recorded.
func EntryFor(e downloader.Event) (entry *data.HistoryEntry, ok bool) {
	entry = &data.HistoryEntry{Key: e.Key, Path: e.Path, Message: e.Message}
	switch e.Type {
	case downloader.EventComplete:
		entry.Status = data.StatusComplete
	case downloader.EventFailed:
		entry.Status = data.StatusFailed
	case downloader.EventCancelled:
		entry.Status = data.StatusCancelled
	case downloader.EventCleared:
		entry.Status = data.StatusCleared
	default:
		return nil, false
	}
	return entry, true
}

// Observe queues terminal events for recording.
func (r *Recorder) Observe(e downloader.Event) {
	entry, ok := EntryFor(e)
	if !ok {
		return
	}
	entry.CreatedAt = time.Now().UTC()
	select {
	case r.in <- entry:
	default:
		metrics.DroppedReports.WithLabelValues("history_full").Inc()
		r.log.Warn("history buffer full, dropping entry", "key", e.Key, "status", entry.Status)
	}
}

// Run starts the write loop.
func (r *Recorder) Run() {
	r.log = r.log.With("component", "history", "operation_id", uuid.NewString())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stop:
				r.drain()
				return
			case entry := <-r.in:
				r.write(entry)
			}
		}
	}()
}

// Stop flushes what is buffered and terminates the loop.
func (r *Recorder) Stop() {
	r.once.Do(func() {
		close(r.stop)
		r.wg.Wait()
	})
}

func (r *Recorder) drain() {
	for {
		select {
		case entry := <-r.in:
			r.write(entry)
		default:
			return
		}
	}
}

func (r *Recorder) write(entry *data.HistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.repo.Record(ctx, entry); err != nil {
		r.log.Error("record history", "key", entry.Key, "err", err)
	}
}

package fetch

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/tinoosan/fanfetch/internal/downloader"
)

// ErrStreamClosed is returned by Next once a Stream has been closed and
// drained.
var ErrStreamClosed = errors.New("fetch: stream closed")

// Stream is a Subscriber that buffers events for a consumer on another
// goroutine. Callbacks never block the delivery goroutine and no event is
// dropped.
type Stream struct {
	q      *queue[downloader.Event]
	closed atomic.Bool
	done   chan struct{}
}

var _ Subscriber = (*Stream)(nil)

// NewStream creates an empty Stream.
func NewStream() *Stream {
	return &Stream{q: newQueue[downloader.Event](), done: make(chan struct{})}
}

// Next returns the next buffered event, waiting until one arrives, ctx is
// done or the stream is closed.
func (s *Stream) Next(ctx context.Context) (downloader.Event, error) {
	for {
		if e, ok := s.q.pop(); ok {
			return e, nil
		}
		if s.closed.Load() {
			return downloader.Event{}, ErrStreamClosed
		}
		select {
		case <-ctx.Done():
			return downloader.Event{}, ctx.Err()
		case <-s.done:
		case <-s.q.ready:
		}
	}
}

// Close stops accepting events. Events already buffered are still returned
// by Next.
func (s *Stream) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
}

func (s *Stream) push(e downloader.Event) {
	if s.closed.Load() {
		return
	}
	s.q.push(e)
}

func (s *Stream) OnStart(key string) {
	s.push(downloader.Event{Key: key, Type: downloader.EventStart})
}

func (s *Stream) OnProgress(key string, percent int) {
	s.push(downloader.Event{Key: key, Type: downloader.EventProgress, Percent: percent})
}

func (s *Stream) OnFailure(key, message string) {
	s.push(downloader.Event{Key: key, Type: downloader.EventFailed, Message: message})
}

func (s *Stream) OnSuccess(key, path string) {
	s.push(downloader.Event{Key: key, Type: downloader.EventComplete, Path: path})
}

func (s *Stream) OnCancel(key string) {
	s.push(downloader.Event{Key: key, Type: downloader.EventCancelled})
}

func (s *Stream) OnClear(success bool, key, path string) {
	s.push(downloader.Event{Key: key, Type: downloader.EventCleared, Success: success, Path: path})
}

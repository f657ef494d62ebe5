package aria2dl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/fanfetch/internal/aria2"
	"github.com/tinoosan/fanfetch/internal/downloader"
	"github.com/tinoosan/fanfetch/internal/fp"
	"github.com/tinoosan/fanfetch/internal/logging"
)

// DefaultPollInterval is how often a worker asks aria2 for progress when no
// notification arrives first.
const DefaultPollInterval = time.Second

// maxStatusErrors consecutive tellStatus failures fail the fetch.
const maxStatusErrors = 3

// ErrBucketDir is reported when the destination is a bucket URL; aria2 can
// only write to local directories.
var ErrBucketDir = errors.New("aria2: destination must be a local directory")

// Factory builds workers that hand each key to an aria2 daemon and follow
// the transfer until aria2 reports it complete or failed.
type Factory struct {
	cl   *aria2.Client
	log  *slog.Logger
	poll time.Duration

	mu   sync.Mutex
	wake map[string]chan struct{}
}

// NewFactory creates a Factory. A non-positive poll selects
// DefaultPollInterval.
func NewFactory(log *slog.Logger, cl *aria2.Client, poll time.Duration) *Factory {
	if log == nil {
		log = slog.Default()
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Factory{
		cl:   cl,
		log:  log.With("component", "aria2"),
		poll: poll,
		wake: make(map[string]chan struct{}),
	}
}

var _ downloader.Factory = (*Factory)(nil)

func (f *Factory) NewWorker(key, dir, identifier string) downloader.Worker {
	return &worker{f: f, key: key, dir: dir, name: fp.ObjectName(key, identifier)}
}

// Watch subscribes to aria2 notifications and wakes the worker owning each
// notified GID, so completions are seen before the next poll. It returns when
// ctx ends or the connection drops; workers keep polling either way.
func (f *Factory) Watch(ctx context.Context) error {
	lg := f.log.With("operation_id", uuid.NewString())
	ch, err := f.cl.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("aria2 notifications: %w", err)
	}
	lg.Info("aria2 notifications connected")
	for n := range ch {
		for _, gid := range n.GIDs() {
			lg.Debug("aria2 notification", "method", n.Method, "gid", gid)
			f.poke(gid)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	lg.Warn("aria2 notifications closed")
	return nil
}

func (f *Factory) register(gid string) chan struct{} {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.wake[gid] = ch
	f.mu.Unlock()
	return ch
}

func (f *Factory) unregister(gid string) {
	f.mu.Lock()
	delete(f.wake, gid)
	f.mu.Unlock()
}

func (f *Factory) poke(gid string) {
	f.mu.Lock()
	ch, ok := f.wake[gid]
	f.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

type worker struct {
	f    *Factory
	key  string
	dir  string
	name string
}

func (w *worker) Run(ctx context.Context, rep downloader.Reporter) {
	rep.Report(downloader.Event{Key: w.key, Type: downloader.EventStart})

	path, err := w.follow(ctx, rep)
	if err != nil {
		w.f.log.Warn("fetch failed", "key", logging.RedactURL(w.key), "err", err)
		rep.Report(downloader.Event{Key: w.key, Type: downloader.EventFailed, Message: err.Error()})
		return
	}
	w.f.log.Info("fetch complete", "key", logging.RedactURL(w.key), "path", path)
	rep.Report(downloader.Event{Key: w.key, Type: downloader.EventComplete, Path: path})
}

func (w *worker) follow(ctx context.Context, rep downloader.Reporter) (string, error) {
	if strings.Contains(w.dir, "://") {
		return "", ErrBucketDir
	}
	gid, err := w.f.cl.AddURI(ctx, w.key, w.dir, w.name)
	if err != nil {
		return "", fmt.Errorf("add uri: %w", err)
	}
	log := w.f.log.With("gid", gid)
	wake := w.f.register(gid)
	defer w.f.unregister(gid)

	ticker := time.NewTicker(w.f.poll)
	defer ticker.Stop()

	last, failures := -1, 0
	for {
		st, err := w.f.cl.TellStatus(ctx, gid)
		switch {
		case err != nil && ctx.Err() == nil:
			failures++
			log.Debug("tell status", "err", err, "failures", failures)
			if failures >= maxStatusErrors {
				return "", fmt.Errorf("tell status: %w", err)
			}
		case err == nil:
			failures = 0
			switch st.Status {
			case "complete":
				if last < 100 {
					rep.Report(downloader.Event{Key: w.key, Type: downloader.EventProgress, Percent: 100})
				}
				if len(st.Files) > 0 && st.Files[0].Path != "" {
					return st.Files[0].Path, nil
				}
				return filepath.Join(w.dir, w.name), nil
			case "error":
				return "", fmt.Errorf("aria2 error %s: %s", st.ErrorCode, st.ErrorMessage)
			case "removed":
				return "", errors.New("aria2: download removed")
			default:
				// 100 is only reported once aria2 says complete.
				if pct := min(st.Percent(), 99); pct > last {
					last = pct
					rep.Report(downloader.Event{Key: w.key, Type: downloader.EventProgress, Percent: pct})
				}
			}
		}

		select {
		case <-ctx.Done():
			rctx, cancel := context.WithTimeout(context.Background(), aria2.DefaultTimeout)
			if err := w.f.cl.Remove(rctx, gid); err != nil {
				log.Debug("remove after cancel", "err", err)
			}
			cancel()
			return "", ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

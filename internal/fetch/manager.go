package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinoosan/fanfetch/internal/downloader"
	"github.com/tinoosan/fanfetch/internal/logging"
	"github.com/tinoosan/fanfetch/internal/metrics"
	"github.com/tinoosan/fanfetch/internal/reqid"
)

// DefaultShutdownTimeout bounds how long ResetAll waits for running workers.
const DefaultShutdownTimeout = 5 * time.Second

// Observer sees every event the manager delivers, on the delivery goroutine,
// whether or not any subscriber is attached.
type Observer interface {
	Observe(downloader.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(downloader.Event)

func (f ObserverFunc) Observe(e downloader.Event) { f(e) }

// Options configures a Manager.
type Options struct {
	// Workers is the number of fetches run concurrently. Default: 2
	Workers int
	// Factory builds the worker for each new fetch cycle. Required.
	Factory downloader.Factory
	// Dirs resolves the destination handed to workers.
	// Default: UserCacheDir{App: "fanfetch"}
	Dirs DirResolver
	// ClearOnFailure removes the pending set when a failure is delivered.
	// By default a failed key stays pending until Cancel or ClearAndNotify.
	ClearOnFailure bool
	// SettleOnSuccess removes the pending set when a success is delivered and
	// follows the success with a successful clear to the same subscribers.
	SettleOnSuccess bool
	// Observer, when set, is called for every delivered event.
	Observer Observer
	// ShutdownTimeout bounds the pool shutdown performed by ResetAll and Close.
	// Default: 5s
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Manager coalesces concurrent fetch requests per key and fans the resulting
// events out to every subscriber of that key.
type Manager struct {
	log      *slog.Logger
	opts     Options
	registry *Registry
	cache    *Cache
	disp     *Dispatcher

	// mu makes detaching or snapshotting subscribers and queueing their
	// delivery one step, so deliveries reach the dispatcher in the order the
	// registry changed. It also orders ResetAll against registration.
	mu    sync.Mutex
	epoch atomic.Uint64

	poolMu sync.Mutex
	pool   *Pool
}

// NewManager creates a Manager and starts its delivery goroutine.
func NewManager(opts Options) (*Manager, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("fetch: factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Dirs == nil {
		opts.Dirs = UserCacheDir{App: "fanfetch"}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	m := &Manager{
		log:      opts.Logger.With("component", "fetch"),
		opts:     opts,
		registry: NewRegistry(),
		cache:    NewCache(),
		disp:     NewDispatcher(opts.Logger),
	}
	m.disp.Run()
	return m, nil
}

// CacheDirectory resolves the directory workers write into.
func (m *Manager) CacheDirectory(ctx context.Context) (string, error) {
	return m.opts.Dirs.CacheDir(ctx)
}

// RequestFetch subscribes sub to key. The first subscriber of a cycle starts
// a worker; later ones join it and receive every subsequent event. sub may be
// nil to start a fetch nobody listens to. Empty keys are ignored.
func (m *Manager) RequestFetch(ctx context.Context, identifier, key string, sub Subscriber) Registration {
	if key == "" {
		return Ignored
	}
	// The pool is taken together with the registration: a set created after
	// ResetAll always lands on the pool that replaced the one being shut down.
	m.mu.Lock()
	reg, gen := m.registry.Register(key, sub)
	epoch := m.epoch.Load()
	var pool *Pool
	if reg == First {
		pool = m.getPool()
	}
	m.mu.Unlock()
	metrics.Registrations.WithLabelValues(reg.String()).Inc()
	metrics.PendingKeys.Set(float64(m.registry.Len()))

	log := reqid.Logger(ctx, m.log.With("key", logging.RedactURL(key)))
	if reg == Joined {
		log.Debug("joined pending fetch")
		return reg
	}

	rep := &boundReporter{m: m, key: key, gen: gen, epoch: epoch}
	dir, err := m.opts.Dirs.CacheDir(ctx)
	if err != nil {
		log.Error("resolve cache dir", "err", err)
		rep.Report(downloader.Event{Key: key, Type: downloader.EventFailed, Message: err.Error()})
		return reg
	}
	w := m.opts.Factory.NewWorker(key, dir, identifier)
	if !pool.Submit(m.job(log, rep, w)) {
		// No worker will ever run for this cycle, so the set must not
		// outlive the call or every later request would join it.
		log.Warn("pool is shut down, abandoning fetch")
		m.abandon(key, gen, epoch)
		return reg
	}
	log.Info("fetch started", "dir", dir, "identifier", identifier)
	return reg
}

// abandon detaches a cycle whose job never reached a pool and fails its
// subscribers.
func (m *Manager) abandon(key string, gen, epoch uint64) {
	m.mu.Lock()
	subs, ok := m.registry.removeLive(key, gen)
	if ok && m.epoch.Load() == epoch {
		m.postLocked(downloader.Event{Key: key, Type: downloader.EventFailed, Message: "fetch: pool is shut down"}, subs)
	}
	m.mu.Unlock()
	if ok {
		metrics.PendingKeys.Set(float64(m.registry.Len()))
	}
}

// CachedValue returns the path a previous fetch of key resolved to.
func (m *Manager) CachedValue(key string) (string, bool) {
	return m.cache.Get(key)
}

// Cancel detaches the subscribers of key and notifies them. A running worker
// is not interrupted; whatever it reports later is dropped.
func (m *Manager) Cancel(key string) {
	if key == "" {
		return
	}
	m.mu.Lock()
	subs, ok := m.registry.Remove(key)
	if ok {
		m.postLocked(downloader.Event{Key: key, Type: downloader.EventCancelled}, subs)
	}
	m.mu.Unlock()
	if ok {
		metrics.PendingKeys.Set(float64(m.registry.Len()))
	}
}

// ClearAndNotify detaches the subscribers of key and sends them a clear
// event carrying success and path.
func (m *Manager) ClearAndNotify(key string, success bool, path string) {
	if key == "" {
		return
	}
	m.mu.Lock()
	subs, ok := m.registry.Remove(key)
	if ok {
		m.postLocked(downloader.Event{Key: key, Type: downloader.EventCleared, Success: success, Path: path}, subs)
	}
	m.mu.Unlock()
	if ok {
		metrics.PendingKeys.Set(float64(m.registry.Len()))
	}
}

// Detach removes sub from the pending set of key without notifying it. The
// set and its worker are left alone, even when sub was the last subscriber.
// It reports whether sub was found.
func (m *Manager) Detach(key string, sub Subscriber) bool {
	if key == "" || sub == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Detach(key, sub)
}

// ResetAll drops every pending set and cache entry without notifying anyone
// and shuts the worker pool down. Deliveries already queued and reports from
// workers still running are discarded. Pool shutdown errors are logged only.
func (m *Manager) ResetAll(ctx context.Context) {
	m.mu.Lock()
	m.epoch.Add(1)
	m.registry.ClearAll()
	m.cache.ClearAll()
	p := m.detachPool()
	m.mu.Unlock()
	metrics.PendingKeys.Set(0)
	metrics.CacheEntries.Set(0)

	m.shutdownPool(ctx, p)
	m.log.Info("reset all")
}

// Close shuts the pool down and stops the delivery goroutine.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	m.epoch.Add(1)
	p := m.detachPool()
	m.mu.Unlock()
	m.shutdownPool(ctx, p)
	m.disp.Stop()
}

func (m *Manager) getPool() *Pool {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	if m.pool == nil {
		m.pool = NewPool(m.opts.Logger, m.opts.Workers)
	}
	return m.pool
}

func (m *Manager) detachPool() *Pool {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	p := m.pool
	m.pool = nil
	return p
}

func (m *Manager) shutdownPool(ctx context.Context, p *Pool) {
	if p == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.ShutdownTimeout)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		m.log.Warn("worker pool shutdown", "err", err)
	}
}

func (m *Manager) job(log *slog.Logger, rep *boundReporter, w downloader.Worker) Job {
	return func(ctx context.Context) {
		if !rep.current() {
			log.Debug("skipping fetch for stale cycle")
			return
		}
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("worker panicked", "panic", r)
				rep.Report(downloader.Event{Key: rep.key, Type: downloader.EventFailed, Message: fmt.Sprintf("fetch: worker panic: %v", r)})
			}
			outcome := "abandoned"
			if t := rep.terminal(); t != "" {
				outcome = strings.ToLower(string(t))
			}
			metrics.FetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		}()
		w.Run(ctx, rep)
	}
}

// deliverReport turns a worker report into a delivery. The subscribers are
// captured and the cache written when the worker reports, so a Cancel that
// follows still lets earlier results through ahead of the cancel event.
func (m *Manager) deliverReport(e downloader.Event, gen, epoch uint64) {
	m.mu.Lock()
	if m.epoch.Load() != epoch {
		m.mu.Unlock()
		metrics.DroppedReports.WithLabelValues("reset").Inc()
		return
	}
	var (
		subs []Subscriber
		live bool
	)
	settle := e.Type == downloader.EventComplete && m.opts.SettleOnSuccess
	if settle || (e.Type == downloader.EventFailed && m.opts.ClearOnFailure) {
		subs, live = m.registry.removeLive(e.Key, gen)
	} else {
		subs, live = m.registry.snapshotLive(e.Key, gen)
	}
	if !live {
		m.mu.Unlock()
		metrics.DroppedReports.WithLabelValues("stale").Inc()
		return
	}
	if e.Type == downloader.EventComplete {
		m.cache.Put(e.Key, e.Path)
	}
	m.disp.Post(func() {
		if m.epoch.Load() != epoch {
			metrics.DroppedReports.WithLabelValues("reset").Inc()
			return
		}
		m.fanOut(e, subs)
		if settle {
			m.fanOut(downloader.Event{Key: e.Key, Type: downloader.EventCleared, Success: true, Path: e.Path}, subs)
		}
	})
	m.mu.Unlock()

	metrics.PendingKeys.Set(float64(m.registry.Len()))
	metrics.CacheEntries.Set(float64(m.cache.Len()))
}

// postLocked queues a delivery to subs, which have already been detached.
// m.mu must be held.
func (m *Manager) postLocked(e downloader.Event, subs []Subscriber) {
	epoch := m.epoch.Load()
	m.disp.Post(func() {
		if m.epoch.Load() != epoch {
			return
		}
		m.fanOut(e, subs)
	})
}

func (m *Manager) fanOut(e downloader.Event, subs []Subscriber) {
	if m.opts.Observer != nil {
		m.observe(e)
	}
	for _, s := range subs {
		m.notify(s, e)
	}
	if len(subs) > 0 {
		metrics.FetchEvents.WithLabelValues(strings.ToLower(string(e.Type))).Add(float64(len(subs)))
	}
}

func (m *Manager) observe(e downloader.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("observer panicked", "key", e.Key, "panic", r)
		}
	}()
	m.opts.Observer.Observe(e)
}

func (m *Manager) notify(s Subscriber, e downloader.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("subscriber panicked", "key", e.Key, "event", e.Type, "panic", r)
		}
	}()
	switch e.Type {
	case downloader.EventStart:
		s.OnStart(e.Key)
	case downloader.EventProgress:
		s.OnProgress(e.Key, e.Percent)
	case downloader.EventFailed:
		s.OnFailure(e.Key, e.Message)
	case downloader.EventComplete:
		s.OnSuccess(e.Key, e.Path)
	case downloader.EventCancelled:
		s.OnCancel(e.Key)
	case downloader.EventCleared:
		s.OnClear(e.Success, e.Key, e.Path)
	}
}

// boundReporter ties a worker to the cycle it was started for and enforces
// the worker contract: one Start, progress within 0..100 and nothing after
// the terminal event.
type boundReporter struct {
	m     *Manager
	key   string
	gen   uint64
	epoch uint64

	mu      sync.Mutex
	started bool
	done    downloader.EventType
}

var _ downloader.Reporter = (*boundReporter)(nil)

func (r *boundReporter) Report(e downloader.Event) {
	e.Key = r.key
	r.mu.Lock()
	switch {
	case r.done != "":
		r.mu.Unlock()
		metrics.DroppedReports.WithLabelValues("after_terminal").Inc()
		return
	case e.Type == downloader.EventStart && r.started:
		r.mu.Unlock()
		metrics.DroppedReports.WithLabelValues("duplicate_start").Inc()
		return
	case e.Type == downloader.EventStart:
		r.started = true
	case e.Type == downloader.EventProgress:
		e.Percent = min(max(e.Percent, 0), 100)
	case e.Type.Terminal():
		r.done = e.Type
	default:
		r.mu.Unlock()
		metrics.DroppedReports.WithLabelValues("invalid").Inc()
		return
	}
	r.mu.Unlock()

	r.m.deliverReport(e, r.gen, r.epoch)
}

func (r *boundReporter) terminal() downloader.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// current reports whether the cycle is still the live one for its key.
func (r *boundReporter) current() bool {
	return r.m.epoch.Load() == r.epoch && r.m.registry.Live(r.key, r.gen)
}

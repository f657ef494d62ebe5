package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/tinoosan/fanfetch/internal/fp"
	"github.com/tinoosan/fanfetch/internal/logging"
)

// BucketOpener opens the bucket a worker writes into. dir is either a local
// directory or a gocloud bucket URL such as mem:// or file:///var/cache.
type BucketOpener func(ctx context.Context, dir string) (*blob.Bucket, error)

// HTTPOptions configures the HTTP fetch workers.
type HTTPOptions struct {
	// Timeout for a single fetch, including the body transfer.
	// Default: 60s
	Timeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// UserAgent is sent with every request when non-empty.
	UserAgent string
}

// DefaultHTTPOptions returns options with sensible defaults.
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		Timeout:             60 * time.Second,
		MaxIdleConnsPerHost: 16,
		UserAgent:           "fanfetch/1",
	}
}

// HTTPFactory builds workers that GET the key and stream the body into a
// blob bucket, reporting integer percentages as the body arrives.
type HTTPFactory struct {
	client *http.Client
	opts   HTTPOptions
	open   BucketOpener
	log    *slog.Logger
}

// NewHTTPFactory creates a factory sharing one tuned http.Client. A nil
// opener selects OpenBucket.
func NewHTTPFactory(log *slog.Logger, opts HTTPOptions, open BucketOpener) *HTTPFactory {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultHTTPOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if open == nil {
		open = OpenBucket
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFactory{
		client: &http.Client{Transport: transport},
		opts:   opts,
		open:   open,
		log:    log,
	}
}

var _ Factory = (*HTTPFactory)(nil)

func (f *HTTPFactory) NewWorker(key, dir, identifier string) Worker {
	return &httpWorker{f: f, key: key, dir: dir, name: fp.ObjectName(key, identifier)}
}

// OpenBucket opens dir as a gocloud bucket. Values containing "://" are
// treated as bucket URLs; anything else is a local directory, created on
// demand.
func OpenBucket(ctx context.Context, dir string) (*blob.Bucket, error) {
	if isBucketURL(dir) {
		return blob.OpenBucket(ctx, dir)
	}
	return fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
}

// JoinDestination returns the resolved location of name inside dir.
func JoinDestination(dir, name string) string {
	if !isBucketURL(dir) {
		return filepath.Join(dir, name)
	}
	base, query, _ := strings.Cut(dir, "?")
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if query != "" {
		return base + name + "?" + query
	}
	return base + name
}

func isBucketURL(dir string) bool { return strings.Contains(dir, "://") }

type httpWorker struct {
	f    *HTTPFactory
	key  string
	dir  string
	name string
}

func (w *httpWorker) Run(ctx context.Context, rep Reporter) {
	rep.Report(Event{Key: w.key, Type: EventStart})

	path, err := w.fetch(ctx, rep)
	if err != nil {
		w.f.log.Warn("fetch failed", "key", logging.RedactURL(w.key), "err", err)
		rep.Report(Event{Key: w.key, Type: EventFailed, Message: err.Error()})
		return
	}
	w.f.log.Info("fetch complete", "key", logging.RedactURL(w.key), "path", path)
	rep.Report(Event{Key: w.key, Type: EventComplete, Path: path})
}

func (w *httpWorker) fetch(ctx context.Context, rep Reporter) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.key, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if w.f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", w.f.opts.UserAgent)
	}
	resp, err := w.f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatusCode(resp.StatusCode); err != nil {
		return "", err
	}

	bucket, err := w.f.open(ctx, w.dir)
	if err != nil {
		return "", fmt.Errorf("open bucket %s: %w", w.dir, err)
	}
	defer bucket.Close()

	// Cancelling wctx aborts the write so no partial object is left behind.
	wctx, abort := context.WithCancel(ctx)
	defer abort()
	bw, err := bucket.NewWriter(wctx, w.name, &blob.WriterOptions{ContentType: resp.Header.Get("Content-Type")})
	if err != nil {
		return "", fmt.Errorf("new writer: %w", err)
	}

	pr := &progressReader{r: resp.Body, total: resp.ContentLength, key: w.key, rep: rep, last: -1}
	if _, err := io.Copy(bw, pr); err != nil {
		abort()
		_ = bw.Close()
		return "", fmt.Errorf("copy body: %w", err)
	}
	if err := bw.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	pr.finish()
	return JoinDestination(w.dir, w.name), nil
}

func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %d", ErrForbidden, code)
	case code >= 500:
		return fmt.Errorf("%w: %d", ErrServerError, code)
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
}

// progressReader reports an event each time the integer percentage advances.
// Bodies without a Content-Length only get the final 100%.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	key   string
	rep   Reporter
	last  int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.total > 0 {
			pct := int(p.read * 100 / p.total)
			if pct > 99 {
				// 100 is only reported once the object is durable.
				pct = 99
			}
			p.emit(pct)
		}
	}
	return n, err
}

func (p *progressReader) finish() { p.emit(100) }

func (p *progressReader) emit(pct int) {
	if pct <= p.last {
		return
	}
	p.last = pct
	p.rep.Report(Event{Key: p.key, Type: EventProgress, Percent: pct})
}

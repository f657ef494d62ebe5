package downloader

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/tinoosan/fanfetch/internal/fp"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func collect(events *[]Event) Reporter {
	return ReporterFunc(func(e Event) { *events = append(*events, e) })
}

func newTestServer(t *testing.T, body []byte, withLength bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Path == "/boom.png" {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if withLength {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		}
		// Several writes so the client sees more than one read.
		chunk := len(body) / 4
		for i := 0; i < len(body); i += chunk {
			end := min(i+chunk, len(body))
			_, _ = w.Write(body[i:end])
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testBody() []byte {
	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestHTTPWorkerWritesFileAndReportsProgress(t *testing.T) {
	body := testBody()
	srv := newTestServer(t, body, true)
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	key := srv.URL + "/cat.png"

	f := NewHTTPFactory(testLogger(), HTTPOptions{}, nil)
	var events []Event
	f.NewWorker(key, dir, "").Run(context.Background(), collect(&events))

	require.NotEmpty(t, events)
	assert.Equal(t, EventStart, events[0].Type)
	last := events[len(events)-1]
	require.Equal(t, EventComplete, last.Type, "last event: %+v", last)

	wantPath := filepath.Join(dir, fp.ObjectName(key, ""))
	assert.Equal(t, wantPath, last.Path)

	got, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	prev := -1
	var sawHundred bool
	for _, e := range events[1 : len(events)-1] {
		require.Equal(t, EventProgress, e.Type)
		assert.Greater(t, e.Percent, prev, "progress must be increasing")
		prev = e.Percent
		sawHundred = sawHundred || e.Percent == 100
	}
	assert.True(t, sawHundred, "expected a final 100%% progress event")
}

func TestHTTPWorkerUnknownLengthOnlyReportsCompletion(t *testing.T) {
	srv := newTestServer(t, testBody(), false)
	dir := t.TempDir()

	f := NewHTTPFactory(testLogger(), HTTPOptions{}, nil)
	var events []Event
	f.NewWorker(srv.URL+"/cat.png", dir, "cat.png").Run(context.Background(), collect(&events))

	want := []EventType{EventStart, EventProgress, EventComplete}
	require.Len(t, events, len(want))
	for i, tp := range want {
		assert.Equal(t, tp, events[i].Type)
	}
	assert.Equal(t, 100, events[1].Percent)
	assert.Equal(t, filepath.Join(dir, "cat.png"), events[2].Path)
}

func TestHTTPWorkerFailures(t *testing.T) {
	srv := newTestServer(t, testBody(), true)

	tests := []struct {
		name string
		key  string
		want error
	}{
		{"not found", srv.URL + "/missing.png", ErrNotFound},
		{"server error", srv.URL + "/boom.png", ErrServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			f := NewHTTPFactory(testLogger(), HTTPOptions{}, nil)
			var events []Event
			f.NewWorker(tt.key, dir, "x.png").Run(context.Background(), collect(&events))

			require.Len(t, events, 2)
			assert.Equal(t, EventStart, events[0].Type)
			assert.Equal(t, EventFailed, events[1].Type)
			assert.Contains(t, events[1].Message, tt.want.Error())

			_, err := os.Stat(filepath.Join(dir, "x.png"))
			assert.True(t, os.IsNotExist(err), "no object expected after failure")
		})
	}
}

func TestHTTPWorkerCustomBucket(t *testing.T) {
	body := testBody()
	srv := newTestServer(t, body, true)
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })

	// Hand the worker a prefixed view so its Close does not close the shared bucket.
	open := func(ctx context.Context, dir string) (*blob.Bucket, error) {
		return blob.PrefixedBucket(bucket, "imgs/"), nil
	}
	f := NewHTTPFactory(testLogger(), HTTPOptions{}, open)
	var events []Event
	f.NewWorker(srv.URL+"/cat.png", "mem://", "cat.png").Run(context.Background(), collect(&events))

	require.Equal(t, EventComplete, events[len(events)-1].Type)
	assert.Equal(t, "mem://cat.png", events[len(events)-1].Path)

	got, err := bucket.ReadAll(context.Background(), "imgs/cat.png")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestJoinDestination(t *testing.T) {
	tests := []struct {
		dir, name, want string
	}{
		{"/var/cache", "a.png", filepath.Join("/var/cache", "a.png")},
		{"mem://", "a.png", "mem://a.png"},
		{"file:///var/cache", "a.png", "file:///var/cache/a.png"},
		{"s3://bucket/prefix/?region=eu-west-1", "a.png", "s3://bucket/prefix/a.png?region=eu-west-1"},
	}
	for _, tt := range tests {
		if got := JoinDestination(tt.dir, tt.name); got != tt.want {
			t.Fatalf("JoinDestination(%q, %q) = %q want %q", tt.dir, tt.name, got, tt.want)
		}
	}
}

func TestNoopFactory(t *testing.T) {
	var events []Event
	NewNoopFactory().NewWorker("https://example.com/a.png", "/tmp/c", "a.png").Run(context.Background(), collect(&events))
	require.Len(t, events, 3)
	assert.Equal(t, EventComplete, events[2].Type)
	assert.Equal(t, filepath.Join("/tmp/c", "a.png"), events[2].Path)
}

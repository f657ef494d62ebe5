package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	internaldata "github.com/tinoosan/fanfetch/internal/data"
	"github.com/tinoosan/fanfetch/internal/downloader"
	"github.com/tinoosan/fanfetch/internal/fetch"
	"github.com/tinoosan/fanfetch/internal/fp"
	"github.com/tinoosan/fanfetch/internal/history"
	"github.com/tinoosan/fanfetch/internal/repo"
	"github.com/tinoosan/fanfetch/internal/router"
	"github.com/tinoosan/fanfetch/internal/service"
)

const testToken = "testtoken"

type env struct {
	h   http.Handler
	dir string
}

func setup(t *testing.T) env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	store := repo.NewInMemoryHistoryRepo(0)
	rec := history.New(logger, store, 16)
	rec.Run()
	t.Cleanup(rec.Stop)

	mgr, err := fetch.NewManager(fetch.Options{
		Factory:         downloader.NewNoopFactory(),
		Dirs:            fetch.StaticDir(dir),
		SettleOnSuccess: true,
		Observer:        rec,
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close(context.Background()) })

	svc := service.NewFetch(mgr, store, 2*time.Second)
	return env{h: router.New(logger, svc, testToken), dir: dir}
}

func authReq(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+testToken)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, rd)
	authReq(req)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	e := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "ok" {
		t.Fatalf("expected body 'ok' got %q", rr.Body.String())
	}
}

func TestFetchLifecycle(t *testing.T) {
	e := setup(t)
	key := "https://example.com/cat.png"

	// Wait for the fetch to finish.
	rr := do(t, e.h, http.MethodPost, "/v1/fetches", `{"key":"`+key+`","identifier":"cat.png","wait":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var res internaldata.FetchResult
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	wantPath := filepath.Join(e.dir, "cat.png")
	if res.Status != internaldata.StatusComplete || res.Path != wantPath {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Cache lookup
	rr = do(t, e.h, http.MethodGet, "/v1/cache?key="+key, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}
	var entry internaldata.CacheEntry
	if err := json.NewDecoder(rr.Body).Decode(&entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Path != wantPath {
		t.Fatalf("cache path = %q want %q", entry.Path, wantPath)
	}

	// A second request is answered from the cache.
	rr = do(t, e.h, http.MethodPost, "/v1/fetches", `{"key":"`+key+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}
	res = internaldata.FetchResult{}
	_ = json.NewDecoder(rr.Body).Decode(&res)
	if res.Status != internaldata.StatusCached {
		t.Fatalf("expected cached result, got %+v", res)
	}

	// Force bypasses the cache; without wait the answer is 202.
	rr = do(t, e.h, http.MethodPost, "/v1/fetches", `{"key":"`+key+`","force":true}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 got %d", rr.Code)
	}

	// Reset empties the cache.
	rr = do(t, e.h, http.MethodPost, "/v1/reset", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 got %d", rr.Code)
	}
	rr = do(t, e.h, http.MethodGet, "/v1/cache?key="+key, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rr.Code)
	}
}

func TestFetchDefaultObjectName(t *testing.T) {
	e := setup(t)
	key := "https://example.com/img/dog.jpg"
	rr := do(t, e.h, http.MethodPost, "/v1/fetches", `{"key":"`+key+`","wait":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}
	var res internaldata.FetchResult
	_ = json.NewDecoder(rr.Body).Decode(&res)
	if want := filepath.Join(e.dir, fp.ObjectName(key, "")); res.Path != want {
		t.Fatalf("path = %q want %q", res.Path, want)
	}
}

func TestValidation(t *testing.T) {
	e := setup(t)

	tests := []struct {
		name        string
		method      string
		target      string
		body        string
		contentType string
		want        int
	}{
		{"empty key", http.MethodPost, "/v1/fetches", `{"key":"  "}`, "", http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/fetches", `{"key":"k","bogus":1}`, "", http.StatusBadRequest},
		{"bad content type", http.MethodPost, "/v1/fetches", `{"key":"k"}`, "text/plain", http.StatusUnsupportedMediaType},
		{"clear without key", http.MethodPost, "/v1/fetches/clear", `{"success":true}`, "", http.StatusBadRequest},
		{"cancel without key", http.MethodDelete, "/v1/fetches", "", "", http.StatusBadRequest},
		{"cache without key", http.MethodGet, "/v1/cache", "", "", http.StatusBadRequest},
		{"history bad limit", http.MethodGet, "/v1/history?limit=abc", "", "", http.StatusBadRequest},
		{"history limit too large", http.MethodGet, "/v1/history?limit=5000", "", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rd io.Reader
			if tt.body != "" {
				rd = bytes.NewBufferString(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.target, rd)
			authReq(req)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			e.h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCancelAndClear(t *testing.T) {
	e := setup(t)

	rr := do(t, e.h, http.MethodDelete, "/v1/fetches?key=https://example.com/a.png", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("cancel: expected status 204 got %d", rr.Code)
	}
	rr = do(t, e.h, http.MethodPost, "/v1/fetches/clear", `{"key":"https://example.com/a.png","success":false}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("clear: expected status 204 got %d", rr.Code)
	}
}

func TestHistoryAndCacheDir(t *testing.T) {
	e := setup(t)

	rr := do(t, e.h, http.MethodPost, "/v1/fetches", `{"key":"https://example.com/h.png","wait":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("fetch: expected status 200 got %d", rr.Code)
	}

	var list []internaldata.HistoryEntry
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rr = do(t, e.h, http.MethodGet, "/v1/history?limit=10", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("history: expected status 200 got %d", rr.Code)
		}
		list = nil
		if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(list) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(list) == 0 {
		t.Fatalf("no history recorded")
	}
	if list[len(list)-1].Key != "https://example.com/h.png" {
		t.Fatalf("unexpected history: %+v", list)
	}

	rr = do(t, e.h, http.MethodGet, "/v1/cachedir", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("cachedir: expected status 200 got %d", rr.Code)
	}
	var body map[string]string
	_ = json.NewDecoder(rr.Body).Decode(&body)
	if body["dir"] != e.dir {
		t.Fatalf("dir = %q want %q", body["dir"], e.dir)
	}
}

func TestRequiresToken(t *testing.T) {
	e := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/cachedir", nil)
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 got %d", rr.Code)
	}
}

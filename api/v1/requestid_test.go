package v1

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tinoosan/fanfetch/internal/reqid"
)

func TestRequestIDMiddleware_GeneratesAndEchoes(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = reqid.From(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(rr, req)
	got := rr.Header().Get(reqid.Header)
	if got == "" {
		t.Fatalf("expected non-empty %s header", reqid.Header)
	}
	if seen != got {
		t.Fatalf("context id %q does not match header %q", seen, got)
	}
}

func TestRequestIDMiddleware_HonorsIncoming(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(reqid.Header, "abc123")
	h.ServeHTTP(rr, req)
	if rr.Header().Get(reqid.Header) != "abc123" {
		t.Fatalf("expected echoed header abc123, got %q", rr.Header().Get(reqid.Header))
	}
}

func TestRWLoggerTracksStatusAndBytes(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := &rwLogger{ResponseWriter: rr}
	_, _ = rw.Write([]byte("hello"))
	if rw.status != http.StatusOK || rw.bytes != 5 {
		t.Fatalf("status=%d bytes=%d", rw.status, rw.bytes)
	}
	markErr(rw, ErrKeyQuery)
	if rw.err != ErrKeyQuery {
		t.Fatalf("error not recorded")
	}
}

package v1

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tinoosan/fanfetch/internal/data"
	"github.com/tinoosan/fanfetch/internal/reqid"
)

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets the websocket upgrade take over the connection.
func (w *rwLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func (w *rwLogger) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyFetch struct{}
type ctxKeyClear struct{}

// MiddlewareFetchValidation decodes and validates a FetchRequest body.
func MiddlewareFetchValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req data.FetchRequest
		if err := decodeJSONStrict(w, r, &req, maxBodyBytes, "application/json"); err != nil {
			rejectBody(w, err)
			return
		}
		if err := req.Validate(); err != nil {
			markErr(w, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyFetch{}, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MiddlewareClearValidation decodes a ClearRequest body.
func MiddlewareClearValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req data.ClearRequest
		if err := decodeJSONStrict(w, r, &req, maxBodyBytes, "application/json"); err != nil {
			rejectBody(w, err)
			return
		}
		if req.Key == "" {
			markErr(w, data.ErrInvalidKey)
			http.Error(w, data.ErrInvalidKey.Error(), http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyClear{}, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func rejectBody(w http.ResponseWriter, err error) {
	markErr(w, err)
	if errors.Is(err, ErrContentType) {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}
	http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
}

// Log writes one access log line per request.
func (h *FetchHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		l := reqid.Logger(r.Context(), h.l)
		attrs := []any{
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", time.Since(startTime).Milliseconds(),
			"bytes", rw.bytes,
		}
		if rw.err != nil {
			l.Error(rw.err.Error(), attrs...)
			return
		}
		l.Info("", attrs...)
	})
}

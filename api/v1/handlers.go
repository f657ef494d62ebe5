package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tinoosan/fanfetch/internal/data"
	"github.com/tinoosan/fanfetch/internal/service"
)

// FetchHandler serves the fetch control API.
type FetchHandler struct {
	l   *slog.Logger
	svc service.Fetch
}

func NewFetchHandler(l *slog.Logger, svc service.Fetch) *FetchHandler {
	if l == nil {
		l = slog.Default()
	}
	return &FetchHandler{l: l, svc: svc}
}

// PostFetch starts or joins a fetch. It answers 200 when a result is known
// (cached or waited for) and 202 while the fetch is still running.
func (h *FetchHandler) PostFetch(w http.ResponseWriter, r *http.Request) {
	req, ok := r.Context().Value(ctxKeyFetch{}).(data.FetchRequest)
	if !ok {
		markErr(w, ErrFetchCtx)
		http.Error(w, ErrFetchCtx.Error(), http.StatusInternalServerError)
		return
	}
	res, err := h.svc.Fetch(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	status := http.StatusOK
	if res.Status == data.StatusPending {
		status = http.StatusAccepted
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = res.ToJSON(w)
}

func (h *FetchHandler) GetCache(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	entry, err := h.svc.Cached(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = entry.ToJSON(w)
}

// DeleteFetch cancels the pending fetch for ?key=.
func (h *FetchHandler) DeleteFetch(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Cancel(r.Context(), key); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FetchHandler) PostClear(w http.ResponseWriter, r *http.Request) {
	req, ok := r.Context().Value(ctxKeyClear{}).(data.ClearRequest)
	if !ok {
		markErr(w, ErrClearCtx)
		http.Error(w, ErrClearCtx.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.svc.Clear(r.Context(), req); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FetchHandler) PostReset(w http.ResponseWriter, r *http.Request) {
	h.svc.Reset(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *FetchHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			markErr(w, ErrLimitQuery)
			http.Error(w, ErrLimitQuery.Error(), http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = list.ToJSON(w)
}

func (h *FetchHandler) GetCacheDir(w http.ResponseWriter, r *http.Request) {
	dir, err := h.svc.CacheDir(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]string{"dir": dir})
}

func keyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		markErr(w, ErrKeyQuery)
		http.Error(w, ErrKeyQuery.Error(), http.StatusBadRequest)
		return "", false
	}
	return key, true
}

func (h *FetchHandler) fail(w http.ResponseWriter, err error) {
	markErr(w, err)
	switch {
	case errors.Is(err, data.ErrInvalidKey), errors.Is(err, data.ErrBadLimit):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, data.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

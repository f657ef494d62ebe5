package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tinoosan/fanfetch/internal/data"
	"github.com/tinoosan/fanfetch/internal/downloader"
	"github.com/tinoosan/fanfetch/internal/reqid"
)

// EventCached is the message type sent when the key is answered from cache.
const EventCached = "Cached"

// StreamFetch upgrades to a websocket, subscribes to ?key= and forwards
// every event as JSON until the fetch reaches a terminal event.
func (h *FetchHandler) StreamFetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := data.FetchRequest{
		Key:        strings.TrimSpace(q.Get("key")),
		Identifier: q.Get("identifier"),
	}
	if v := q.Get("force"); v != "" {
		req.Force, _ = strconv.ParseBool(v)
	}
	if req.Key == "" {
		markErr(w, ErrKeyQuery)
		http.Error(w, ErrKeyQuery.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		markErr(w, err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")

	// Clients only listen; CloseRead cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())
	log := reqid.Logger(r.Context(), h.l).With("key", req.Key)

	stream, res, err := h.svc.Watch(ctx, req)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	if stream == nil {
		_ = wsjson.Write(ctx, conn, data.EventMessage{Key: res.Key, Type: EventCached, Path: res.Path})
		conn.Close(websocket.StatusNormalClosure, "cached")
		return
	}
	defer h.svc.Unwatch(res.Key, stream)

	for {
		e, err := stream.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("stream ended", "err", err)
			}
			return
		}
		if err := wsjson.Write(ctx, conn, toMessage(e)); err != nil {
			log.Debug("write event", "err", err)
			return
		}
		if isFinal(e.Type) {
			conn.Close(websocket.StatusNormalClosure, strings.ToLower(string(e.Type)))
			return
		}
	}
}

func isFinal(t downloader.EventType) bool {
	return t.Terminal() || t == downloader.EventCancelled || t == downloader.EventCleared
}

func toMessage(e downloader.Event) data.EventMessage {
	return data.EventMessage{
		Key:     e.Key,
		Type:    string(e.Type),
		Percent: e.Percent,
		Path:    e.Path,
		Message: e.Message,
		Success: e.Success,
	}
}

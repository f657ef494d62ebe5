package aria2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"nhooyr.io/websocket"
)

// Notification is a server push such as aria2.onDownloadComplete.
type Notification struct {
	Method string   `json:"method"`
	Params []GIDRef `json:"params"`
}

type GIDRef struct {
	GID string `json:"gid"`
}

// GIDs lists the downloads a notification is about.
func (n Notification) GIDs() []string {
	out := make([]string, 0, len(n.Params))
	for _, p := range n.Params {
		if p.GID != "" {
			out = append(out, p.GID)
		}
	}
	return out
}

// websocketURL maps the RPC endpoint onto the websocket one aria2 serves on
// the same path.
func websocketURL(u *url.URL) (string, error) {
	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return "", fmt.Errorf("aria2: no websocket endpoint for scheme %q", u.Scheme)
	}
	return ws.String(), nil
}

// Notifications opens the websocket endpoint and delivers pushes on the
// returned channel until ctx ends or the server hangs up, then closes it.
// RPC responses and malformed frames are skipped.
func (c *Client) Notifications(ctx context.Context) (<-chan Notification, error) {
	endpoint, err := websocketURL(c.baseURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("aria2: dial %s: %w", endpoint, err)
	}
	out := make(chan Notification, 8)
	go pump(ctx, conn, out)
	return out, nil
}

func pump(ctx context.Context, conn *websocket.Conn, out chan<- Notification) {
	defer close(out)
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var n Notification
		if json.Unmarshal(frame, &n) != nil || n.Method == "" {
			continue
		}
		select {
		case out <- n:
		case <-ctx.Done():
			return
		}
	}
}

package aria2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinoosan/fanfetch/internal/metrics"
)

const (
	DefaultRPCURL  = "http://127.0.0.1:6800/jsonrpc"
	DefaultTimeout = 3 * time.Second
)

// Client talks to an aria2 daemon over JSON-RPC.
type Client struct {
	baseURL *url.URL
	secret  string
	http    *http.Client
}

// NewClient builds a client for rawURL. An empty rawURL selects
// DefaultRPCURL and a non-positive timeout selects DefaultTimeout.
func NewClient(rawURL, secret string, timeout time.Duration) (*Client, error) {
	if rawURL == "" {
		rawURL = DefaultRPCURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse aria2 rpc url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("aria2 rpc url must be http(s), got %q", rawURL)
	}
	return &Client{
		baseURL: u,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// NewClientFromEnv reads ARIA2_RPC_URL, ARIA2_SECRET and ARIA2_TIMEOUT_MS.
// Unparseable values fall back to the defaults.
func NewClientFromEnv(lookup func(string) (string, bool)) (*Client, error) {
	get := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}
	timeout := DefaultTimeout
	if v := get("ARIA2_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}
	c, err := NewClient(get("ARIA2_RPC_URL"), get("ARIA2_SECRET"), timeout)
	if err != nil {
		return NewClient("", get("ARIA2_SECRET"), timeout)
	}
	return c, nil
}

func (c *Client) BaseURL() *url.URL  { return c.baseURL }
func (c *Client) HTTP() *http.Client { return c.http }

// --- JSON-RPC wire types ---

type rpcReq struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      string `json:"id"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResp struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by aria2.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("aria2 rpc error %d: %s", e.Code, e.Message) }

// Call invokes method with params, prepending the secret token when one is
// configured, and decodes the result into out when out is non-nil.
func (c *Client) Call(ctx context.Context, method string, out any, params ...any) error {
	timer := prometheus.NewTimer(metrics.Aria2RPCLatency.WithLabelValues(method))
	defer timer.ObserveDuration()

	if c.secret != "" {
		params = append([]any{"token:" + c.secret}, params...)
	}
	body, err := json.Marshal(rpcReq{Jsonrpc: "2.0", Method: method, ID: "fanfetch", Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	b, _ := io.ReadAll(resp.Body)
	var rr rpcResp
	if err := json.Unmarshal(b, &rr); err != nil {
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("aria2 http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
		return fmt.Errorf("aria2 rpc decode: %w (%s)", err, string(b))
	}
	// aria2 answers RPC errors with a 400 and an error object.
	if rr.Error != nil {
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		return rr.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.Aria2RPCErrors.WithLabelValues(method).Inc()
		return fmt.Errorf("aria2 http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("aria2 %s result: %w", method, err)
	}
	return nil
}

// Status is the subset of aria2.tellStatus the fetch workers read.
type Status struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	TotalLength     string `json:"totalLength"`
	CompletedLength string `json:"completedLength"`
	ErrorCode       string `json:"errorCode"`
	ErrorMessage    string `json:"errorMessage"`
	Files           []File `json:"files"`
}

type File struct {
	Path string `json:"path"`
}

// Percent returns completed/total as an integer percentage, or -1 while
// the total is unknown.
func (s *Status) Percent() int {
	total, _ := strconv.ParseInt(s.TotalLength, 10, 64)
	done, _ := strconv.ParseInt(s.CompletedLength, 10, 64)
	if total <= 0 {
		return -1
	}
	return int(done * 100 / total)
}

var statusKeys = []string{"gid", "status", "totalLength", "completedLength", "errorCode", "errorMessage", "files"}

// AddURI queues uri into dir under the file name out and returns its GID.
func (c *Client) AddURI(ctx context.Context, uri, dir, out string) (string, error) {
	opts := map[string]string{"dir": dir}
	if out != "" {
		opts["out"] = out
	}
	var gid string
	if err := c.Call(ctx, "aria2.addUri", &gid, []string{uri}, opts); err != nil {
		return "", err
	}
	return gid, nil
}

// TellStatus fetches the state of gid.
func (c *Client) TellStatus(ctx context.Context, gid string) (*Status, error) {
	var st Status
	if err := c.Call(ctx, "aria2.tellStatus", &st, gid, statusKeys); err != nil {
		return nil, err
	}
	return &st, nil
}

// Remove stops gid. aria2 keeps the partial file.
func (c *Client) Remove(ctx context.Context, gid string) error {
	return c.Call(ctx, "aria2.forceRemove", nil, gid)
}

// Ping performs a lightweight RPC to check aria2 liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, "aria2.getVersion", nil)
}

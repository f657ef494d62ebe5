package data

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

// FetchRequest asks the service to resolve Key to a local path.
type FetchRequest struct {
	Key        string `json:"key"`
	Identifier string `json:"identifier,omitempty"`
	// Wait blocks the call until the fetch reaches a terminal state.
	Wait bool `json:"wait,omitempty"`
	// Force skips the cache short-circuit and always subscribes.
	Force bool `json:"force,omitempty"`
}

// FetchResult is the answer to a FetchRequest.
type FetchResult struct {
	Key     string      `json:"key"`
	Status  FetchStatus `json:"status"`
	Path    string      `json:"path,omitempty"`
	Message string      `json:"message,omitempty"`
	// Joined is true when the request attached to a fetch already in flight.
	Joined bool `json:"joined"`
}

type FetchStatus string

const (
	StatusCached    FetchStatus = "Cached"
	StatusPending   FetchStatus = "Pending"
	StatusComplete  FetchStatus = "Complete"
	StatusFailed    FetchStatus = "Failed"
	StatusCancelled FetchStatus = "Cancelled"
	StatusCleared   FetchStatus = "Cleared"
)

// ClearRequest detaches every subscriber of Key with a clear notification.
type ClearRequest struct {
	Key     string `json:"key"`
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
}

// EventMessage is the wire form of one lifecycle event.
type EventMessage struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	Percent int    `json:"percent,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
	Success bool   `json:"success,omitempty"`
}

// HistoryEntry records one terminal outcome.
type HistoryEntry struct {
	ID        string      `json:"id"`
	Key       string      `json:"key"`
	Status    FetchStatus `json:"status"`
	Path      string      `json:"path,omitempty"`
	Message   string      `json:"message,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

type HistoryEntries []*HistoryEntry

// CacheEntry is the response of a cache lookup.
type CacheEntry struct {
	Key  string `json:"key"`
	Path string `json:"path"`
}

var (
	ErrInvalidKey = errors.New("key is required")
	ErrNotFound   = errors.New("not found")
	ErrBadLimit   = errors.New("limit must be between 1 and 1000")
)

// MaxHistoryLimit caps how many history entries one listing returns.
const MaxHistoryLimit = 1000

// Validate trims the request and rejects an empty key.
func (r *FetchRequest) Validate() error {
	r.Key = strings.TrimSpace(r.Key)
	r.Identifier = strings.TrimSpace(r.Identifier)
	if r.Key == "" {
		return ErrInvalidKey
	}
	return nil
}

func (r *FetchRequest) FromJSON(rd io.Reader) error { return json.NewDecoder(rd).Decode(r) }

func (r *FetchResult) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(r) }

func (e *CacheEntry) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(e) }

func (h HistoryEntries) ToJSON(w io.Writer) error {
	if h == nil {
		h = HistoryEntries{}
	}
	return json.NewEncoder(w).Encode(h)
}

// Clone returns a copy of the entry.
func (h *HistoryEntry) Clone() *HistoryEntry {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}

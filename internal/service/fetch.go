package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinoosan/fanfetch/internal/data"
	"github.com/tinoosan/fanfetch/internal/downloader"
	"github.com/tinoosan/fanfetch/internal/fetch"
	"github.com/tinoosan/fanfetch/internal/repo"
)

// Core is the part of fetch.Manager the service drives.
type Core interface {
	RequestFetch(ctx context.Context, identifier, key string, sub fetch.Subscriber) fetch.Registration
	CachedValue(key string) (string, bool)
	Cancel(key string)
	ClearAndNotify(key string, success bool, path string)
	ResetAll(ctx context.Context)
	Detach(key string, sub fetch.Subscriber) bool
	CacheDirectory(ctx context.Context) (string, error)
}

var _ Core = (*fetch.Manager)(nil)

// Fetch is the caller-side policy on top of the coalescing core: answer from
// the cache when possible and optionally wait for the outcome.
type Fetch interface {
	Fetch(ctx context.Context, req data.FetchRequest) (*data.FetchResult, error)
	Watch(ctx context.Context, req data.FetchRequest) (*fetch.Stream, *data.FetchResult, error)
	Unwatch(key string, stream *fetch.Stream)
	Cached(ctx context.Context, key string) (*data.CacheEntry, error)
	Cancel(ctx context.Context, key string) error
	Clear(ctx context.Context, req data.ClearRequest) error
	Reset(ctx context.Context)
	CacheDir(ctx context.Context) (string, error)
	History(ctx context.Context, limit int) (data.HistoryEntries, error)
}

// DefaultHistoryLimit is used when History is called with limit 0.
const DefaultHistoryLimit = 50

type fetchService struct {
	core        Core
	history     repo.HistoryReader
	waitTimeout time.Duration
}

// NewFetch builds the service. history may be nil, in which case History
// returns an empty list. waitTimeout bounds Wait requests; zero means the
// caller's context alone decides.
func NewFetch(core Core, history repo.HistoryReader, waitTimeout time.Duration) Fetch {
	return &fetchService{core: core, history: history, waitTimeout: waitTimeout}
}

func (s *fetchService) cached(req data.FetchRequest) (*data.FetchResult, bool) {
	if req.Force {
		return nil, false
	}
	path, ok := s.core.CachedValue(req.Key)
	if !ok {
		return nil, false
	}
	return &data.FetchResult{Key: req.Key, Status: data.StatusCached, Path: path}, true
}

func (s *fetchService) Fetch(ctx context.Context, req data.FetchRequest) (*data.FetchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if res, ok := s.cached(req); ok {
		return res, nil
	}
	if !req.Wait {
		reg := s.core.RequestFetch(ctx, req.Identifier, req.Key, nil)
		return &data.FetchResult{Key: req.Key, Status: data.StatusPending, Joined: reg == fetch.Joined}, nil
	}

	stream := fetch.NewStream()
	defer s.Unwatch(req.Key, stream)
	reg := s.core.RequestFetch(ctx, req.Identifier, req.Key, stream)
	res := &data.FetchResult{Key: req.Key, Status: data.StatusPending, Joined: reg == fetch.Joined}

	if s.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.waitTimeout)
		defer cancel()
	}
	for {
		e, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// The fetch carries on; report it as still pending.
				return res, nil
			}
			return nil, fmt.Errorf("wait for %s: %w", req.Key, err)
		}
		if applyTerminal(res, e) {
			return res, nil
		}
	}
}

// applyTerminal copies a terminal event into res and reports whether e was
// terminal.
func applyTerminal(res *data.FetchResult, e downloader.Event) bool {
	switch e.Type {
	case downloader.EventComplete:
		res.Status, res.Path = data.StatusComplete, e.Path
	case downloader.EventFailed:
		res.Status, res.Message = data.StatusFailed, e.Message
	case downloader.EventCancelled:
		res.Status = data.StatusCancelled
	case downloader.EventCleared:
		res.Status, res.Path = data.StatusCleared, e.Path
	default:
		return false
	}
	return true
}

func (s *fetchService) Watch(ctx context.Context, req data.FetchRequest) (*fetch.Stream, *data.FetchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if res, ok := s.cached(req); ok {
		return nil, res, nil
	}
	stream := fetch.NewStream()
	reg := s.core.RequestFetch(ctx, req.Identifier, req.Key, stream)
	return stream, &data.FetchResult{Key: req.Key, Status: data.StatusPending, Joined: reg == fetch.Joined}, nil
}

// Unwatch drops stream from the pending set of key, if it is still there,
// and closes it. The fetch itself keeps running.
func (s *fetchService) Unwatch(key string, stream *fetch.Stream) {
	if stream == nil {
		return
	}
	s.core.Detach(key, stream)
	stream.Close()
}

func (s *fetchService) Cached(ctx context.Context, key string) (*data.CacheEntry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, data.ErrInvalidKey
	}
	path, ok := s.core.CachedValue(key)
	if !ok {
		return nil, data.ErrNotFound
	}
	return &data.CacheEntry{Key: key, Path: path}, nil
}

func (s *fetchService) Cancel(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return data.ErrInvalidKey
	}
	s.core.Cancel(key)
	return nil
}

func (s *fetchService) Clear(ctx context.Context, req data.ClearRequest) error {
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		return data.ErrInvalidKey
	}
	s.core.ClearAndNotify(req.Key, req.Success, req.Path)
	return nil
}

func (s *fetchService) Reset(ctx context.Context) { s.core.ResetAll(ctx) }

func (s *fetchService) CacheDir(ctx context.Context) (string, error) {
	return s.core.CacheDirectory(ctx)
}

func (s *fetchService) History(ctx context.Context, limit int) (data.HistoryEntries, error) {
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit < 0 || limit > data.MaxHistoryLimit {
		return nil, data.ErrBadLimit
	}
	if s.history == nil {
		return data.HistoryEntries{}, nil
	}
	return s.history.List(ctx, limit)
}

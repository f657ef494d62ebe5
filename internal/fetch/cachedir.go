package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// ErrNoCacheDir is returned when no destination directory can be resolved.
var ErrNoCacheDir = errors.New("fetch: no cache directory available")

// DirResolver resolves the directory (or bucket URL) fetched objects are
// written to.
type DirResolver interface {
	CacheDir(ctx context.Context) (string, error)
}

// StaticDir always resolves to itself.
type StaticDir string

func (s StaticDir) CacheDir(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCacheDir
	}
	return string(s), nil
}

// UserCacheDir prefers the per-user cache directory (<cache>/<App>/pictures)
// and falls back to <tmp>/<App>/download_cache when the platform has none.
type UserCacheDir struct {
	App string
}

func (u UserCacheDir) CacheDir(context.Context) (string, error) {
	app := u.App
	if app == "" {
		app = "fanfetch"
	}
	if base, err := os.UserCacheDir(); err == nil && base != "" {
		return filepath.Join(base, app, "pictures"), nil
	}
	tmp := os.TempDir()
	if tmp == "" {
		return "", ErrNoCacheDir
	}
	return filepath.Join(tmp, app, "download_cache"), nil
}

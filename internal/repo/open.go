package repo

import (
	"errors"
	"strings"
)

// ErrUnsupportedDSN is returned by Open for an unrecognised history DSN.
var ErrUnsupportedDSN = errors.New("unsupported history dsn")

// Open selects a history backend from dsn:
//
//	""                     in memory
//	"memory"               in memory
//	"postgres://..."       PostgreSQL
//	"postgres-env"         PostgreSQL configured from POSTGRES_* variables
//	"sqlite:/path/to.db"   SQLite
func Open(dsn string) (HistoryRepo, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return NewInMemoryHistoryRepo(0), nil
	case dsn == "postgres-env":
		return NewPostgresRepoFromEnv()
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresRepo(dsn)
	case strings.HasPrefix(dsn, "sqlite:"):
		path := strings.TrimPrefix(dsn, "sqlite:")
		if path == "" {
			return nil, ErrUnsupportedDSN
		}
		return NewSQLiteRepo(path)
	default:
		return nil, ErrUnsupportedDSN
	}
}

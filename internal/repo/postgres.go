package repo

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgresRepo opens a history repository on PostgreSQL using dsn.
func NewPostgresRepo(dsn string) (*SQLHistoryRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return newSQLHistoryRepo(ctx, db, postgresDialect)
}

// NewPostgresRepoFromEnv constructs a DSN using component env vars.
// Recognized envs (with defaults):
//
//	POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (fanfetch),
//	POSTGRES_USER (fanfetch), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
//
// Credentials and db name are URL-encoded to handle special characters safely.
func NewPostgresRepoFromEnv() (*SQLHistoryRepo, error) {
	return NewPostgresRepo(PostgresDSNFromEnv(os.LookupEnv))
}

// PostgresDSNFromEnv builds the DSN used by NewPostgresRepoFromEnv.
func PostgresDSNFromEnv(lookup func(string) (string, bool)) string {
	getenv := func(k, def string) string {
		if v, ok := lookup(k); ok && v != "" {
			return v
		}
		return def
	}
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "fanfetch")
	user := getenv("POSTGRES_USER", "fanfetch")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return u.String()
}

package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/fanfetch/internal/data"
)

// dialect captures the few statements that differ between backends.
type dialect struct {
	name   string
	schema string
	// bind rewrites ? placeholders into the backend's syntax.
	bind func(q string) string
}

var postgresDialect = dialect{
	name: "postgres",
	schema: `
CREATE TABLE IF NOT EXISTS fetch_history (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    fetch_key TEXT NOT NULL,
    status TEXT NOT NULL,
    path TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_history_key ON fetch_history(fetch_key);
`,
	bind: dollarPlaceholders,
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
CREATE TABLE IF NOT EXISTS fetch_history (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    fetch_key TEXT NOT NULL,
    status TEXT NOT NULL,
    path TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_history_key ON fetch_history(fetch_key);
`,
	bind: func(q string) string { return q },
}

// dollarPlaceholders turns "?" into "$1", "$2", ... for PostgreSQL.
func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// SQLHistoryRepo implements HistoryRepo on database/sql for PostgreSQL and
// SQLite.
type SQLHistoryRepo struct {
	db *sql.DB
	d  dialect
}

func newSQLHistoryRepo(ctx context.Context, db *sql.DB, d dialect) (*SQLHistoryRepo, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	r := &SQLHistoryRepo{db: db, d: d}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure %s schema: %w", d.name, err)
	}
	return r, nil
}

func (r *SQLHistoryRepo) ensureSchema(ctx context.Context) error {
	// One statement per Exec keeps both drivers happy.
	for _, stmt := range strings.Split(r.d.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Dialect names the backend, "postgres" or "sqlite".
func (r *SQLHistoryRepo) Dialect() string { return r.d.name }

func (r *SQLHistoryRepo) Close() error { return r.db.Close() }

// Record implements HistoryWriter.Record
func (r *SQLHistoryRepo) Record(ctx context.Context, e *data.HistoryEntry) (*data.HistoryEntry, error) {
	c := e.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.d.bind(`INSERT INTO fetch_history (id,fetch_key,status,path,message,created_at) VALUES (?,?,?,?,?,?)`),
		c.ID, c.Key, string(c.Status), c.Path, c.Message, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}
	return c, nil
}

// List implements HistoryReader.List
func (r *SQLHistoryRepo) List(ctx context.Context, limit int) (data.HistoryEntries, error) {
	rows, err := r.db.QueryContext(ctx, r.d.bind(`SELECT id,fetch_key,status,path,message,created_at FROM fetch_history ORDER BY seq DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	out := data.HistoryEntries{}
	for rows.Next() {
		var (
			e      data.HistoryEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.Key, &status, &e.Path, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = data.FetchStatus(status)
		out = append(out, &e)
	}
	return out, rows.Err()
}

package repo

import (
	"context"

	"github.com/tinoosan/fanfetch/internal/data"
)

// HistoryRepo stores terminal fetch outcomes for auditing.
type HistoryRepo interface {
	HistoryReader
	HistoryWriter
	Close() error
}

type HistoryReader interface {
	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) (data.HistoryEntries, error)
}

type HistoryWriter interface {
	// Record stores e, assigning ID and CreatedAt when unset.
	Record(ctx context.Context, e *data.HistoryEntry) (*data.HistoryEntry, error)
}

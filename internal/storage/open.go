package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"threadcast/internal/thread"
	"threadcast/pkg/logx"
)

// Store is the persistence API used by the scheduler and the analytics
// collector. Samples, tasks and rate windows all write with upsert semantics.
type Store interface {
	SaveThread(ctx context.Context, t *thread.Thread) error
	GetThread(ctx context.Context, id string) (*thread.Thread, bool, error)
	DeleteThread(ctx context.Context, id string) error
	// ListThreads returns threads in the given states (all states when empty),
	// ordered by scheduled time.
	ListThreads(ctx context.Context, statuses ...thread.Status) ([]*thread.Thread, error)

	PutTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, id string) error
	DeleteThreadTasks(ctx context.Context, threadID string) error
	// PendingTasks returns every stored task of the given kind ("" = all),
	// ordered by due time. Callers decide what is overdue.
	PendingTasks(ctx context.Context, kind string) ([]Task, error)

	UpsertSample(ctx context.Context, s Sample) error
	ListSamples(ctx context.Context, threadID string) ([]Sample, error)

	PutRateWindow(ctx context.Context, w RateWindow) error
	// ListRateWindows returns windows whose reset time is still in the future.
	ListRateWindows(ctx context.Context, now time.Time) ([]RateWindow, error)
	PruneRateWindows(ctx context.Context, now time.Time) (int, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

package storage

import (
	"errors"
	"time"

	"threadcast/internal/platform"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps (tests, embedders with their own durability)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Task kinds.
const (
	TaskPublish   = "publish"
	TaskAnalytics = "analytics"
)

// Task is a durable deferred unit of work: "at DueAt, do Kind for ThreadID".
//
// IDs are deterministic ("publish:<thread>", "analytics:<thread>:<label>") so
// re-arming the same work is an upsert, not a duplicate.
type Task struct {
	ID       string
	Kind     string
	DueAt    time.Time
	ThreadID string
	Label    string // analytics offset label; empty for publish tasks
}

// Sample is one delayed metrics observation for a published post.
// At most one sample exists per (RemoteID, Label).
type Sample struct {
	ThreadID    string
	RemoteID    string
	Label       string
	Metrics     platform.Metrics
	CollectedAt time.Time
}

// RateWindow is a persisted rate limit counter for one time bucket.
type RateWindow struct {
	Bucket  string
	Count   int
	ResetAt time.Time
}

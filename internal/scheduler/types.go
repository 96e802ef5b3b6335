package scheduler

import (
	"errors"
	"fmt"
	"time"

	"threadcast/internal/planner"
	"threadcast/internal/thread"
)

var (
	ErrDisabled    = errors.New("scheduler disabled")
	ErrStopped     = errors.New("scheduler stopped")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// PublishError attributes a publication failure to a specific post position.
// The thread halts there; posts before Position keep their remote ids.
type PublishError struct {
	ThreadID string
	Position int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("thread %s: publish failed at position %d: %v", e.ThreadID, e.Position, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Config controls trigger and pacing behavior.
//
// All durations come from config as Go duration strings.
type Config struct {
	Enabled bool
	Workers int

	// PacingInterval is the courtesy delay between consecutive posts of one
	// thread (never before the first post). It is not a retry backoff.
	PacingInterval time.Duration

	// SweepInterval is the cadence of the recovery sweep for due publish
	// tasks and interrupted threads.
	SweepInterval time.Duration

	Policy planner.Policy
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PacingInterval <= 0 {
		c.PacingInterval = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// ScheduleRequest is the input to ScheduleThread.
type ScheduleRequest struct {
	Drafts   []thread.Draft
	Metadata map[string]string

	// PreferredTime overrides the computed slot when set.
	PreferredTime time.Time

	// Now skips slot planning entirely and publishes immediately.
	Now bool
}

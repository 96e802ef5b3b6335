// Package thread holds the domain model shared by the scheduler, the
// publication engine, storage and analytics: an ordered group of posts
// published as one logical unit with chained remote references.
package thread

import (
	"fmt"
	"time"
)

// Status is the thread lifecycle state.
//
// Transitions: draft -> scheduled -> posting -> {published | failed}.
// Only draft and scheduled are cancellable; posting is in-flight.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusPosting   Status = "posting"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// CanCancel reports whether a thread in this state may still be cancelled.
func (s Status) CanCancel() bool {
	return s == StatusDraft || s == StatusScheduled
}

// CanTransition reports whether the state machine allows moving to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusScheduled
	case StatusScheduled:
		return next == StatusPosting
	case StatusPosting:
		return next == StatusPublished || next == StatusFailed
	default:
		return false
	}
}

// Post is one publishable unit within a Thread.
//
// RemoteID is set only after a successful publish. ParentRemoteID chains to
// the previous post's RemoteID (empty for position 1).
type Post struct {
	Content   string
	Tags      []string
	MediaRefs []string

	// Position is the 1-based index within the thread. Positions are
	// contiguous starting at 1 and never change after scheduling.
	Position int

	RemoteID       string
	ParentRemoteID string

	// EstimatedEngagement is an advisory 0-10 score; never used for control flow.
	EstimatedEngagement float64
}

// Thread is an ordered sequence of posts sharing one publication lifecycle.
// Its shape (the posts slice) is immutable once the thread enters scheduled;
// only Status, ScheduledTime (pre-posting), RemoteID/ParentRemoteID on posts,
// and the failure/completion bookkeeping mutate afterwards.
type Thread struct {
	ID            string
	Posts         []Post
	ScheduledTime time.Time
	Status        Status

	// Metadata is opaque to the scheduler; kept for routing/display only.
	Metadata map[string]string

	CreatedAt   time.Time
	CompletedAt time.Time

	// FailedPosition is the 1-based position of the post whose publish call
	// failed (0 when the thread did not fail).
	FailedPosition int
	LastError      string
}

// Validate checks the structural invariants that must hold before a thread
// may be scheduled.
func (t *Thread) Validate() error {
	if len(t.Posts) == 0 {
		return fmt.Errorf("thread %s has no posts", t.ID)
	}
	for i := range t.Posts {
		if t.Posts[i].Position != i+1 {
			return fmt.Errorf("thread %s: post %d has position %d, want %d", t.ID, i, t.Posts[i].Position, i+1)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can hand threads across goroutines
// without sharing mutable slices.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Posts = make([]Post, len(t.Posts))
	copy(cp.Posts, t.Posts)
	for i := range cp.Posts {
		cp.Posts[i].Tags = append([]string(nil), t.Posts[i].Tags...)
		cp.Posts[i].MediaRefs = append([]string(nil), t.Posts[i].MediaRefs...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Draft is the caller-supplied raw material for one post, before
// normalization assigns positions, caps tags and scores engagement.
type Draft struct {
	Content   string
	Tags      []string
	MediaRefs []string
}

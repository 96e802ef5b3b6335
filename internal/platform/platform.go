// Package platform defines the contract against the remote publishing
// platform. The scheduler decides what and when to publish; the client does
// the network call. Both calls may fail transiently; retry policy (if any)
// belongs to the client implementation, never to the scheduler.
package platform

import "context"

// PublishRequest carries one post's worth of content.
type PublishRequest struct {
	Content string
	// ParentRemoteID threads this item under a previously published one.
	// Empty for the first item of a thread.
	ParentRemoteID string
	MediaRefs      []string
}

// PublishResult is the platform's acknowledgement.
type PublishResult struct {
	RemoteID string
}

// Metrics is a snapshot of engagement counts for a published item.
type Metrics struct {
	Impressions int64 `json:"impressions"`
	Engagements int64 `json:"engagements"`
	Likes       int64 `json:"likes"`
	Reposts     int64 `json:"reposts"`
	Replies     int64 `json:"replies"`
}

// Client is the platform API boundary.
type Client interface {
	Publish(ctx context.Context, req PublishRequest) (PublishResult, error)
	FetchMetrics(ctx context.Context, remoteID string) (Metrics, error)
}

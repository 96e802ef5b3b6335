// Package storage persists the scheduler's state across restarts.
//
// It currently holds:
//   - Threads and their posts (publication lifecycle state)
//   - Durable deferred tasks (pending publishes and analytics collections)
//   - Analytics samples (upsert per remote id + offset label)
//   - Rate limit windows (so restarts do not forget spent budget)
package storage

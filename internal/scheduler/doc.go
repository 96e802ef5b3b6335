// Package scheduler is the publication core: it accepts pre-authored content
// threads, normalizes them, decides when to publish, and walks each thread's
// posts in order against the platform client.
//
// # State machine
//
// Threads move draft -> scheduled -> posting -> {published | failed}. Only
// draft and scheduled threads can be cancelled; posting is in-flight and has
// network side effects. A failed thread keeps every remote id it already
// acquired and is never auto-resumed.
//
// # Durability
//
// Every wait (the delay until a thread's publish time) is persisted as a task
// row. On start the service re-arms timers from storage, and a periodic sweep
// catches anything a crash or missed timer left behind, so pending work
// survives restarts. Threads found stuck in posting after a restart are
// marked failed at the first unpublished position.
//
// # Concurrency
//
// Different threads publish concurrently on a worker pool; posts within one
// thread are strictly sequential because each post references the previous
// one's remote id.
package scheduler

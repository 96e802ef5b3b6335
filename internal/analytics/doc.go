// Package analytics collects delayed performance metrics for published
// threads at fixed offsets after publish completion (short/mid/long-term).
//
// Pending collections are durable: each one is a (due_at, thread, label) task
// row in storage. In-process timers are an optimization; a recovery sweep on
// start plus a periodic cron sweep re-arm anything a restart or a missed
// timer left behind. Samples are upserts keyed (remote id, offset label), so
// a duplicate fire is harmless.
//
// Per-post fetch failures are logged and skipped; they never fail the thread.
package analytics

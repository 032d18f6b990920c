// Package notifier delivers rendered lifecycle summaries.
//
// Callers address a Notice to a logical Destination: a named channel
// ("moderation", "events") resolved through configured routes, or a direct
// message to a subject. The Service queues notices and delivers them from a
// small worker pool with rate limiting, retry with jittered backoff and
// short-window dedup.
//
// Delivery is best-effort. Notify only fails when a notice cannot be queued
// or routed; send failures after that are logged and published on the event
// bus, never returned to the lifecycle operation that produced the notice.
package notifier

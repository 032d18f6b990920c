// Package sweeper drives the periodic reconciliation passes.
//
// Each task runs on its own "@every" cron entry. A failing or panicking run
// is logged and the task simply runs again on its next tick; overlapping
// runs of one task are skipped. Tick runs a single pass synchronously, which
// is what tests and the one-shot CLI use.
package sweeper

// Package events is the event scheduler: cooldown gating, proposal and
// confirmation, cancellation and the completion sweep.
//
// Rows live under events/<id> with time-ordered push ids. Per-subject
// totals live at user_events/<subject>/total_events. Like the reprimand
// ledger, every call re-reads the store and no lock guards the
// read-modify-write sequences; a cancellation racing the completion sweep
// resolves last-writer-wins.
package events

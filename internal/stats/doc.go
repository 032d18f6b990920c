// Package stats keeps staff activity totals imported from game-server
// reports: minutes online and reports handled, per static id.
//
// Totals live under user_stats/<static_id> together with an append-only
// history of imports. The staff roster under admins/<static_id> ties a
// static id to a chat account; Link and Summary resolve through it.
// Imports are read-modify-write per report line with no locking, like the
// reprimand ledger.
package stats

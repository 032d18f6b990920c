// Package reprimand is the reprimand ledger: issuance with ORAL to STRICT
// escalation, removal, listing and the expiry sweep.
//
// Each subject's reprimands live under reprimands/<subject>/reprimands as a
// dense 0..N-1 sequence. Every operation re-reads the set, mutates it in
// memory and writes the whole set back. There is no locking: two callers
// racing on one subject resolve last-writer-wins and the next sweep repairs
// anything left behind.
package reprimand

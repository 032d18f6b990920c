// Package recordstore is the path-addressed record store the lifecycle
// engine reads and writes through.
//
// The store is a JSON tree addressed by slash-separated paths
// ("events/<key>/active"). It offers per-call atomicity only: Get, Set,
// Update and Delete each commit as one backend transaction, but there are no
// multi-path transactions and no locks spanning calls. Read-modify-write
// sequences built on top of it are therefore not atomic, and callers must
// tolerate last-writer-wins interleavings.
//
// Backends persist the tree as flat leaves (one row or key per scalar), so
// any subtree is a prefix scan:
//   - memory: process-local map (tests, dry runs)
//   - sqlite: modernc.org/sqlite file
//   - badger: embedded badger/v4 directory
//   - postgres: pgx/v5 connection pool
package recordstore

package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidPath = errors.New("recordstore: invalid path")
	ErrClosed      = errors.New("recordstore: closed")
)

// Store is the client API consumed by the lifecycle engine.
type Store interface {
	// Get decodes the subtree at path into out. It reports false when nothing is stored there.
	Get(ctx context.Context, path string, out any) (bool, error)
	// Set replaces the subtree at path. A nil or empty value deletes it.
	Set(ctx context.Context, path string, v any) error
	// Update replaces only the named children of path.
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// Push returns a new, time-ordered child path under parent without writing anything.
	Push(ctx context.Context, parent string) (string, error)
}

// Leaf is one stored scalar. Value holds its JSON encoding.
type Leaf struct {
	Path  string
	Value json.RawMessage
}

// Batch is applied by a backend in a single transaction:
// every leaf at or under Prune paths is removed, leaves exactly at Drop paths
// are removed, then Put leaves are upserted.
type Batch struct {
	Prune []string
	Drop  []string
	Put   []Leaf
}

// Backend persists leaves.
type Backend interface {
	// Scan returns the leaves at or under prefix ordered by path. An empty prefix scans everything.
	Scan(ctx context.Context, prefix string) ([]Leaf, error)
	Apply(ctx context.Context, b Batch) error
	Close() error
}

// Config selects and configures a backend.
//
// Driver values:
//   - "memory" (default when empty)
//   - "sqlite": Path is the database file
//   - "badger": Path is the data directory; empty means in-memory
//   - "postgres": DSN is a pgx connection string
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means default
}

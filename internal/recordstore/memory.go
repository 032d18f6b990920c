package recordstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryBackend keeps leaves in a map. Each Apply runs under one lock.
type memoryBackend struct {
	mu     sync.RWMutex
	leaves map[string][]byte
	closed bool
}

// NewMemory returns an empty in-process backend.
func NewMemory() Backend {
	return &memoryBackend{leaves: map[string][]byte{}}
}

func underPrefix(path, prefix string) bool {
	return prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/")
}

func (m *memoryBackend) Scan(ctx context.Context, prefix string) ([]Leaf, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []Leaf
	for p, v := range m.leaves {
		if underPrefix(p, prefix) {
			out = append(out, Leaf{Path: p, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memoryBackend) Apply(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, pre := range b.Prune {
		for p := range m.leaves {
			if underPrefix(p, pre) {
				delete(m.leaves, p)
			}
		}
	}
	for _, p := range b.Drop {
		delete(m.leaves, p)
	}
	for _, l := range b.Put {
		m.leaves[l.Path] = append([]byte(nil), l.Value...)
	}
	return nil
}

func (m *memoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

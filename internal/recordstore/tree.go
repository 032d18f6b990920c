package recordstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Join builds a path from segments.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// cleanPath trims outer slashes and validates every segment.
func cleanPath(p string) (string, error) {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if err := checkSegment(seg); err != nil {
			return "", err
		}
	}
	return p, nil
}

func checkSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}
	if strings.ContainsAny(seg, ".#$[]/") {
		return fmt.Errorf("%w: segment %q has reserved characters", ErrInvalidPath, seg)
	}
	return nil
}

// ancestors lists every proper ancestor of p, shortest first.
func ancestors(p string) []string {
	var out []string
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[:i])
		}
	}
	return out
}

// normalize converts v into plain JSON values (maps, slices, json.Number, ...).
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// flatten appends the scalar leaves of v rooted at base. Arrays are stored
// as objects keyed by their indices; null and empty containers produce nothing.
func flatten(base string, v any, out []Leaf) ([]Leaf, error) {
	switch x := v.(type) {
	case nil:
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var err error
		for _, k := range keys {
			if err := checkSegment(k); err != nil {
				return nil, err
			}
			if out, err = flatten(base+"/"+k, x[k], out); err != nil {
				return nil, err
			}
		}
		return out, nil
	case []any:
		var err error
		for i, child := range x {
			if out, err = flatten(base+"/"+strconv.Itoa(i), child, out); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return append(out, Leaf{Path: base, Value: b}), nil
	}
}

// build assembles the JSON subtree at prefix from its leaves.
// When a scalar and deeper leaves collide, the deeper leaves win.
func build(prefix string, leaves []Leaf) (json.RawMessage, bool, error) {
	if len(leaves) == 0 {
		return nil, false, nil
	}
	sorted := append([]Leaf(nil), leaves...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var root any
	for _, l := range sorted {
		var rel string
		switch {
		case l.Path == prefix:
		case prefix == "":
			rel = l.Path
		case strings.HasPrefix(l.Path, prefix+"/"):
			rel = l.Path[len(prefix)+1:]
		default:
			continue
		}
		if rel == "" {
			if _, isMap := root.(map[string]any); !isMap {
				root = json.RawMessage(l.Value)
			}
			continue
		}
		m, ok := root.(map[string]any)
		if !ok {
			m = map[string]any{}
			root = m
		}
		segs := strings.Split(rel, "/")
		for _, s := range segs[:len(segs)-1] {
			child, ok := m[s].(map[string]any)
			if !ok {
				child = map[string]any{}
				m[s] = child
			}
			m = child
		}
		last := segs[len(segs)-1]
		if _, isMap := m[last].(map[string]any); !isMap {
			m[last] = json.RawMessage(l.Value)
		}
	}
	if root == nil {
		return nil, false, nil
	}
	b, err := json.Marshal(densify(root))
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// densify turns objects keyed exactly 0..N-1 back into arrays, the way
// hierarchical stores usually hand lists back. Readers must still accept
// both shapes: a single missing index keeps the object form.
func densify(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = densify(child)
	}
	arr := make([]any, len(m))
	for k, child := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(m) || strconv.Itoa(i) != k {
			return m
		}
		arr[i] = child
	}
	return arr
}

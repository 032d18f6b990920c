package recordstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Entry is one child of a decoded collection.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// Entries normalizes a collection that may come back either as a JSON array
// or as an object into one ordered sequence. Object keys that are decimal
// integers sort numerically and come first; other keys follow in lexical
// order. Null children (array holes) are skipped.
func Entries(raw json.RawMessage) ([]Entry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, fmt.Errorf("recordstore: decode list: %w", err)
		}
		out := make([]Entry, 0, len(arr))
		for i, v := range arr {
			if isNull(v) {
				continue
			}
			out = append(out, Entry{Key: strconv.Itoa(i), Value: v})
		}
		return out, nil
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("recordstore: decode map: %w", err)
		}
		out := make([]Entry, 0, len(m))
		for k, v := range m {
			if isNull(v) {
				continue
			}
			out = append(out, Entry{Key: k, Value: v})
		}
		sort.Slice(out, func(i, j int) bool { return keyLess(out[i].Key, out[j].Key) })
		return out, nil
	default:
		return nil, fmt.Errorf("recordstore: expected list or map, got %.20s", raw)
	}
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func keyLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return a < b
	}
}

// Dense re-keys values as "0".."N-1" preserving order.
func Dense[T any](values []T) map[string]T {
	out := make(map[string]T, len(values))
	for i, v := range values {
		out[strconv.Itoa(i)] = v
	}
	return out
}

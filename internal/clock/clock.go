// Package clock is the single time source of the lifecycle engine.
//
// All comparisons use Clock.Now() in one fixed zone. Machine-compared
// timestamps are persisted with Format (RFC 3339 with nanoseconds);
// Display is for rendered summaries only and is never parsed back except
// by ParseLegacy.
package clock

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultZone matches the community the bot serves.
const DefaultZone = "Europe/Moscow"

// DisplayLayout renders "HH:MM DD:MM:YYYY".
const DisplayLayout = "15:04 02:01:2006"

type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Zone returns a wall clock pinned to loc.
func Zone(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return zoneClock{loc: loc}
}

// Load resolves an IANA zone name (empty means DefaultZone).
func Load(name string) (Clock, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("clock: load zone %q: %w", name, err)
	}
	return Zone(loc), nil
}

type zoneClock struct{ loc *time.Location }

func (c zoneClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c zoneClock) Location() *time.Location { return c.loc }

// Format serializes t for storage.
func Format(t time.Time) string { return t.Format(time.RFC3339Nano) }

// Parse reads a stored timestamp and moves it into loc.
func Parse(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("clock: empty timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock: parse %q: %w", s, err)
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t, nil
}

// ParseLegacy accepts RFC 3339 and the display layout records written by
// older bot versions carry (optionally suffixed with "Z", which never meant UTC there).
func ParseLegacy(s string, loc *time.Location) (time.Time, error) {
	if t, err := Parse(s, loc); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	raw := strings.TrimSuffix(strings.TrimSpace(s), "Z")
	t, err := time.ParseInLocation(DisplayLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock: unrecognized timestamp %q", s)
	}
	return t, nil
}

// Display renders t in the human layout.
func Display(t time.Time) string { return t.Format(DisplayLayout) }

// Fake is a manually driven clock for tests and one-shot tooling.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake { return &Fake{now: now} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Location() *time.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Location()
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"modbot/internal/clock"
	"modbot/internal/recordstore"
)

const tablePath = "events"

func rowPath(id string) string { return recordstore.Join(tablePath, id) }

func counterNode(subject string) string { return recordstore.Join("user_events", subject) }

// row is the stored event. Timestamp is the scheduled time as older bot
// versions wrote it; it is read when scheduled_at is absent.
type row struct {
	Name         string          `json:"name"`
	Time         string          `json:"time,omitempty"`
	ScheduledAt  string          `json:"scheduled_at,omitempty"`
	CreatedAt    string          `json:"created_at,omitempty"`
	CompletedAt  string          `json:"completed_at,omitempty"`
	CreatorID    json.RawMessage `json:"creator_id,omitempty"`
	Participants json.RawMessage `json:"participants,omitempty"`
	Active       bool            `json:"active"`

	Timestamp string `json:"timestamp,omitempty"`
}

func (r row) scheduled(loc *time.Location) (time.Time, error) {
	if r.ScheduledAt != "" {
		return clock.Parse(r.ScheduledAt, loc)
	}
	return clock.Parse(r.Timestamp, loc)
}

// completed reports the completion time, if any parses.
func (r row) completed(loc *time.Location) (time.Time, bool) {
	if r.CompletedAt == "" {
		return time.Time{}, false
	}
	t, err := clock.Parse(r.CompletedAt, loc)
	return t, err == nil
}

func (r row) view(id string, loc *time.Location) (Event, error) {
	ev := Event{ID: id, Name: r.Name, Time: r.Time, Active: r.Active}
	var err error
	if ev.CreatorID, err = idString(r.CreatorID); err != nil {
		return Event{}, fmt.Errorf("event %s creator: %w", id, err)
	}
	if ev.Participants, err = decodeIDs(r.Participants); err != nil {
		return Event{}, fmt.Errorf("event %s participants: %w", id, err)
	}
	ev.ScheduledAt, _ = r.scheduled(loc)
	if r.CreatedAt != "" {
		ev.CreatedAt, _ = clock.Parse(r.CreatedAt, loc)
	}
	ev.CompletedAt, _ = r.completed(loc)
	return ev, nil
}

// idString accepts ids stored as JSON strings or numbers.
func idString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// decodeIDs reads a participant collection in list or index-keyed form.
func decodeIDs(raw json.RawMessage) ([]string, error) {
	entries, err := recordstore.Entries(raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		id, err := idString(e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func encodeIDs(ids []string) map[string]string { return recordstore.Dense(ids) }

func mustJSON(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// decodeCount tolerates counters written as numbers or numeric strings.
func decodeCount(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 != nil {
			return 0, err
		}
		n = json.Number(s)
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

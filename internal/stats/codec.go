package stats

import (
	"encoding/json"
	"fmt"
	"time"

	"modbot/internal/clock"
	"modbot/internal/recordstore"
)

const (
	statsRoot  = "user_stats"
	rosterRoot = "admins"
)

func statsPath(staticID string) string  { return recordstore.Join(statsRoot, staticID) }
func rosterPath(staticID string) string { return recordstore.Join(rosterRoot, staticID) }

// record is the stored shape of user_stats/<static_id>. LastUpdated and
// history dates written by older bot versions use the display layout.
type record struct {
	Name         string          `json:"name,omitempty"`
	TotalMinutes int64           `json:"total_minutes"`
	TotalReports int64           `json:"total_reports"`
	LastUpdated  string          `json:"last_updated,omitempty"`
	DiscordID    json.RawMessage `json:"discord_id,omitempty"`
	History      json.RawMessage `json:"history,omitempty"`
}

type historyEntry struct {
	Date    string `json:"date"`
	Minutes int64  `json:"added_minutes"`
	Reports int64  `json:"added_reports"`
}

// staff is one roster entry. Only the fields stats needs are decoded.
type staff struct {
	StaticID json.RawMessage `json:"static_id"`
	UserID   json.RawMessage `json:"user_id"`
	Nickname string          `json:"nickname,omitempty"`
}

func decodeHistory(raw json.RawMessage) ([]historyEntry, error) {
	entries, err := recordstore.Entries(raw)
	if err != nil {
		return nil, err
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		var h historyEntry
		if err := json.Unmarshal(e.Value, &h); err != nil {
			return nil, fmt.Errorf("history %s: %w", e.Key, err)
		}
		out = append(out, h)
	}
	return out, nil
}

func (h historyEntry) view(loc *time.Location) (Entry, bool) {
	at, err := clock.ParseLegacy(h.Date, loc)
	if err != nil {
		return Entry{Minutes: h.Minutes, Reports: h.Reports}, false
	}
	return Entry{At: at, Minutes: h.Minutes, Reports: h.Reports}, true
}

// idString accepts ids stored as JSON strings or numbers.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

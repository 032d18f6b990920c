package reprimand

import (
	"encoding/json"
	"fmt"
	"time"

	"modbot/internal/clock"
	"modbot/internal/recordstore"
)

// record is the stored shape of one reprimand.
//
// Date and ExpirationDate are the field names older bot versions wrote
// (display layout). They are read for expiry and carried through rewrites
// untouched; new entries never set them.
type record struct {
	Reason    string `json:"reason"`
	IssuedAt  string `json:"issued_at,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Active    bool   `json:"active"`
	IssuerID  string `json:"issuer_id"`
	Type      Kind   `json:"type"`

	Date           string `json:"date,omitempty"`
	ExpirationDate string `json:"expiration_date,omitempty"`
}

func setPath(subject string) string {
	return recordstore.Join("reprimands", subject, "reprimands")
}

const rootPath = "reprimands"

func newRecord(k Kind, reason, issuer string, now time.Time, ttl time.Duration) record {
	return record{
		Reason:    reason,
		IssuedAt:  clock.Format(now),
		ExpiresAt: clock.Format(now.Add(ttl)),
		Active:    true,
		IssuerID:  issuer,
		Type:      k,
	}
}

// decodeSet normalizes a stored set (list or index-keyed map) into order.
func decodeSet(raw json.RawMessage) ([]record, error) {
	entries, err := recordstore.Entries(raw)
	if err != nil {
		return nil, err
	}
	out := make([]record, 0, len(entries))
	for _, e := range entries {
		var r record
		if err := json.Unmarshal(e.Value, &r); err != nil {
			return nil, fmt.Errorf("reprimand %s: %w", e.Key, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (r record) expiry(loc *time.Location) (time.Time, error) {
	if r.ExpiresAt != "" {
		return clock.Parse(r.ExpiresAt, loc)
	}
	return clock.ParseLegacy(r.ExpirationDate, loc)
}

func (r record) view(idx int, loc *time.Location) Reprimand {
	out := Reprimand{
		Index:    idx,
		Kind:     r.Type,
		Reason:   r.Reason,
		IssuerID: r.IssuerID,
		Active:   r.Active,
	}
	if r.IssuedAt != "" {
		out.IssuedAt, _ = clock.Parse(r.IssuedAt, loc)
	} else if r.Date != "" {
		out.IssuedAt, _ = clock.ParseLegacy(r.Date, loc)
	}
	out.ExpiresAt, _ = r.expiry(loc)
	return out
}

func countActive(set []record) (oral, strict int) {
	for _, r := range set {
		if !r.Active {
			continue
		}
		switch r.Type {
		case KindOral:
			oral++
		case KindStrict:
			strict++
		}
	}
	return oral, strict
}

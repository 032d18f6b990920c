package reprimand

import (
	"strings"
	"time"

	"modbot/internal/errs"
)

type Kind string

const (
	KindOral   Kind = "oral"
	KindStrict Kind = "strict"
)

// ParseKind accepts "oral" and "strict" in any case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindOral:
		return KindOral, nil
	case KindStrict:
		return KindStrict, nil
	default:
		return "", errs.E("reprimand.ParseKind", errs.ErrValidation, "unknown reprimand kind %q (want oral or strict)", s)
	}
}

func (k Kind) Valid() bool { return k == KindOral || k == KindStrict }

// Reprimand is one entry of a subject's set. Index is its position in the set.
type Reprimand struct {
	Index     int
	Kind      Kind
	Reason    string
	IssuerID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Active    bool
}

// Config holds the ledger's fixed rules.
type Config struct {
	OralTTL          time.Duration
	StrictTTL        time.Duration
	EscalateAfter    int
	EscalationReason string
	// LogChannel is the notifier channel destination for the moderation log.
	LogChannel string
}

func DefaultConfig() Config {
	return Config{
		OralTTL:          7 * 24 * time.Hour,
		StrictTTL:        14 * 24 * time.Hour,
		EscalateAfter:    3,
		EscalationReason: "Accumulated 3 oral reprimands",
		LogChannel:       "moderation",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OralTTL <= 0 {
		c.OralTTL = d.OralTTL
	}
	if c.StrictTTL <= 0 {
		c.StrictTTL = d.StrictTTL
	}
	if c.EscalateAfter <= 0 {
		c.EscalateAfter = d.EscalateAfter
	}
	if strings.TrimSpace(c.EscalationReason) == "" {
		c.EscalationReason = d.EscalationReason
	}
	if strings.TrimSpace(c.LogChannel) == "" {
		c.LogChannel = d.LogChannel
	}
	return c
}

func (c Config) ttl(k Kind) time.Duration {
	if k == KindStrict {
		return c.StrictTTL
	}
	return c.OralTTL
}

// IssueResult describes a completed issuance.
type IssueResult struct {
	Subject string
	// Issued.Index is -1 when escalation consumed the new entry.
	Issued    Reprimand
	Escalated bool
	// Strict is the synthesized strict reprimand when Escalated is set.
	Strict       *Reprimand
	ActiveOral   int
	ActiveStrict int
}

type RemoveResult struct {
	Subject string
	Removed Reprimand
}

// SweepReport summarizes one expiry sweep.
type SweepReport struct {
	Subjects int
	Updated  int
	Expired  int
	Inactive int
	Failed   int
}

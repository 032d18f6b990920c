package events

import (
	"fmt"
	"time"

	"modbot/internal/errs"
)

type StatusKind int

const (
	Clear StatusKind = iota
	// Ongoing: an active event has started and not been swept yet.
	Ongoing
	// Pending: an active event is scheduled in the future.
	Pending
	// Cooldown: the last completion is too recent.
	Cooldown
)

func (k StatusKind) String() string {
	switch k {
	case Clear:
		return "clear"
	case Ongoing:
		return "ongoing"
	case Pending:
		return "pending"
	case Cooldown:
		return "cooldown"
	}
	return fmt.Sprintf("status(%d)", int(k))
}

// Status is the answer of CanSchedule. EventID is set for Ongoing and
// Pending; Until is set for Pending and Cooldown.
type Status struct {
	Kind    StatusKind
	EventID string
	Until   time.Time
}

func (s Status) IsClear() bool { return s.Kind == Clear }

// BlockedError is returned by Propose when scheduling is not clear.
// It matches errs.ErrBlocked.
type BlockedError struct {
	Status Status
}

func (e *BlockedError) Error() string {
	switch e.Status.Kind {
	case Ongoing:
		return fmt.Sprintf("event %s is in progress", e.Status.EventID)
	case Pending:
		return fmt.Sprintf("an event is already scheduled; next slot after %s", e.Status.Until.Format("15:04"))
	case Cooldown:
		return fmt.Sprintf("cooldown until %s", e.Status.Until.Format("15:04"))
	}
	return errs.ErrBlocked.Error()
}

func (e *BlockedError) Is(target error) bool { return target == errs.ErrBlocked }

// Event is the read view of one row.
type Event struct {
	ID           string
	Name         string
	Time         string
	ScheduledAt  time.Time
	CreatedAt    time.Time
	CompletedAt  time.Time
	CreatorID    string
	Participants []string
	Active       bool
}

func (e Event) Completed() bool { return !e.CompletedAt.IsZero() }

// Members returns the creator followed by the participants.
func (e Event) Members() []string {
	return append([]string{e.CreatorID}, e.Participants...)
}

// Proposal is a validated request waiting for a time choice.
type Proposal struct {
	Name         string
	CreatorID    string
	Participants []string
	ProposedAt   time.Time
}

type ConfirmResult struct {
	Event        Event
	CreatorTotal int64
}

type CancelResult struct {
	Event   Event
	ActorID string
}

type CompletionReport struct {
	Scanned   int
	Completed int
	Failed    int
}

type Config struct {
	Cooldown        time.Duration
	CancelWindow    time.Duration
	MaxParticipants int
	// Channel is the notifier channel destination for event announcements.
	Channel string
}

func DefaultConfig() Config {
	return Config{
		Cooldown:        50 * time.Minute,
		CancelWindow:    24 * time.Hour,
		MaxParticipants: 3,
		Channel:         "events",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.CancelWindow <= 0 {
		c.CancelWindow = d.CancelWindow
	}
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = d.MaxParticipants
	}
	if c.Channel == "" {
		c.Channel = d.Channel
	}
	return c
}

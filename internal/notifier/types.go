package notifier

import (
	"context"
	"time"

	kit "modbot/internal/transport"
)

type DestKind string

const (
	DestChannel DestKind = "channel"
	DestDirect  DestKind = "direct"
)

// Destination is a logical address resolved to a chat target at delivery time.
type Destination struct {
	Kind DestKind
	ID   string
}

func Channel(name string) Destination   { return Destination{Kind: DestChannel, ID: name} }
func Direct(subject string) Destination { return Destination{Kind: DestDirect, ID: subject} }

func (d Destination) String() string { return string(d.Kind) + ":" + d.ID }

// Notice is one rendered summary.
type Notice struct {
	To       Destination
	Priority int // 0 low .. 10 high
	Text     string
}

// Notifier is what lifecycle components depend on.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Nop drops every notice.
type Nop struct{}

func (Nop) Notify(context.Context, Notice) error { return nil }

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int

	// Routes maps channel destination names to chat targets.
	Routes map[string]kit.ChatTarget
}

type HistoryItem struct {
	At   time.Time
	To   string
	Text string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	To    string    `json:"to"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

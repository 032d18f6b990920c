// Package eventbus is an in-memory fanout of lifecycle signals.
//
// Publish never blocks. Subscribers get buffered channels and slow ones drop
// events.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Topics published by the engine.
const (
	ReprimandIssued    = "reprimand.issued"
	ReprimandEscalated = "reprimand.escalated"
	ReprimandRemoved   = "reprimand.removed"
	ReprimandsSwept    = "reprimand.swept"
	EventCreated       = "event.created"
	EventCancelled     = "event.cancelled"
	EventsCompleted    = "event.completed"
	StatsImported      = "stats.imported"
	StatsLinked        = "stats.linked"
	StaffEnrolled      = "stats.enrolled"
	NotifierQueued     = "notifier.queued"
	NotifierDeduped    = "notifier.deduped"
	NotifierDropped    = "notifier.dropped"
	NotifierSent       = "notifier.sent"
	NotifierFailed     = "notifier.failed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Family returns the part of the topic before the first dot.
func (e Event) Family() string {
	if i := strings.IndexByte(e.Type, '.'); i >= 0 {
		return e.Type[:i]
	}
	return e.Type
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, topic string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: topic, Time: time.Now(), Data: data})
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch under us.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

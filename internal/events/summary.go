package events

import (
	"fmt"
	"strings"
	"time"

	"modbot/internal/clock"
)

func renderCreated(r ConfirmResult) string {
	var b strings.Builder
	b.WriteString("New event\n")
	fmt.Fprintf(&b, "Name: %s\n", r.Event.Name)
	fmt.Fprintf(&b, "Starts: %s\n", r.Event.Time)
	fmt.Fprintf(&b, "Participants: %s\n", strings.Join(r.Event.Participants, ", "))
	fmt.Fprintf(&b, "Creator total events: %d\n", r.CreatorTotal)
	fmt.Fprintf(&b, "Created by %s | %s", r.Event.CreatorID, clock.Display(r.Event.CreatedAt))
	return b.String()
}

func renderCancelled(r CancelResult, now time.Time) string {
	var b strings.Builder
	b.WriteString("Event cancelled\n")
	fmt.Fprintf(&b, "Name: %s\n", r.Event.Name)
	fmt.Fprintf(&b, "Starts: %s\n", r.Event.Time)
	fmt.Fprintf(&b, "Participants: %s\n", strings.Join(r.Event.Participants, ", "))
	fmt.Fprintf(&b, "Cancelled by %s | %s", r.ActorID, clock.Display(now))
	return b.String()
}

// RenderStatus is the operator-facing line for a CanSchedule result.
func RenderStatus(st Status, now time.Time) string {
	switch st.Kind {
	case Ongoing:
		return fmt.Sprintf("Event %s is in progress; no new event until it completes.", st.EventID)
	case Pending:
		return fmt.Sprintf("Event %s is scheduled; next event possible in %s.", st.EventID, remaining(st.Until.Sub(now)))
	case Cooldown:
		return fmt.Sprintf("Cooldown after the last event; next event possible in %s.", remaining(st.Until.Sub(now)))
	}
	return "Clear: a new event can be scheduled."
}

func remaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	return fmt.Sprintf("%d min %d sec", int(d.Minutes()), int(d.Seconds())%60)
}

package reprimand

import (
	"fmt"
	"strings"

	"modbot/internal/clock"
)

func (k Kind) Title() string {
	switch k {
	case KindOral:
		return "Oral"
	case KindStrict:
		return "Strict"
	}
	return string(k)
}

func renderIssued(r IssueResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s reprimand issued\n", r.Issued.Kind.Title())
	fmt.Fprintf(&b, "Subject: %s\n", r.Subject)
	fmt.Fprintf(&b, "Issuer: %s\n", r.Issued.IssuerID)
	fmt.Fprintf(&b, "Reason: %s\n", r.Issued.Reason)
	fmt.Fprintf(&b, "Expires: %s\n", clock.Display(r.Issued.ExpiresAt))
	fmt.Fprintf(&b, "Active: oral %d, strict %d", r.ActiveOral, r.ActiveStrict)
	return b.String()
}

func renderIssuedDirect(r IssueResult) string {
	return fmt.Sprintf("You received a %s reprimand for: %s. Expires: %s",
		strings.ToLower(r.Issued.Kind.Title()), r.Issued.Reason, clock.Display(r.Issued.ExpiresAt))
}

func renderEscalated(subject string, n int) string {
	return fmt.Sprintf("%s accumulated %d oral reprimands. They were replaced with one strict reprimand.", subject, n)
}

func renderRemoved(r RemoveResult) string {
	return fmt.Sprintf("%s reprimand removed\nSubject: %s\nReason was: %s",
		r.Removed.Kind.Title(), r.Subject, r.Removed.Reason)
}

func renderRemovedDirect(r RemoveResult) string {
	return fmt.Sprintf("Your %s reprimand was removed.", strings.ToLower(r.Removed.Kind.Title()))
}

// RenderList formats active reprimands the way the status card shows them.
func RenderList(subject string, list []Reprimand) string {
	if len(list) == 0 {
		return fmt.Sprintf("%s has no active reprimands.", subject)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Active reprimands of %s:\n", subject)
	for i, r := range list {
		fmt.Fprintf(&b, "%d. %s: %s (until %s)\n", i+1, r.Kind.Title(), r.Reason, clock.Display(r.ExpiresAt))
	}
	fmt.Fprintf(&b, "Total active: %d", len(list))
	return b.String()
}

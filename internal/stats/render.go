package stats

import (
	"fmt"
	"strconv"
	"strings"

	"modbot/internal/clock"
)

// FormatMinutes renders minutes as "Hh Mm".
func FormatMinutes(m int64) string {
	return strconv.FormatInt(m/60, 10) + "h " + strconv.FormatInt(m%60, 10) + "m"
}

func renderImported(r ImportResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Activity stats imported by %s\n", r.Importer)
	fmt.Fprintf(&b, "Updated: %d\n", len(r.Updated))
	fmt.Fprintf(&b, "IDs: %s", strings.Join(r.Updated, ", "))
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, "\nSkipped lines: %d", len(r.Skipped))
	}
	return b.String()
}

// RenderSummary formats the stats card.
func RenderSummary(s Summary) string {
	var b strings.Builder
	title := s.Name
	if title == "" {
		title = "#" + s.StaticID
	}
	fmt.Fprintf(&b, "Activity of %s\n", title)
	fmt.Fprintf(&b, "Total: %s, %d reports\n", FormatMinutes(s.TotalMinutes), s.TotalReports)
	fmt.Fprintf(&b, "Since %s: %s, %d reports", clock.Display(s.Since), FormatMinutes(s.RecentMinutes), s.RecentReports)
	if s.Last != nil {
		fmt.Fprintf(&b, "\nLast import: %s (+%s, +%d reports)", clock.Display(s.Last.At), FormatMinutes(s.Last.Minutes), s.Last.Reports)
	}
	return b.String()
}

package stats

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// a report line starts at a latin name followed by "|"
	lineStart = regexp.MustCompile(`\b[A-Za-z]+\s*\|`)
	staticRe  = regexp.MustCompile(`#(\d+)`)
	// "12 ч. 30 м." as the game server prints it; "12h 30m" is accepted too
	durationRe = regexp.MustCompile(`^(\d+)\s*(?:ч|h)\.?\s*(\d+)\s*(?:м|m)\.?`)
)

// SplitReport cuts a pasted report into candidate lines. Lines may be
// separated by newlines or run together on one line.
func SplitReport(text string) []string {
	var out []string
	for _, chunk := range strings.Split(text, "\n") {
		starts := lineStart.FindAllStringIndex(chunk, -1)
		prev := 0
		for _, loc := range starts {
			if loc[0] > prev {
				out = appendLine(out, chunk[prev:loc[0]])
			}
			prev = loc[0]
		}
		out = appendLine(out, chunk[prev:])
	}
	return out
}

func appendLine(out []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		out = append(out, s)
	}
	return out
}

// ParseLine reads "Name | #static | H ч. M м. | reports". An unreadable
// duration counts as zero minutes and a non-numeric report count as zero.
func ParseLine(line string) (Line, bool) {
	parts := strings.Split(line, "|")
	if len(parts) != 4 {
		return Line{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	m := staticRe.FindStringSubmatch(parts[1])
	if m == nil {
		return Line{}, false
	}
	reports, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || reports < 0 {
		reports = 0
	}
	return Line{Name: parts[0], StaticID: m[1], Minutes: ParseMinutes(parts[2]), Reports: reports}, true
}

// ParseMinutes converts "H ч. M м." to minutes, or 0 if it does not match.
func ParseMinutes(s string) int64 {
	m := durationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	h, _ := strconv.ParseInt(m[1], 10, 64)
	mins, _ := strconv.ParseInt(m[2], 10, 64)
	return h*60 + mins
}

package stats

import (
	"strings"
	"time"
)

// Line is one parsed report line.
type Line struct {
	Name     string
	StaticID string
	Minutes  int64
	Reports  int64
}

// Entry is one applied import in a subject's history.
type Entry struct {
	At      time.Time
	Minutes int64
	Reports int64
}

// Summary is the stats card for one staff member.
type Summary struct {
	StaticID     string
	DiscordID    string
	Name         string
	TotalMinutes int64
	TotalReports int64
	// Recent* cover history entries at or after Since.
	Since         time.Time
	RecentMinutes int64
	RecentReports int64
	Last          *Entry
}

type ImportResult struct {
	Importer string
	Updated  []string
	// Skipped holds the raw lines that did not parse.
	Skipped []string
}

type Config struct {
	// Window is how far back Summary looks when no since is given.
	Window time.Duration
	// Channel is the notifier channel for import announcements.
	Channel string
}

func DefaultConfig() Config {
	return Config{Window: 7 * 24 * time.Hour, Channel: "stats"}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if strings.TrimSpace(c.Channel) == "" {
		c.Channel = d.Channel
	}
	return c
}

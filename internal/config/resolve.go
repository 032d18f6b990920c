package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"modbot/internal/clock"
)

// Runtime is Config with every duration parsed and defaults applied.
type Runtime struct {
	Timezone string

	StoreBusyTimeout time.Duration

	SweepEnabled    bool
	SweepOnStart    bool
	ReprimandEvery  time.Duration
	EventEvery      time.Duration
	SweepTimeout    time.Duration
	Cooldown        time.Duration
	CancelWindow    time.Duration
	OralTTL         time.Duration
	StrictTTL       time.Duration
	StatsWindow     time.Duration
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	OpsReadTimeout  time.Duration
	OpsWriteTimeout time.Duration
	OpsIdleTimeout  time.Duration
}

var validDrivers = map[string]bool{"": true, "memory": true, "sqlite": true, "badger": true, "postgres": true}

// Resolve parses and checks cfg. Every problem is reported, not just the first.
func (c *Config) Resolve() (Runtime, error) {
	if c == nil {
		return Runtime{}, errors.New("config is nil")
	}
	var (
		rt   Runtime
		errl []error
	)
	dur := func(dst *time.Duration, path, raw string, def time.Duration) {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errl = append(errl, err)
			return
		}
		*dst = d
	}

	rt.Timezone = strings.TrimSpace(c.Clock.Timezone)
	if rt.Timezone == "" {
		rt.Timezone = clock.DefaultZone
	}
	if _, err := time.LoadLocation(rt.Timezone); err != nil {
		errl = append(errl, fmt.Errorf("clock.timezone: %w", err))
	}

	driver := strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if !validDrivers[driver] {
		errl = append(errl, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if driver == "postgres" && strings.TrimSpace(c.Store.DSN) == "" {
		errl = append(errl, errors.New("store.dsn: required for postgres (or set MODBOT_STORE_DSN)"))
	}
	if driver == "sqlite" && strings.TrimSpace(c.Store.Path) == "" {
		errl = append(errl, errors.New("store.path: required for sqlite"))
	}
	dur(&rt.StoreBusyTimeout, "store.busy_timeout", c.Store.BusyTimeout, 5*time.Second)

	rt.SweepEnabled = c.Sweeper.Enabled == nil || *c.Sweeper.Enabled
	rt.SweepOnStart = c.Sweeper.RunOnStart == nil || *c.Sweeper.RunOnStart
	dur(&rt.ReprimandEvery, "sweeper.reprimand_every", c.Sweeper.ReprimandEvery, 3*time.Hour)
	dur(&rt.EventEvery, "sweeper.event_every", c.Sweeper.EventEvery, 60*time.Second)
	dur(&rt.SweepTimeout, "sweeper.timeout", c.Sweeper.Timeout, 0)
	if rt.EventEvery > 0 && rt.EventEvery < time.Second {
		errl = append(errl, errors.New("sweeper.event_every: must be at least 1s"))
	}

	dur(&rt.Cooldown, "events.cooldown", c.Events.Cooldown, 50*time.Minute)
	dur(&rt.CancelWindow, "events.cancel_window", c.Events.CancelWindow, 24*time.Hour)
	if c.Events.MaxParticipants < 0 {
		errl = append(errl, errors.New("events.max_participants: must be >= 0"))
	}

	dur(&rt.OralTTL, "reprimands.oral_ttl", c.Reprimands.OralTTL, 7*24*time.Hour)
	dur(&rt.StrictTTL, "reprimands.strict_ttl", c.Reprimands.StrictTTL, 14*24*time.Hour)
	if c.Reprimands.EscalateAfter < 0 {
		errl = append(errl, errors.New("reprimands.escalate_after: must be >= 0"))
	}

	dur(&rt.StatsWindow, "stats.window", c.Stats.Window, 7*24*time.Hour)

	dur(&rt.RetryBase, "notifier.retry_base", c.Notifier.RetryBase, 500*time.Millisecond)
	dur(&rt.RetryMaxDelay, "notifier.retry_max_delay", c.Notifier.RetryMaxDelay, 10*time.Second)
	dur(&rt.DedupWindow, "notifier.dedup_window", c.Notifier.DedupWindow, 0)
	for name, r := range c.Notifier.Routes {
		if r.ChatID == 0 {
			errl = append(errl, fmt.Errorf("notifier.routes.%s: chat_id is required", name))
		}
	}

	dur(&rt.OpsReadTimeout, "ops.read_timeout", c.Ops.ReadTimeout, 10*time.Second)
	dur(&rt.OpsWriteTimeout, "ops.write_timeout", c.Ops.WriteTimeout, 0)
	dur(&rt.OpsIdleTimeout, "ops.idle_timeout", c.Ops.IdleTimeout, 60*time.Second)
	if c.Ops.Enabled {
		if err := checkOpsBind(c.Ops); err != nil {
			errl = append(errl, err)
		}
	}

	return rt, errors.Join(errl...)
}

func checkOpsBind(o OpsConfig) error {
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("ops.addr: %w", err)
	}
	if IsLoopbackHost(host) || o.AllowInsecure || strings.TrimSpace(o.Token) != "" {
		return nil
	}
	return fmt.Errorf("ops.addr: %s is not loopback; set ops.token or ops.allow_insecure", addr)
}

// IsLoopbackHost reports whether host only accepts local connections.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

package config

import (
	"reflect"
	"sort"
	"strings"

	logx "modbot/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ and safe attrs for
// logging the change. Tokens and DSNs are never included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Clock != newCfg.Clock {
		changed = append(changed, "clock")
		attrs = append(attrs, logx.String("clock.timezone", newCfg.Clock.Timezone))
	}

	if oldCfg.Store != newCfg.Store {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", newCfg.Store.Driver),
			logx.String("store.path", newCfg.Store.Path),
			logx.Bool("store.dsn_set", strings.TrimSpace(newCfg.Store.DSN) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sweeper, newCfg.Sweeper) {
		changed = append(changed, "sweeper")
		attrs = append(attrs,
			logx.String("sweeper.reprimand_every", newCfg.Sweeper.ReprimandEvery),
			logx.String("sweeper.event_every", newCfg.Sweeper.EventEvery),
		)
	}

	if oldCfg.Events != newCfg.Events {
		changed = append(changed, "events")
		attrs = append(attrs,
			logx.String("events.cooldown", newCfg.Events.Cooldown),
			logx.String("events.cancel_window", newCfg.Events.CancelWindow),
			logx.Int("events.max_participants", newCfg.Events.MaxParticipants),
		)
	}

	if oldCfg.Reprimands != newCfg.Reprimands {
		changed = append(changed, "reprimands")
		attrs = append(attrs,
			logx.String("reprimands.oral_ttl", newCfg.Reprimands.OralTTL),
			logx.String("reprimands.strict_ttl", newCfg.Reprimands.StrictTTL),
			logx.Int("reprimands.escalate_after", newCfg.Reprimands.EscalateAfter),
		)
	}

	if oldCfg.Stats != newCfg.Stats {
		changed = append(changed, "stats")
		attrs = append(attrs,
			logx.String("stats.window", newCfg.Stats.Window),
			logx.String("stats.channel", newCfg.Stats.Channel),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Strings("notifier.routes", routeNames(newCfg.Notifier.Routes)),
		)
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.String("telegram.parse_mode", newCfg.Telegram.ParseMode),
		)
	}

	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}

	return changed, attrs
}

func routeNames(m map[string]RouteConfig) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

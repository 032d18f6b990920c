package app

import (
	"strings"

	"modbot/internal/config"
	"modbot/internal/events"
	"modbot/internal/notifier"
	"modbot/internal/observability/ops"
	"modbot/internal/recordstore"
	"modbot/internal/reprimand"
	"modbot/internal/stats"
	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

// The map* helpers translate a resolved config into component configs.
// Zero values are left for the components to default.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStoreConfig(cfg *config.Config, rt config.Runtime) recordstore.Config {
	return recordstore.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Store.Driver)),
		Path:        strings.TrimSpace(cfg.Store.Path),
		DSN:         strings.TrimSpace(cfg.Store.DSN),
		BusyTimeout: rt.StoreBusyTimeout,
		MaxConns:    int32(cfg.Store.MaxConns),
	}
}

func mapReprimandConfig(cfg *config.Config, rt config.Runtime) reprimand.Config {
	return reprimand.Config{
		OralTTL:          rt.OralTTL,
		StrictTTL:        rt.StrictTTL,
		EscalateAfter:    cfg.Reprimands.EscalateAfter,
		EscalationReason: cfg.Reprimands.EscalationReason,
		LogChannel:       cfg.Reprimands.LogChannel,
	}
}

func mapStatsConfig(cfg *config.Config, rt config.Runtime) stats.Config {
	return stats.Config{Window: rt.StatsWindow, Channel: cfg.Stats.Channel}
}

func mapEventsConfig(cfg *config.Config, rt config.Runtime) events.Config {
	return events.Config{
		Cooldown:        rt.Cooldown,
		CancelWindow:    rt.CancelWindow,
		MaxParticipants: cfg.Events.MaxParticipants,
		Channel:         cfg.Events.Channel,
	}
}

func mapNotifierConfig(cfg *config.Config, rt config.Runtime) notifier.Config {
	n := cfg.Notifier
	routes := make(map[string]kit.ChatTarget, len(n.Routes))
	for name, r := range n.Routes {
		routes[strings.TrimSpace(name)] = kit.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID}
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       rt.RetryBase,
		RetryMaxDelay:   rt.RetryMaxDelay,
		DedupWindow:     rt.DedupWindow,
		DedupMaxEntries: n.DedupMaxEntries,
		Routes:          routes,
	}
}

func mapOpsConfig(cfg *config.Config, rt config.Runtime) ops.Config {
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          cfg.Ops.Addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
		ReadTimeout:   rt.OpsReadTimeout,
		WriteTimeout:  rt.OpsWriteTimeout,
		IdleTimeout:   rt.OpsIdleTimeout,
	}
}

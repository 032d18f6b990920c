package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("90s", "50m", "3h") and also accept
// a day suffix ("7d", "14d").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Clock      ClockConfig      `json:"clock"`
	Store      StoreConfig      `json:"store"`
	Sweeper    SweeperConfig    `json:"sweeper"`
	Events     EventsConfig     `json:"events"`
	Reprimands ReprimandsConfig `json:"reprimands"`
	Stats      StatsConfig      `json:"stats"`
	Notifier   NotifierConfig   `json:"notifier"`
	Telegram   TelegramConfig   `json:"telegram"`
	Ops        OpsConfig        `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type ClockConfig struct {
	// Timezone is an IANA name; default Europe/Moscow.
	Timezone string `json:"timezone,omitempty"`
}

// StoreConfig selects the record store backend.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./modbot.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; prefer MODBOT_STORE_DSN
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int    `json:"max_conns,omitempty"`
}

// SweeperConfig controls the background sweeps.
//
// Enabled is a pointer so an omitted block still sweeps.
type SweeperConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	ReprimandEvery string `json:"reprimand_every,omitempty"` // default 3h
	EventEvery     string `json:"event_every,omitempty"`     // default 60s
	RunOnStart     *bool  `json:"run_on_start,omitempty"`    // default true
	Timeout        string `json:"timeout,omitempty"`
}

type EventsConfig struct {
	Cooldown        string `json:"cooldown,omitempty"`      // default 50m
	CancelWindow    string `json:"cancel_window,omitempty"` // default 24h
	MaxParticipants int    `json:"max_participants,omitempty"`
	Channel         string `json:"channel,omitempty"` // default "events"
}

type ReprimandsConfig struct {
	OralTTL          string `json:"oral_ttl,omitempty"`   // default 7d
	StrictTTL        string `json:"strict_ttl,omitempty"` // default 14d
	EscalateAfter    int    `json:"escalate_after,omitempty"`
	EscalationReason string `json:"escalation_reason,omitempty"`
	LogChannel       string `json:"log_channel,omitempty"` // default "moderation"
}

type StatsConfig struct {
	Window  string `json:"window,omitempty"`  // default 7d
	Channel string `json:"channel,omitempty"` // default "stats"
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`

	// Routes maps channel names ("moderation", "events") to chats.
	Routes map[string]RouteConfig `json:"routes"`
}

type RouteConfig struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

type TelegramConfig struct {
	// Token is normally supplied through MODBOT_TELEGRAM_TOKEN. Without a
	// token notices are written to the log instead.
	Token     string `json:"token,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// OpsConfig controls the operational HTTP server (/metrics, /healthz, pprof).
//
// Prefer binding to localhost. A non-loopback bind needs a token or an
// explicit allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:9090
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

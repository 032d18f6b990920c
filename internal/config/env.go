package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are secrets and knobs operators set outside the file.
type envOverrides struct {
	TelegramToken string `env:"MODBOT_TELEGRAM_TOKEN"`
	StoreDSN      string `env:"MODBOT_STORE_DSN"`
	StoreDriver   string `env:"MODBOT_STORE_DRIVER"`
	LogLevel      string `env:"MODBOT_LOG_LEVEL"`
	OpsToken      string `env:"MODBOT_OPS_TOKEN"`
}

// applyEnv overlays non-empty environment values onto cfg. A nil environ
// reads the process environment.
func applyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, o.TelegramToken)
	set(&cfg.Store.DSN, o.StoreDSN)
	set(&cfg.Store.Driver, o.StoreDriver)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Ops.Token, o.OpsToken)
	return nil
}

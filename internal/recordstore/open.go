package recordstore

import (
	"context"
	"errors"
	"strings"

	logx "modbot/pkg/logx"
)

// Open initializes the configured backend and wraps it in a Client.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var (
		b   Backend
		err error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		b = NewMemory()
	case "sqlite", "sqlite3":
		b, err = openSQLite(cfg, log)
	case "badger":
		b, err = openBadger(cfg, log)
	case "postgres", "postgresql", "pgx":
		b, err = openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(b), nil
}

package recordstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "modbot/pkg/logx"
)

// The "C" collation keeps byte ordering, which prefixRange relies on.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS records (
	path  TEXT COLLATE "C" PRIMARY KEY,
	value TEXT NOT NULL
)`

type postgresBackend struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Backend, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create DB pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened", logx.Int("max_conns", int(poolCfg.MaxConns)))
	return &postgresBackend{pool: pool, log: log}, nil
}

func (s *postgresBackend) Scan(ctx context.Context, prefix string) ([]Leaf, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if prefix == "" {
		rows, err = s.pool.Query(ctx, `SELECT path, value FROM records ORDER BY path`)
	} else {
		lo, hi := prefixRange(prefix)
		rows, err = s.pool.Query(ctx,
			`SELECT path, value FROM records WHERE path = $1 OR (path >= $2 AND path < $3) ORDER BY path`,
			prefix, lo, hi)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Leaf
	for rows.Next() {
		var p, v string
		if err := rows.Scan(&p, &v); err != nil {
			return nil, err
		}
		out = append(out, Leaf{Path: p, Value: []byte(v)})
	}
	return out, rows.Err()
}

func (s *postgresBackend) Apply(ctx context.Context, b Batch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, p := range b.Prune {
		lo, hi := prefixRange(p)
		if _, err := tx.Exec(ctx, `DELETE FROM records WHERE path = $1 OR (path >= $2 AND path < $3)`, p, lo, hi); err != nil {
			return err
		}
	}
	for _, p := range b.Drop {
		if _, err := tx.Exec(ctx, `DELETE FROM records WHERE path = $1`, p); err != nil {
			return err
		}
	}
	for _, l := range b.Put {
		if _, err := tx.Exec(ctx, `
			INSERT INTO records (path, value) VALUES ($1, $2)
			ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value
		`, l.Path, string(l.Value)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *postgresBackend) Close() error {
	s.pool.Close()
	return nil
}

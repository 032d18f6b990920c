package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "modbot/pkg/logx"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	path  TEXT PRIMARY KEY,
	value TEXT NOT NULL
) WITHOUT ROWID;
`

type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteBackend{db: db, log: log}, nil
}

// prefixRange returns the half-open key range holding every descendant of prefix.
// '0' is the byte right after '/', so [prefix/, prefix0) covers "prefix/..." only.
func prefixRange(prefix string) (lo, hi string) {
	return prefix + "/", prefix + "0"
}

func (s *sqliteBackend) Scan(ctx context.Context, prefix string) ([]Leaf, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if prefix == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT path, value FROM records ORDER BY path`)
	} else {
		lo, hi := prefixRange(prefix)
		rows, err = s.db.QueryContext(ctx,
			`SELECT path, value FROM records WHERE path = ? OR (path >= ? AND path < ?) ORDER BY path`,
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

func (s *sqliteBackend) Apply(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range b.Prune {
		lo, hi := prefixRange(p)
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE path = ? OR (path >= ? AND path < ?)`, p, lo, hi); err != nil {
			return err
		}
	}
	for _, p := range b.Drop {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, p); err != nil {
			return err
		}
	}
	for _, l := range b.Put {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records(path, value) VALUES(?, ?)
			 ON CONFLICT(path) DO UPDATE SET value = excluded.value`,
			l.Path, string(l.Value)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteBackend) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

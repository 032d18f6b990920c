package recordstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	logx "modbot/pkg/logx"
)

type badgerBackend struct {
	db  *badger.DB
	log logx.Logger

	gcStop chan struct{}
	gcWG   sync.WaitGroup
}

// badgerLogger routes badger's internal logging into logx.
type badgerLogger struct{ log logx.Logger }

func (l badgerLogger) Errorf(f string, a ...any)   { l.log.Error(fmt.Sprintf(f, a...)) }
func (l badgerLogger) Warningf(f string, a ...any) { l.log.Warn(fmt.Sprintf(f, a...)) }
func (l badgerLogger) Infof(f string, a ...any)    { l.log.Debug(fmt.Sprintf(f, a...)) }
func (l badgerLogger) Debugf(f string, a ...any)   { l.log.Trace(fmt.Sprintf(f, a...)) }

func openBadger(cfg Config, log logx.Logger) (Backend, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	// The default INFO logging is a bit verbose
	opts = opts.WithLogger(badgerLogger{log: log}).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	b := &badgerBackend{db: db, log: log}
	if cfg.Path != "" {
		b.gcStop = make(chan struct{})
		b.gcWG.Add(1)
		go b.valueLogGC(5 * time.Minute)
	}
	return b, nil
}

func (b *badgerBackend) valueLogGC(every time.Duration) {
	defer b.gcWG.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			for {
				// Run it again if it just ran successfully
				if err := b.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						b.log.Warn("badger value log GC failed", logx.Err(err))
					}
					break
				}
			}
		case <-b.gcStop:
			return
		}
	}
}

func (b *badgerBackend) Scan(ctx context.Context, prefix string) ([]Leaf, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Leaf
	err := b.db.View(func(txn *badger.Txn) error {
		if prefix != "" {
			item, err := txn.Get([]byte(prefix))
			switch {
			case err == nil:
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				out = append(out, Leaf{Path: prefix, Value: v})
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
		}
		return iteratePrefix(txn, childPrefix(prefix), func(item *badger.Item) error {
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Leaf{Path: string(item.KeyCopy(nil)), Value: v})
			return nil
		})
	})
	return out, err
}

func childPrefix(prefix string) []byte {
	if prefix == "" {
		return nil
	}
	return []byte(prefix + "/")
}

func iteratePrefix(txn *badger.Txn, prefix []byte, fn func(*badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

func (b *badgerBackend) Apply(ctx context.Context, batch Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		var doomed [][]byte
		for _, p := range batch.Prune {
			doomed = append(doomed, []byte(p))
			err := iteratePrefix(txn, childPrefix(p), func(item *badger.Item) error {
				doomed = append(doomed, item.KeyCopy(nil))
				return nil
			})
			if err != nil {
				return err
			}
		}
		for _, p := range batch.Drop {
			doomed = append(doomed, []byte(p))
		}
		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for _, l := range batch.Put {
			if err := txn.Set([]byte(l.Path), []byte(l.Value)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerBackend) Close() error {
	if b.gcStop != nil {
		close(b.gcStop)
		b.gcWG.Wait()
	}
	return b.db.Close()
}

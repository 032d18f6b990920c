package reprimand

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"modbot/internal/errs"
	"modbot/internal/eventbus"
	"modbot/internal/recordstore"
	logx "modbot/pkg/logx"
)

// ExpirySweep deletes, across all subjects, every inactive entry and every
// active entry whose expiry is at or before now. Sets are only rewritten when
// something changed, so a second run at the same instant writes nothing.
//
// A failure on one subject does not stop the others; all failures are
// joined into the returned error.
func (l *Ledger) ExpirySweep(ctx context.Context) (SweepReport, error) {
	const op = "reprimand.sweep"
	var raw json.RawMessage
	ok, err := l.store.Get(ctx, rootPath, &raw)
	if err != nil {
		return SweepReport{}, errs.Store(op, err)
	}
	if !ok {
		return SweepReport{}, nil
	}
	subjects, err := recordstore.Entries(raw)
	if err != nil {
		return SweepReport{}, errs.Store(op, err)
	}

	now := l.clock.Now()
	loc := l.clock.Location()
	var (
		rep  SweepReport
		errl []error
	)
	for _, s := range subjects {
		if err := ctx.Err(); err != nil {
			errl = append(errl, err)
			break
		}
		rep.Subjects++
		var node struct {
			Reprimands json.RawMessage `json:"reprimands"`
		}
		if err := json.Unmarshal(s.Value, &node); err != nil {
			rep.Failed++
			errl = append(errl, fmt.Errorf("subject %s: %w", s.Key, err))
			continue
		}
		set, err := decodeSet(node.Reprimands)
		if err != nil {
			rep.Failed++
			errl = append(errl, fmt.Errorf("subject %s: %w", s.Key, err))
			continue
		}

		kept := set[:0:0]
		var expired, inactive int
		for i, r := range set {
			if !r.Active {
				inactive++
				continue
			}
			exp, err := r.expiry(loc)
			if err != nil {
				l.log.Warn("unreadable expiry kept", logx.String("subject", s.Key), logx.Int("index", i), logx.Err(err))
				kept = append(kept, r)
				continue
			}
			if !exp.After(now) {
				expired++
				continue
			}
			kept = append(kept, r)
		}
		if expired+inactive == 0 {
			continue
		}
		if err := l.save(ctx, op, s.Key, kept); err != nil {
			rep.Failed++
			errl = append(errl, fmt.Errorf("subject %s: %w", s.Key, err))
			continue
		}
		rep.Updated++
		rep.Expired += expired
		rep.Inactive += inactive
	}

	l.m.ReprimandsExpired(rep.Expired + rep.Inactive)
	if rep.Updated > 0 {
		l.log.Info("reprimand sweep",
			logx.Int("subjects", rep.Subjects),
			logx.Int("updated", rep.Updated),
			logx.Int("expired", rep.Expired),
			logx.Int("inactive", rep.Inactive))
		eventbus.Publish(l.bus, eventbus.ReprimandsSwept, rep)
	}
	if len(errl) > 0 {
		return rep, errs.Wrap(op, errs.ErrStore, errors.Join(errl...))
	}
	return rep, nil
}

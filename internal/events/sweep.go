package events

import (
	"context"
	"errors"
	"fmt"

	"modbot/internal/clock"
	"modbot/internal/errs"
	"modbot/internal/eventbus"
	logx "modbot/pkg/logx"
)

// CompletionSweep marks every active event whose start is at or before now
// as completed. Already completed rows are not touched, so repeated runs
// converge.
func (s *Scheduler) CompletionSweep(ctx context.Context) (CompletionReport, error) {
	const op = "events.sweep"
	rows, err := s.table(ctx, op)
	if err != nil {
		return CompletionReport{}, err
	}
	now := s.clock.Now()
	loc := s.clock.Location()

	var (
		rep  CompletionReport
		errl []error
		done []string
	)
	for _, kr := range rows {
		rep.Scanned++
		if !kr.r.Active {
			continue
		}
		at, err := kr.r.scheduled(loc)
		if err != nil {
			s.log.Warn("event has no readable start", logx.String("event", kr.id), logx.Err(err))
			continue
		}
		if at.After(now) {
			continue
		}
		err = s.store.Update(ctx, rowPath(kr.id), map[string]any{
			"active":       false,
			"completed_at": clock.Format(now),
		})
		if err != nil {
			rep.Failed++
			errl = append(errl, fmt.Errorf("event %s: %w", kr.id, err))
			continue
		}
		rep.Completed++
		done = append(done, kr.id)
		s.log.Info("event completed", logx.String("event", kr.id), logx.String("name", kr.r.Name))
	}

	s.m.EventsCompleted(rep.Completed)
	if len(done) > 0 {
		eventbus.Publish(s.bus, eventbus.EventsCompleted, done)
	}
	if len(errl) > 0 {
		return rep, errs.Wrap(op, errs.ErrStore, errors.Join(errl...))
	}
	return rep, nil
}

package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"modbot/internal/clock"
	"modbot/internal/errs"
	"modbot/internal/eventbus"
	"modbot/internal/metrics"
	"modbot/internal/notifier"
	"modbot/internal/recordstore"
	logx "modbot/pkg/logx"
)

type Scheduler struct {
	store  recordstore.Store
	clock  clock.Clock
	cfg    Config
	notify notifier.Notifier
	log    logx.Logger
	m      *metrics.Lifecycle
	bus    eventbus.Bus
}

type Option func(*Scheduler)

func WithConfig(cfg Config) Option            { return func(s *Scheduler) { s.cfg = cfg } }
func WithNotifier(n notifier.Notifier) Option { return func(s *Scheduler) { s.notify = n } }
func WithLogger(log logx.Logger) Option       { return func(s *Scheduler) { s.log = log } }
func WithMetrics(m *metrics.Lifecycle) Option { return func(s *Scheduler) { s.m = m } }
func WithBus(b eventbus.Bus) Option           { return func(s *Scheduler) { s.bus = b } }

func New(store recordstore.Store, clk clock.Clock, opts ...Option) *Scheduler {
	s := &Scheduler{store: store, clock: clk, cfg: DefaultConfig()}
	for _, o := range opts {
		o(s)
	}
	s.cfg = s.cfg.withDefaults()
	if s.notify == nil {
		s.notify = notifier.Nop{}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "events"))
	return s
}

func (s *Scheduler) Config() Config { return s.cfg }

type keyedRow struct {
	id string
	r  row
}

// table reads every row in push-key order. Rows that do not decode are
// skipped with a warning.
func (s *Scheduler) table(ctx context.Context, op string) ([]keyedRow, error) {
	var raw json.RawMessage
	ok, err := s.store.Get(ctx, tablePath, &raw)
	if err != nil {
		return nil, errs.Store(op, err)
	}
	if !ok {
		return nil, nil
	}
	entries, err := recordstore.Entries(raw)
	if err != nil {
		return nil, errs.Store(op, err)
	}
	out := make([]keyedRow, 0, len(entries))
	for _, e := range entries {
		var r row
		if err := json.Unmarshal(e.Value, &r); err != nil {
			s.log.Warn("skipping undecodable event row", logx.String("event", e.Key), logx.Err(err))
			continue
		}
		out = append(out, keyedRow{id: e.Key, r: r})
	}
	return out, nil
}

// CanSchedule reports whether a new event may be created now. Checks run in
// order: an ongoing event, a pending event (blocked until its start plus the
// cooldown), then the cooldown after the most recent completion.
func (s *Scheduler) CanSchedule(ctx context.Context) (Status, error) {
	rows, err := s.table(ctx, "events.can_schedule")
	if err != nil {
		return Status{}, err
	}
	return s.status(rows, s.clock.Now()), nil
}

func (s *Scheduler) status(rows []keyedRow, now time.Time) Status {
	loc := s.clock.Location()

	var pending Status
	for _, kr := range rows {
		if !kr.r.Active {
			continue
		}
		at, err := kr.r.scheduled(loc)
		if err != nil {
			s.log.Warn("event has no readable start", logx.String("event", kr.id), logx.Err(err))
			continue
		}
		if !at.After(now) {
			return Status{Kind: Ongoing, EventID: kr.id}
		}
		until := at.Add(s.cfg.Cooldown)
		if pending.Kind != Pending || until.After(pending.Until) {
			pending = Status{Kind: Pending, EventID: kr.id, Until: until}
		}
	}
	if pending.Kind == Pending {
		return pending
	}

	var last time.Time
	for _, kr := range rows {
		if t, ok := kr.r.completed(loc); ok && t.After(last) {
			last = t
		}
	}
	if !last.IsZero() {
		if until := last.Add(s.cfg.Cooldown); now.Before(until) {
			return Status{Kind: Cooldown, Until: until}
		}
	}
	return Status{Kind: Clear}
}

func (s *Scheduler) validate(op, name, creator string, participants []string) (string, []string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, errs.E(op, errs.ErrValidation, "event name is required")
	}
	if err := checkID(op, creator); err != nil {
		return "", nil, err
	}
	seen := make(map[string]bool, len(participants))
	uniq := make([]string, 0, len(participants))
	for _, p := range participants {
		if err := checkID(op, p); err != nil {
			return "", nil, err
		}
		if p == creator {
			return "", nil, errs.E(op, errs.ErrValidation, "creator cannot be a participant")
		}
		if !seen[p] {
			seen[p] = true
			uniq = append(uniq, p)
		}
	}
	if len(uniq) < 1 || len(uniq) > s.cfg.MaxParticipants {
		return "", nil, errs.E(op, errs.ErrValidation, "need 1 to %d participants, got %d", s.cfg.MaxParticipants, len(uniq))
	}
	return name, uniq, nil
}

func checkID(op, id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/.#$[]") {
		return errs.E(op, errs.ErrValidation, "invalid id %q", id)
	}
	return nil
}

// Propose validates an event request. The time is chosen afterwards by the
// caller and passed to Confirm. Duplicate participants are collapsed.
func (s *Scheduler) Propose(ctx context.Context, name, creator string, participants []string) (Proposal, error) {
	const op = "events.propose"
	name, uniq, err := s.validate(op, name, creator, participants)
	if err != nil {
		return Proposal{}, err
	}
	st, err := s.CanSchedule(ctx)
	if err != nil {
		return Proposal{}, err
	}
	if !st.IsClear() {
		return Proposal{}, &BlockedError{Status: st}
	}
	return Proposal{Name: name, CreatorID: creator, Participants: uniq, ProposedAt: s.clock.Now()}, nil
}

// Confirm creates the event at chosen. A chosen time equal to now is
// accepted. Counters are incremented before the row is written and rolled
// back if that write fails.
func (s *Scheduler) Confirm(ctx context.Context, name, creator string, participants []string, chosen time.Time) (ConfirmResult, error) {
	const op = "events.confirm"
	name, uniq, err := s.validate(op, name, creator, participants)
	if err != nil {
		return ConfirmResult{}, err
	}
	now := s.clock.Now()
	if chosen.Before(now) {
		return ConfirmResult{}, errs.E(op, errs.ErrPastTime, "%s is before %s", clock.Display(chosen), clock.Display(now))
	}

	members := append([]string{creator}, uniq...)
	totals, moved, err := s.adjustAll(ctx, op, members, +1)
	if err != nil {
		return ConfirmResult{}, err
	}
	creatorTotal := totals[creator]

	path, err := s.store.Push(ctx, tablePath)
	if err != nil {
		s.revert(ctx, op, moved, -1)
		return ConfirmResult{}, errs.Store(op, err)
	}
	loc := s.clock.Location()
	chosen = chosen.In(loc)
	r := row{
		Name:        name,
		Time:        chosen.Format("15:04"),
		ScheduledAt: clock.Format(chosen),
		CreatedAt:   clock.Format(now),
		CreatorID:   mustJSON(creator),
		Active:      true,
	}
	b, _ := json.Marshal(encodeIDs(uniq))
	r.Participants = b
	if err := s.store.Set(ctx, path, r); err != nil {
		s.revert(ctx, op, moved, -1)
		return ConfirmResult{}, errs.Store(op, err)
	}
	id := path[strings.LastIndexByte(path, '/')+1:]

	ev, _ := r.view(id, loc)
	res := ConfirmResult{Event: ev, CreatorTotal: creatorTotal}
	s.m.EventCreated()
	s.log.Info("event created",
		logx.String("event", id),
		logx.String("name", name),
		logx.String("creator", creator),
		logx.Strings("participants", uniq),
		logx.Time("scheduled_at", chosen))
	eventbus.Publish(s.bus, eventbus.EventCreated, ev)
	s.deliver(ctx, notifier.Notice{To: notifier.Channel(s.cfg.Channel), Priority: 5, Text: renderCreated(res)})
	return res, nil
}

// adjust moves subject's event total by delta, never below zero, and
// returns the new value along with whether the stored value changed.
func (s *Scheduler) adjust(ctx context.Context, op, subject string, delta int64) (int64, bool, error) {
	n, err := s.count(ctx, op, subject)
	if err != nil {
		return 0, false, err
	}
	next := n + delta
	if next < 0 {
		next = 0
	}
	if next == n {
		return n, false, nil
	}
	if err := s.store.Update(ctx, counterNode(subject), map[string]any{"total_events": next}); err != nil {
		return 0, false, errs.Store(op, err)
	}
	return next, true, nil
}

// adjustAll applies delta to every member in order and returns the new
// totals plus the members whose stored value actually moved. A failure puts
// the moved members back before returning.
func (s *Scheduler) adjustAll(ctx context.Context, op string, members []string, delta int64) (map[string]int64, []string, error) {
	totals := make(map[string]int64, len(members))
	moved := make([]string, 0, len(members))
	for _, id := range members {
		n, changed, err := s.adjust(ctx, op, id, delta)
		if err != nil {
			s.revert(ctx, op, moved, -delta)
			return nil, nil, err
		}
		totals[id] = n
		if changed {
			moved = append(moved, id)
		}
	}
	return totals, moved, nil
}

// revert undoes counter moves after a failed row write. Failures here are
// logged; the original error is what the caller reports.
func (s *Scheduler) revert(ctx context.Context, op string, moved []string, delta int64) {
	for _, id := range moved {
		if _, _, err := s.adjust(ctx, op, id, delta); err != nil {
			s.log.Error("counter rollback failed",
				logx.String("op", op),
				logx.String("subject", id),
				logx.Int64("delta", delta),
				logx.Err(err))
		}
	}
}

func (s *Scheduler) count(ctx context.Context, op, subject string) (int64, error) {
	var raw json.RawMessage
	if _, err := s.store.Get(ctx, recordstore.Join("user_events", subject, "total_events"), &raw); err != nil {
		return 0, errs.Store(op, err)
	}
	n, err := decodeCount(raw)
	if err != nil {
		return 0, errs.Store(op, err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Count returns subject's event total.
func (s *Scheduler) Count(ctx context.Context, subject string) (int64, error) {
	const op = "events.count"
	if err := checkID(op, subject); err != nil {
		return 0, err
	}
	return s.count(ctx, op, subject)
}

// Get returns one event row.
func (s *Scheduler) Get(ctx context.Context, id string) (Event, error) {
	const op = "events.get"
	r, err := s.load(ctx, op, id)
	if err != nil {
		return Event{}, err
	}
	ev, err := r.view(id, s.clock.Location())
	if err != nil {
		return Event{}, errs.Store(op, err)
	}
	return ev, nil
}

func (s *Scheduler) load(ctx context.Context, op, id string) (row, error) {
	if err := checkID(op, id); err != nil {
		return row{}, err
	}
	var r row
	ok, err := s.store.Get(ctx, rowPath(id), &r)
	if err != nil {
		return row{}, errs.Store(op, err)
	}
	if !ok {
		return row{}, errs.E(op, errs.ErrNotFound, "event %s does not exist", id)
	}
	return r, nil
}

// Cancel deletes an active event. Checks run in order: existence, terminal
// state, the cancel window since the row was created, then authorization
// (creator, participant or privileged). A row without a readable creation
// time is treated as outside the window.
func (s *Scheduler) Cancel(ctx context.Context, id, actor string, privileged bool) (CancelResult, error) {
	const op = "events.cancel"
	r, err := s.load(ctx, op, id)
	if err != nil {
		return CancelResult{}, err
	}
	loc := s.clock.Location()
	ev, err := r.view(id, loc)
	if err != nil {
		return CancelResult{}, errs.Store(op, err)
	}
	if !ev.Active {
		return CancelResult{}, errs.E(op, errs.ErrAlreadyTerminal, "event %s is no longer active", id)
	}
	now := s.clock.Now()
	if ev.CreatedAt.IsZero() || now.Sub(ev.CreatedAt) > s.cfg.CancelWindow {
		return CancelResult{}, errs.E(op, errs.ErrWindowExpired, "event %s can no longer be cancelled", id)
	}
	if !privileged && !isMember(ev, actor) {
		return CancelResult{}, errs.E(op, errs.ErrForbidden, "%s may not cancel event %s", actor, id)
	}

	_, moved, err := s.adjustAll(ctx, op, ev.Members(), -1)
	if err != nil {
		return CancelResult{}, err
	}
	if err := s.store.Delete(ctx, rowPath(id)); err != nil {
		s.revert(ctx, op, moved, +1)
		return CancelResult{}, errs.Store(op, err)
	}

	res := CancelResult{Event: ev, ActorID: actor}
	s.m.EventCancelled()
	s.log.Info("event cancelled", logx.String("event", id), logx.String("actor", actor), logx.Bool("privileged", privileged))
	eventbus.Publish(s.bus, eventbus.EventCancelled, res)
	s.deliver(ctx, notifier.Notice{To: notifier.Channel(s.cfg.Channel), Priority: 5, Text: renderCancelled(res, now)})
	return res, nil
}

func isMember(ev Event, actor string) bool {
	for _, m := range ev.Members() {
		if m == actor {
			return true
		}
	}
	return false
}

func (s *Scheduler) deliver(ctx context.Context, n notifier.Notice) {
	if err := s.notify.Notify(ctx, n); err != nil {
		s.log.Warn("notice not delivered", logx.String("to", n.To.String()), logx.Err(err))
	}
}

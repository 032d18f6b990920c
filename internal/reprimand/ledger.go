package reprimand

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

type Ledger struct {
	store  recordstore.Store
	clock  clock.Clock
	cfg    Config
	notify notifier.Notifier
	log    logx.Logger
	m      *metrics.Lifecycle
	bus    eventbus.Bus
}

type Option func(*Ledger)

func WithConfig(cfg Config) Option            { return func(l *Ledger) { l.cfg = cfg } }
func WithNotifier(n notifier.Notifier) Option { return func(l *Ledger) { l.notify = n } }
func WithLogger(log logx.Logger) Option       { return func(l *Ledger) { l.log = log } }
func WithMetrics(m *metrics.Lifecycle) Option { return func(l *Ledger) { l.m = m } }
func WithBus(b eventbus.Bus) Option           { return func(l *Ledger) { l.bus = b } }

func New(store recordstore.Store, clk clock.Clock, opts ...Option) *Ledger {
	l := &Ledger{store: store, clock: clk, cfg: DefaultConfig()}
	for _, o := range opts {
		o(l)
	}
	l.cfg = l.cfg.withDefaults()
	if l.notify == nil {
		l.notify = notifier.Nop{}
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	l.log = l.log.With(logx.String("comp", "reprimand"))
	return l
}

func (l *Ledger) Config() Config { return l.cfg }

func (l *Ledger) load(ctx context.Context, op, subject string) ([]record, error) {
	var raw json.RawMessage
	ok, err := l.store.Get(ctx, setPath(subject), &raw)
	if err != nil {
		return nil, errs.Store(op, err)
	}
	if !ok {
		return nil, nil
	}
	set, err := decodeSet(raw)
	if err != nil {
		return nil, errs.Store(op, err)
	}
	return set, nil
}

// save writes set back with dense keys. An empty set removes the subject's node.
func (l *Ledger) save(ctx context.Context, op, subject string, set []record) error {
	if len(set) == 0 {
		return errs.Store(op, l.store.Delete(ctx, setPath(subject)))
	}
	return errs.Store(op, l.store.Set(ctx, setPath(subject), recordstore.Dense(set)))
}

func checkSubject(op, subject string) error {
	s := strings.TrimSpace(subject)
	if s == "" || strings.ContainsAny(s, "/.#$[]") {
		return errs.E(op, errs.ErrValidation, "invalid subject %q", subject)
	}
	return nil
}

// Issue appends a new reprimand for subject. Issuing an ORAL reprimand that
// brings the subject to EscalateAfter active ORAL entries replaces the oldest
// of them with one STRICT reprimand.
func (l *Ledger) Issue(ctx context.Context, subject string, kind Kind, reason, issuer string) (IssueResult, error) {
	const op = "reprimand.issue"
	if err := checkSubject(op, subject); err != nil {
		return IssueResult{}, err
	}
	if !kind.Valid() {
		return IssueResult{}, errs.E(op, errs.ErrValidation, "invalid kind %q", kind)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return IssueResult{}, errs.E(op, errs.ErrValidation, "reason is required")
	}

	set, err := l.load(ctx, op, subject)
	if err != nil {
		return IssueResult{}, err
	}

	now := l.clock.Now()
	issued := newRecord(kind, reason, issuer, now, l.cfg.ttl(kind))
	set = append(set, issued)
	issuedAt := len(set) - 1

	res := IssueResult{Subject: subject}
	if kind == KindOral {
		if oral, _ := countActive(set); oral >= l.cfg.EscalateAfter {
			set = l.escalate(set, issuer, now)
			res.Escalated = true
		}
	}

	if err := l.save(ctx, op, subject, set); err != nil {
		return IssueResult{}, err
	}

	loc := l.clock.Location()
	if res.Escalated {
		// the issued entry was consumed; the strict replacement is last
		last := len(set) - 1
		strict := set[last].view(last, loc)
		res.Strict = &strict
		res.Issued = issued.view(-1, loc)
	} else {
		res.Issued = set[issuedAt].view(issuedAt, loc)
	}
	res.ActiveOral, res.ActiveStrict = countActive(set)

	l.m.ReprimandIssued(string(kind))
	l.log.Info("reprimand issued",
		logx.String("subject", subject),
		logx.String("kind", string(kind)),
		logx.String("issuer", issuer),
		logx.Bool("escalated", res.Escalated))
	eventbus.Publish(l.bus, eventbus.ReprimandIssued, res)

	l.deliver(ctx, notifier.Notice{To: notifier.Direct(subject), Priority: 5, Text: renderIssuedDirect(res)})
	l.deliver(ctx, notifier.Notice{To: notifier.Channel(l.cfg.LogChannel), Priority: 5, Text: renderIssued(res)})
	if res.Escalated {
		l.m.ReprimandEscalated()
		eventbus.Publish(l.bus, eventbus.ReprimandEscalated, res)
		l.deliver(ctx, notifier.Notice{To: notifier.Channel(l.cfg.LogChannel), Priority: 7, Text: renderEscalated(subject, l.cfg.EscalateAfter)})
	}
	return res, nil
}

// escalate drops the first EscalateAfter active ORAL entries by index and
// appends one STRICT entry.
func (l *Ledger) escalate(set []record, issuer string, now time.Time) []record {
	out := make([]record, 0, len(set)-l.cfg.EscalateAfter+1)
	dropped := 0
	for _, r := range set {
		if dropped < l.cfg.EscalateAfter && r.Active && r.Type == KindOral {
			dropped++
			continue
		}
		out = append(out, r)
	}
	return append(out, newRecord(KindStrict, l.cfg.EscalationReason, issuer, now, l.cfg.StrictTTL))
}

// Remove deletes one active reprimand of subject.
//
// With kind empty the earliest active ORAL entry is chosen, falling back to
// the latest active entry of any kind. With kind set the latest active entry
// of that kind is chosen.
func (l *Ledger) Remove(ctx context.Context, subject string, kind Kind) (RemoveResult, error) {
	const op = "reprimand.remove"
	if err := checkSubject(op, subject); err != nil {
		return RemoveResult{}, err
	}
	if kind != "" && !kind.Valid() {
		return RemoveResult{}, errs.E(op, errs.ErrValidation, "invalid kind %q", kind)
	}

	set, err := l.load(ctx, op, subject)
	if err != nil {
		return RemoveResult{}, err
	}
	idx := selectForRemoval(set, kind)
	if idx < 0 {
		if kind == "" {
			return RemoveResult{}, errs.E(op, errs.ErrNotFound, "subject %s has no active reprimands", subject)
		}
		return RemoveResult{}, errs.E(op, errs.ErrNotFound, "subject %s has no active %s reprimands", subject, kind)
	}

	removed := set[idx].view(idx, l.clock.Location())
	set = append(set[:idx:idx], set[idx+1:]...)
	if err := l.save(ctx, op, subject, set); err != nil {
		return RemoveResult{}, err
	}

	res := RemoveResult{Subject: subject, Removed: removed}
	l.m.ReprimandRemoved()
	l.log.Info("reprimand removed",
		logx.String("subject", subject),
		logx.String("kind", string(removed.Kind)),
		logx.Int("index", idx))
	eventbus.Publish(l.bus, eventbus.ReprimandRemoved, res)

	l.deliver(ctx, notifier.Notice{To: notifier.Direct(subject), Priority: 3, Text: renderRemovedDirect(res)})
	l.deliver(ctx, notifier.Notice{To: notifier.Channel(l.cfg.LogChannel), Priority: 3, Text: renderRemoved(res)})
	return res, nil
}

func selectForRemoval(set []record, kind Kind) int {
	if kind == "" {
		for i, r := range set {
			if r.Active && r.Type == KindOral {
				return i
			}
		}
	}
	for i := len(set) - 1; i >= 0; i-- {
		if set[i].Active && (kind == "" || set[i].Type == kind) {
			return i
		}
	}
	return -1
}

// ListActive returns subject's active reprimands in index order.
func (l *Ledger) ListActive(ctx context.Context, subject string) ([]Reprimand, error) {
	const op = "reprimand.list"
	if err := checkSubject(op, subject); err != nil {
		return nil, err
	}
	set, err := l.load(ctx, op, subject)
	if err != nil {
		return nil, err
	}
	loc := l.clock.Location()
	out := make([]Reprimand, 0, len(set))
	for i, r := range set {
		if r.Active {
			out = append(out, r.view(i, loc))
		}
	}
	return out, nil
}

func (l *Ledger) deliver(ctx context.Context, n notifier.Notice) {
	if err := l.notify.Notify(ctx, n); err != nil {
		l.log.Warn("notice not delivered", logx.String("to", n.To.String()), logx.Err(err))
	}
}

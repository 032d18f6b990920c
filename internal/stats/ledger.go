package stats

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
	l.log = l.log.With(logx.String("comp", "stats"))
	return l
}

func (l *Ledger) Config() Config { return l.cfg }

func checkID(op, id string) error {
	s := strings.TrimSpace(id)
	if s == "" || strings.ContainsAny(s, "/.#$[]") {
		return errs.E(op, errs.ErrValidation, "invalid id %q", id)
	}
	return nil
}

func (l *Ledger) load(ctx context.Context, op, staticID string) (record, bool, error) {
	var r record
	ok, err := l.store.Get(ctx, statsPath(staticID), &r)
	if err != nil {
		return record{}, false, errs.Store(op, err)
	}
	return r, ok, nil
}

// Enroll puts a staff member on the roster, keyed by static id. Fields
// already stored on the entry are left alone.
func (l *Ledger) Enroll(ctx context.Context, staticID, discordID, nickname string) error {
	const op = "stats.enroll"
	if err := checkID(op, staticID); err != nil {
		return err
	}
	if err := checkID(op, discordID); err != nil {
		return err
	}
	fields := map[string]any{
		"static_id":  staticID,
		"user_id":    discordID,
		"date_added": clock.Format(l.clock.Now()),
	}
	if n := strings.TrimSpace(nickname); n != "" {
		fields["nickname"] = n
	}
	if err := l.store.Update(ctx, rosterPath(staticID), fields); err != nil {
		return errs.Store(op, err)
	}
	l.log.Info("staff enrolled", logx.String("static_id", staticID), logx.String("discord_id", discordID))
	eventbus.Publish(l.bus, eventbus.StaffEnrolled, staticID)
	return nil
}

// Import applies every parseable line of a pasted report. Each line adds
// its minutes and reports to the static id's totals and appends one
// history entry; a static id listed twice is applied twice. Lines that do
// not parse are returned in Skipped. A store failure stops the import and
// the result holds what was applied before it.
func (l *Ledger) Import(ctx context.Context, text, importer string) (ImportResult, error) {
	const op = "stats.import"
	if strings.TrimSpace(text) == "" {
		return ImportResult{}, errs.E(op, errs.ErrValidation, "report text is required")
	}
	res := ImportResult{Importer: importer}
	for _, raw := range SplitReport(text) {
		line, ok := ParseLine(raw)
		if !ok {
			l.log.Warn("skipping unreadable stats line", logx.String("line", raw))
			res.Skipped = append(res.Skipped, raw)
			continue
		}
		if err := l.apply(ctx, op, line); err != nil {
			l.m.StatsImported(len(res.Updated), len(res.Skipped))
			return res, err
		}
		res.Updated = append(res.Updated, line.StaticID)
	}

	l.m.StatsImported(len(res.Updated), len(res.Skipped))
	l.log.Info("stats imported",
		logx.String("importer", importer),
		logx.Strings("updated", res.Updated),
		logx.Int("skipped", len(res.Skipped)))
	if len(res.Updated) > 0 {
		eventbus.Publish(l.bus, eventbus.StatsImported, res)
		if err := l.notify.Notify(ctx, notifier.Notice{To: notifier.Channel(l.cfg.Channel), Priority: 3, Text: renderImported(res)}); err != nil {
			l.log.Warn("notice not delivered", logx.String("to", l.cfg.Channel), logx.Err(err))
		}
	}
	return res, nil
}

func (l *Ledger) apply(ctx context.Context, op string, line Line) error {
	r, _, err := l.load(ctx, op, line.StaticID)
	if err != nil {
		return err
	}
	hist, err := decodeHistory(r.History)
	if err != nil {
		return errs.Store(op, err)
	}
	now := clock.Format(l.clock.Now())
	hist = append(hist, historyEntry{Date: now, Minutes: line.Minutes, Reports: line.Reports})
	b, err := json.Marshal(recordstore.Dense(hist))
	if err != nil {
		return errs.Store(op, err)
	}

	r.Name = line.Name
	r.TotalMinutes += line.Minutes
	r.TotalReports += line.Reports
	r.LastUpdated = now
	r.History = b
	if err := l.store.Set(ctx, statsPath(line.StaticID), r); err != nil {
		return errs.Store(op, err)
	}
	return nil
}

// Link stamps discordID on the static id's stats. The roster must already
// pair the two; anything else is ErrForbidden.
func (l *Ledger) Link(ctx context.Context, staticID, discordID string) error {
	const op = "stats.link"
	if err := checkID(op, staticID); err != nil {
		return err
	}
	if err := checkID(op, discordID); err != nil {
		return err
	}
	var s staff
	ok, err := l.store.Get(ctx, rosterPath(staticID), &s)
	if err != nil {
		return errs.Store(op, err)
	}
	if !ok || idString(s.UserID) != discordID || idString(s.StaticID) != staticID {
		return errs.E(op, errs.ErrForbidden, "static id %s does not belong to %s", staticID, discordID)
	}
	if err := l.store.Update(ctx, statsPath(staticID), map[string]any{"discord_id": discordID}); err != nil {
		return errs.Store(op, err)
	}
	l.log.Info("stats linked", logx.String("static_id", staticID), logx.String("discord_id", discordID))
	eventbus.Publish(l.bus, eventbus.StatsLinked, staticID)
	return nil
}

// StaticID resolves discordID to a static id through the roster.
func (l *Ledger) StaticID(ctx context.Context, discordID string) (string, error) {
	const op = "stats.static_id"
	if err := checkID(op, discordID); err != nil {
		return "", err
	}
	return l.resolve(ctx, op, discordID)
}

func (l *Ledger) resolve(ctx context.Context, op, discordID string) (string, error) {
	var raw json.RawMessage
	ok, err := l.store.Get(ctx, rosterRoot, &raw)
	if err != nil {
		return "", errs.Store(op, err)
	}
	if ok {
		entries, err := recordstore.Entries(raw)
		if err != nil {
			return "", errs.Store(op, err)
		}
		for _, e := range entries {
			var s staff
			if err := json.Unmarshal(e.Value, &s); err != nil {
				l.log.Warn("skipping undecodable roster entry", logx.String("key", e.Key), logx.Err(err))
				continue
			}
			if idString(s.UserID) != discordID {
				continue
			}
			if id := idString(s.StaticID); id != "" {
				return id, nil
			}
		}
	}
	return "", errs.E(op, errs.ErrNotFound, "%s has no static id on the roster", discordID)
}

// Summary returns the totals of subject (a chat account id) plus the sums
// of history entries at or after since. A zero since means now minus the
// configured window.
func (l *Ledger) Summary(ctx context.Context, subject string, since time.Time) (Summary, error) {
	const op = "stats.summary"
	if err := checkID(op, subject); err != nil {
		return Summary{}, err
	}
	staticID, err := l.resolve(ctx, op, subject)
	if err != nil {
		return Summary{}, err
	}
	r, ok, err := l.load(ctx, op, staticID)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		return Summary{}, errs.E(op, errs.ErrNotFound, "no stats for static id %s", staticID)
	}
	hist, err := decodeHistory(r.History)
	if err != nil {
		return Summary{}, errs.Store(op, err)
	}

	loc := l.clock.Location()
	if since.IsZero() {
		since = l.clock.Now().Add(-l.cfg.Window)
	}
	out := Summary{
		StaticID:     staticID,
		DiscordID:    idString(r.DiscordID),
		Name:         r.Name,
		TotalMinutes: r.TotalMinutes,
		TotalReports: r.TotalReports,
		Since:        since.In(loc),
	}
	for _, h := range hist {
		e, ok := h.view(loc)
		if !ok {
			l.log.Warn("history entry has no readable date", logx.String("static_id", staticID), logx.String("date", h.Date))
			continue
		}
		if !e.At.Before(since) {
			out.RecentMinutes += e.Minutes
			out.RecentReports += e.Reports
		}
	}
	if n := len(hist); n > 0 {
		last, _ := hist[n-1].view(loc)
		out.Last = &last
	}
	return out, nil
}

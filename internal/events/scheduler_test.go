package events

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"modbot/internal/clock"
	"modbot/internal/errs"
	"modbot/internal/notifier"
	"modbot/internal/recordstore"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))

type recorder struct {
	mu  sync.Mutex
	got []notifier.Notice
}

func (r *recorder) Notify(_ context.Context, n notifier.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func newScheduler(t *testing.T) (*Scheduler, *recordstore.Client, *clock.Fake, *recorder) {
	t.Helper()
	st := recordstore.NewClient(recordstore.NewMemory())
	clk := clock.NewFake(t0)
	rec := &recorder{}
	return New(st, clk, WithNotifier(rec)), st, clk, rec
}

func putRow(t *testing.T, st *recordstore.Client, id string, r row) {
	t.Helper()
	if err := st.Set(context.Background(), rowPath(id), r); err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
}

func activeAt(at time.Time) row {
	return row{Name: "raid", ScheduledAt: clock.Format(at), CreatedAt: clock.Format(t0.Add(-time.Hour)), CreatorID: mustJSON("c"), Active: true}
}

func doneAt(at, completed time.Time) row {
	r := activeAt(at)
	r.Active = false
	r.CompletedAt = clock.Format(completed)
	return r
}

func TestCanSchedule(t *testing.T) {
	cases := []struct {
		name  string
		rows  map[string]row
		want  StatusKind
		id    string
		until time.Time
	}{
		{name: "empty", want: Clear},
		{
			name: "ongoing",
			rows: map[string]row{"a": activeAt(t0.Add(-time.Minute))},
			want: Ongoing, id: "a",
		},
		{
			name: "ongoing at exact start",
			rows: map[string]row{"a": activeAt(t0)},
			want: Ongoing, id: "a",
		},
		{
			name: "pending",
			rows: map[string]row{"p": activeAt(t0.Add(time.Hour))},
			want: Pending, id: "p", until: t0.Add(time.Hour + 50*time.Minute),
		},
		{
			name: "ongoing beats pending",
			rows: map[string]row{"a": activeAt(t0.Add(time.Hour)), "b": activeAt(t0.Add(-time.Second))},
			want: Ongoing, id: "b",
		},
		{
			name: "cooldown from latest completion",
			rows: map[string]row{
				"old": doneAt(t0.Add(-5*time.Hour), t0.Add(-5*time.Hour)),
				"new": doneAt(t0.Add(-20*time.Minute), t0.Add(-20*time.Minute)),
			},
			want: Cooldown, until: t0.Add(30 * time.Minute),
		},
		{
			name: "cooldown elapsed exactly",
			rows: map[string]row{"x": doneAt(t0.Add(-50*time.Minute), t0.Add(-50*time.Minute))},
			want: Clear,
		},
		{
			name: "cancelled row without completion ignored",
			rows: map[string]row{"x": {Name: "gone", ScheduledAt: clock.Format(t0.Add(-time.Minute)), Active: false}},
			want: Clear,
		},
		{
			name: "legacy timestamp field",
			rows: map[string]row{"l": {Name: "old", Timestamp: "2024-05-01T11:00:00+03:00", Active: true}},
			want: Ongoing, id: "l",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s, st, _, _ := newScheduler(t)
			for id, r := range c.rows {
				putRow(t, st, id, r)
			}
			got, err := s.CanSchedule(context.Background())
			if err != nil {
				t.Fatalf("CanSchedule: %v", err)
			}
			if got.Kind != c.want || got.EventID != c.id || !got.Until.Equal(c.until) {
				t.Fatalf("got %+v (%s), want kind=%s id=%q until=%v", got, got.Kind, c.want, c.id, c.until)
			}
		})
	}
}

func TestProposeValidation(t *testing.T) {
	s, _, _, _ := newScheduler(t)
	cases := []struct {
		name, creator string
		parts         []string
	}{
		{"", "c", []string{"p"}},
		{"raid", "c", nil},
		{"raid", "c", []string{"p1", "p2", "p3", "p4"}},
		{"raid", "c", []string{"p1", "c"}},
		{"raid", "", []string{"p1"}},
		{"raid", "c", []string{"bad/id"}},
	}
	for _, c := range cases {
		if _, err := s.Propose(context.Background(), c.name, c.creator, c.parts); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("%+v: err = %v", c, err)
		}
	}

	p, err := s.Propose(context.Background(), " raid ", "c", []string{"p1", "p1", "p2"})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if p.Name != "raid" || !reflect.DeepEqual(p.Participants, []string{"p1", "p2"}) {
		t.Fatalf("proposal = %+v", p)
	}
}

func TestProposeBlocked(t *testing.T) {
	s, st, _, _ := newScheduler(t)
	putRow(t, st, "p", activeAt(t0.Add(time.Hour)))

	_, err := s.Propose(context.Background(), "raid", "c", []string{"p1"})
	if !errors.Is(err, errs.ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked", err)
	}
	var be *BlockedError
	if !errors.As(err, &be) || be.Status.Kind != Pending {
		t.Fatalf("blocked status = %+v", be)
	}
}

func TestConfirmPastTimeWritesNothing(t *testing.T) {
	s, st, _, rec := newScheduler(t)
	_, err := s.Confirm(context.Background(), "raid", "c", []string{"p1"}, t0.Add(-time.Second))
	if !errors.Is(err, errs.ErrPastTime) {
		t.Fatalf("err = %v, want ErrPastTime", err)
	}
	for _, id := range []string{"c", "p1"} {
		if n, _ := s.Count(context.Background(), id); n != 0 {
			t.Fatalf("counter %s = %d", id, n)
		}
	}
	if ok, _ := st.Get(context.Background(), tablePath, nil); ok {
		t.Fatal("event table written")
	}
	if len(rec.got) != 0 {
		t.Fatal("notified on failure")
	}
}

func TestConfirmAtNowAccepted(t *testing.T) {
	s, _, _, _ := newScheduler(t)
	res, err := s.Confirm(context.Background(), "raid", "c", []string{"p1"}, t0)
	if err != nil {
		t.Fatalf("confirm at now: %v", err)
	}
	if res.Event.Time != "12:00" || !res.Event.ScheduledAt.Equal(t0) || !res.Event.Active {
		t.Fatalf("event = %+v", res.Event)
	}
}

func TestEndToEndCreateAndCancel(t *testing.T) {
	s, st, _, rec := newScheduler(t)
	ctx := context.Background()

	res, err := s.Confirm(ctx, "raid", "C", []string{"P1", "P2"}, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	id := res.Event.ID
	if id == "" || res.CreatorTotal != 1 {
		t.Fatalf("result = %+v", res)
	}
	for _, m := range []string{"C", "P1", "P2"} {
		if n, err := s.Count(ctx, m); err != nil || n != 1 {
			t.Fatalf("count %s = %d, %v", m, n, err)
		}
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got.Participants, []string{"P1", "P2"}) || got.CreatorID != "C" {
		t.Fatalf("stored event = %+v", got)
	}

	if _, err := s.Cancel(ctx, id, "C", false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, m := range []string{"C", "P1", "P2"} {
		if n, _ := s.Count(ctx, m); n != 0 {
			t.Fatalf("count %s = %d after cancel", m, n)
		}
	}
	if ok, _ := st.Get(ctx, rowPath(id), nil); ok {
		t.Fatal("row still present")
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("get after cancel: %v", err)
	}

	if len(rec.got) != 2 {
		t.Fatalf("notices = %d", len(rec.got))
	}
	last := rec.got[1]
	if last.To != notifier.Channel("events") || !strings.Contains(last.Text, "raid") || !strings.Contains(last.Text, "P1, P2") {
		t.Fatalf("cancel notice = %+v", last)
	}
}

func TestCancelChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		s, _, _, _ := newScheduler(t)
		if _, err := s.Cancel(ctx, "nope", "C", true); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("already terminal", func(t *testing.T) {
		s, st, _, _ := newScheduler(t)
		putRow(t, st, "x", doneAt(t0.Add(-time.Minute), t0))
		if _, err := s.Cancel(ctx, "x", "c", true); !errors.Is(err, errs.ErrAlreadyTerminal) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("window expired regardless of caller", func(t *testing.T) {
		s, _, clk, _ := newScheduler(t)
		res, err := s.Confirm(ctx, "raid", "C", []string{"P1"}, t0.Add(48*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		clk.Advance(24*time.Hour + time.Second)
		for _, actor := range []string{"C", "P1", "admin"} {
			if _, err := s.Cancel(ctx, res.Event.ID, actor, actor == "admin"); !errors.Is(err, errs.ErrWindowExpired) {
				t.Fatalf("%s: err = %v", actor, err)
			}
		}
	})

	t.Run("window boundary inclusive", func(t *testing.T) {
		s, _, clk, _ := newScheduler(t)
		res, err := s.Confirm(ctx, "raid", "C", []string{"P1"}, t0.Add(48*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		clk.Advance(24 * time.Hour)
		if _, err := s.Cancel(ctx, res.Event.ID, "P1", false); err != nil {
			t.Fatalf("cancel at exactly 24h: %v", err)
		}
	})

	t.Run("missing creation time", func(t *testing.T) {
		s, st, _, _ := newScheduler(t)
		r := activeAt(t0.Add(time.Hour))
		r.CreatedAt = ""
		putRow(t, st, "legacy", r)
		if _, err := s.Cancel(ctx, "legacy", "c", true); !errors.Is(err, errs.ErrWindowExpired) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("forbidden", func(t *testing.T) {
		s, _, _, _ := newScheduler(t)
		res, err := s.Confirm(ctx, "raid", "C", []string{"P1"}, t0.Add(time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Cancel(ctx, res.Event.ID, "stranger", false); !errors.Is(err, errs.ErrForbidden) {
			t.Fatalf("err = %v", err)
		}
		if _, err := s.Cancel(ctx, res.Event.ID, "stranger", true); err != nil {
			t.Fatalf("privileged cancel: %v", err)
		}
	})
}

var errBoom = errors.New("boom")

// flakyStore fails writes whose path starts with one of the configured prefixes.
type flakyStore struct {
	recordstore.Store
	failSet    string
	failDelete string
	failUpdate string
}

func (f *flakyStore) Set(ctx context.Context, path string, v any) error {
	if f.failSet != "" && strings.HasPrefix(path, f.failSet) {
		return errBoom
	}
	return f.Store.Set(ctx, path, v)
}

func (f *flakyStore) Delete(ctx context.Context, path string) error {
	if f.failDelete != "" && strings.HasPrefix(path, f.failDelete) {
		return errBoom
	}
	return f.Store.Delete(ctx, path)
}

func (f *flakyStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if f.failUpdate != "" && strings.HasPrefix(path, f.failUpdate) {
		return errBoom
	}
	return f.Store.Update(ctx, path, fields)
}

func TestFailedWritesLeaveCountersUnchanged(t *testing.T) {
	ctx := context.Background()
	counts := func(t *testing.T, s *Scheduler, want map[string]int64) {
		t.Helper()
		for id, n := range want {
			got, err := s.Count(ctx, id)
			if err != nil || got != n {
				t.Fatalf("count %s = %d, %v; want %d", id, got, err, n)
			}
		}
	}

	t.Run("confirm row write fails", func(t *testing.T) {
		st := recordstore.NewClient(recordstore.NewMemory())
		fs := &flakyStore{Store: st, failSet: tablePath + "/"}
		s := New(fs, clock.NewFake(t0))
		if _, err := s.Confirm(ctx, "raid", "C", []string{"P1"}, t0.Add(time.Hour)); !errors.Is(err, errs.ErrStore) {
			t.Fatalf("err = %v", err)
		}
		counts(t, s, map[string]int64{"C": 0, "P1": 0})
		if evs, _ := s.table(ctx, "test"); len(evs) != 0 {
			t.Fatalf("rows = %d", len(evs))
		}
	})

	t.Run("confirm counter write fails midway", func(t *testing.T) {
		st := recordstore.NewClient(recordstore.NewMemory())
		fs := &flakyStore{Store: st, failUpdate: counterNode("P2")}
		s := New(fs, clock.NewFake(t0))
		if _, err := s.Confirm(ctx, "raid", "C", []string{"P1", "P2"}, t0.Add(time.Hour)); !errors.Is(err, errs.ErrStore) {
			t.Fatalf("err = %v", err)
		}
		counts(t, s, map[string]int64{"C": 0, "P1": 0, "P2": 0})
	})

	t.Run("cancel delete fails", func(t *testing.T) {
		st := recordstore.NewClient(recordstore.NewMemory())
		fs := &flakyStore{Store: st}
		s := New(fs, clock.NewFake(t0))
		res, err := s.Confirm(ctx, "raid", "C", []string{"P1"}, t0.Add(time.Hour))
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		fs.failDelete = tablePath + "/"
		if _, err := s.Cancel(ctx, res.Event.ID, "C", false); !errors.Is(err, errs.ErrStore) {
			t.Fatalf("err = %v", err)
		}
		counts(t, s, map[string]int64{"C": 1, "P1": 1})
		if ev, err := s.Get(ctx, res.Event.ID); err != nil || !ev.Active {
			t.Fatalf("row after failed cancel = %+v, %v", ev, err)
		}

		fs.failDelete = ""
		if _, err := s.Cancel(ctx, res.Event.ID, "C", false); err != nil {
			t.Fatalf("retry cancel: %v", err)
		}
		counts(t, s, map[string]int64{"C": 0, "P1": 0})
	})
}

func TestCancelWindowKeepsSubSecondCreation(t *testing.T) {
	s, _, clk, _ := newScheduler(t)
	ctx := context.Background()
	clk.Set(t0.Add(900 * time.Millisecond))
	res, err := s.Confirm(ctx, "raid", "C", []string{"P1"}, t0.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	clk.Advance(24 * time.Hour)
	if _, err := s.Cancel(ctx, res.Event.ID, "C", false); err != nil {
		t.Fatalf("cancel at exactly 24h after %v: %v", t0.Add(900*time.Millisecond), err)
	}
}

func TestCooldownKeepsSubSecondCompletion(t *testing.T) {
	s, st, clk, _ := newScheduler(t)
	ctx := context.Background()
	done := t0.Add(900 * time.Millisecond)
	putRow(t, st, "prev", doneAt(t0.Add(-time.Hour), done))
	clk.Set(done.Add(s.Config().Cooldown - time.Millisecond))
	st2, err := s.CanSchedule(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st2.Kind != Cooldown || !st2.Until.Equal(done.Add(s.Config().Cooldown)) {
		t.Fatalf("status = %+v", st2)
	}
}

func TestCounterClampedAtZero(t *testing.T) {
	s, st, _, _ := newScheduler(t)
	ctx := context.Background()
	r := activeAt(t0.Add(time.Hour))
	r.CreatedAt = clock.Format(t0)
	r.CreatorID = mustJSON("C")
	r.Participants = []byte(`["P1"]`)
	putRow(t, st, "e", r)
	if err := st.Update(ctx, counterNode("C"), map[string]any{"total_events": 2}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Cancel(ctx, "e", "C", false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n, _ := s.Count(ctx, "C"); n != 1 {
		t.Fatalf("C = %d", n)
	}
	if n, _ := s.Count(ctx, "P1"); n != 0 {
		t.Fatalf("P1 = %d", n)
	}
}

func TestCompletionSweep(t *testing.T) {
	s, st, clk, _ := newScheduler(t)
	ctx := context.Background()
	putRow(t, st, "due", activeAt(t0.Add(-time.Minute)))
	putRow(t, st, "later", activeAt(t0.Add(time.Hour)))
	putRow(t, st, "done", doneAt(t0.Add(-3*time.Hour), t0.Add(-2*time.Hour)))

	rep, err := s.CompletionSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scanned != 3 || rep.Completed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	due, err := s.Get(ctx, "due")
	if err != nil {
		t.Fatal(err)
	}
	if due.Active || !due.CompletedAt.Equal(t0) {
		t.Fatalf("due = %+v", due)
	}
	done, _ := s.Get(ctx, "done")
	if !done.CompletedAt.Equal(t0.Add(-2 * time.Hour)) {
		t.Fatalf("completed row restamped: %+v", done)
	}

	again, _ := s.CompletionSweep(ctx)
	if again.Completed != 0 {
		t.Fatalf("second sweep = %+v", again)
	}

	st2, _ := s.CanSchedule(ctx)
	if st2.Kind != Pending {
		t.Fatalf("status = %s", st2.Kind)
	}

	clk.Advance(time.Hour)
	if rep, _ := s.CompletionSweep(ctx); rep.Completed != 1 {
		t.Fatalf("after advance = %+v", rep)
	}
	if st, _ := s.CanSchedule(ctx); st.Kind != Cooldown || !st.Until.Equal(t0.Add(time.Hour+50*time.Minute)) {
		t.Fatalf("status = %+v", st)
	}
	clk.Advance(50 * time.Minute)
	if st, _ := s.CanSchedule(ctx); !st.IsClear() {
		t.Fatalf("status = %+v", st)
	}
}

func TestChooseTime(t *testing.T) {
	got, err := ChooseTime(t0, 18, 35)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 5, 1, 18, 35, 0, 0, t0.Location()); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for _, c := range [][2]int{{24, 0}, {-1, 0}, {10, 7}, {10, 60}} {
		if _, err := ChooseTime(t0, c[0], c[1]); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("%v: err = %v", c, err)
		}
	}
}

func TestRenderStatus(t *testing.T) {
	msg := RenderStatus(Status{Kind: Cooldown, Until: t0.Add(90 * time.Second)}, t0)
	if !strings.Contains(msg, "1 min 30 sec") {
		t.Fatalf("msg = %q", msg)
	}
}

package reprimand

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
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
	err error
}

func (r *recorder) Notify(_ context.Context, n notifier.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func newLedger(t *testing.T) (*Ledger, *recordstore.Client, *clock.Fake, *recorder) {
	t.Helper()
	st := recordstore.NewClient(recordstore.NewMemory())
	clk := clock.NewFake(t0)
	rec := &recorder{}
	return New(st, clk, WithNotifier(rec)), st, clk, rec
}

func storedKeys(t *testing.T, st *recordstore.Client, subject string) []string {
	t.Helper()
	raw, ok, err := st.GetRaw(context.Background(), setPath(subject))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		return nil
	}
	entries, err := recordstore.Entries(raw)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}

func kinds(list []Reprimand) []Kind {
	out := make([]Kind, 0, len(list))
	for _, r := range list {
		out = append(out, r.Kind)
	}
	return out
}

func mustIssue(t *testing.T, l *Ledger, subject string, k Kind, reason string) IssueResult {
	t.Helper()
	res, err := l.Issue(context.Background(), subject, k, reason, "mod")
	if err != nil {
		t.Fatalf("issue %s: %v", k, err)
	}
	return res
}

func TestIssueSetsExpiryAndDenseKeys(t *testing.T) {
	l, st, _, rec := newLedger(t)

	oral := mustIssue(t, l, "100", KindOral, "spam")
	if !oral.Issued.ExpiresAt.Equal(t0.Add(7 * 24 * time.Hour)) {
		t.Fatalf("oral expiry = %v", oral.Issued.ExpiresAt)
	}
	strict := mustIssue(t, l, "100", KindStrict, "flood")
	if !strict.Issued.ExpiresAt.Equal(t0.Add(14 * 24 * time.Hour)) {
		t.Fatalf("strict expiry = %v", strict.Issued.ExpiresAt)
	}
	if strict.Issued.Index != 1 || strict.ActiveOral != 1 || strict.ActiveStrict != 1 {
		t.Fatalf("strict result = %+v", strict)
	}

	if got := storedKeys(t, st, "100"); !reflect.DeepEqual(got, []string{"0", "1"}) {
		t.Fatalf("keys = %v", got)
	}
	// subject DM + moderation log per issuance
	if len(rec.got) != 4 {
		t.Fatalf("notices = %d", len(rec.got))
	}
	if rec.got[0].To != notifier.Direct("100") || rec.got[1].To != notifier.Channel("moderation") {
		t.Fatalf("destinations = %v, %v", rec.got[0].To, rec.got[1].To)
	}
}

func TestIssueValidation(t *testing.T) {
	l, _, _, _ := newLedger(t)
	cases := []struct {
		subject, reason string
		kind            Kind
	}{
		{"", "x", KindOral},
		{"a/b", "x", KindOral},
		{"1", "x", "verbal"},
		{"1", "  ", KindStrict},
	}
	for _, c := range cases {
		_, err := l.Issue(context.Background(), c.subject, c.kind, c.reason, "mod")
		if !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("%+v: err = %v", c, err)
		}
	}
}

func TestEscalationOnThirdOral(t *testing.T) {
	l, st, _, rec := newLedger(t)

	mustIssue(t, l, "7", KindStrict, "old strict")
	mustIssue(t, l, "7", KindOral, "o1")
	mustIssue(t, l, "7", KindOral, "o2")
	res := mustIssue(t, l, "7", KindOral, "o3")

	if !res.Escalated || res.Strict == nil {
		t.Fatalf("expected escalation: %+v", res)
	}
	if res.Issued.Index != -1 {
		t.Fatalf("consumed entry index = %d", res.Issued.Index)
	}
	if res.ActiveOral != 0 || res.ActiveStrict != 2 {
		t.Fatalf("totals = oral %d strict %d", res.ActiveOral, res.ActiveStrict)
	}

	list, err := l.ListActive(context.Background(), "7")
	if err != nil {
		t.Fatal(err)
	}
	if got := kinds(list); !reflect.DeepEqual(got, []Kind{KindStrict, KindStrict}) {
		t.Fatalf("kinds = %v", got)
	}
	if list[0].Reason != "old strict" {
		t.Fatalf("pre-existing strict changed: %+v", list[0])
	}
	if list[1].Reason != l.Config().EscalationReason || list[1].IssuerID != "mod" {
		t.Fatalf("synthesized strict = %+v", list[1])
	}
	if !list[1].ExpiresAt.Equal(t0.Add(14 * 24 * time.Hour)) {
		t.Fatalf("synthesized expiry = %v", list[1].ExpiresAt)
	}
	if got := storedKeys(t, st, "7"); !reflect.DeepEqual(got, []string{"0", "1"}) {
		t.Fatalf("keys = %v", got)
	}

	last := rec.got[len(rec.got)-1]
	if last.To != notifier.Channel("moderation") || last.Priority != 7 {
		t.Fatalf("escalation notice = %+v", last)
	}
}

func TestEscalationTakesOldestOrals(t *testing.T) {
	l, _, _, _ := newLedger(t)
	l.cfg.EscalateAfter = 2

	mustIssue(t, l, "9", KindOral, "a")
	mustIssue(t, l, "9", KindStrict, "s")
	res := mustIssue(t, l, "9", KindOral, "b")
	if !res.Escalated {
		t.Fatal("expected escalation")
	}
	list, _ := l.ListActive(context.Background(), "9")
	if got := kinds(list); !reflect.DeepEqual(got, []Kind{KindStrict, KindStrict}) {
		t.Fatalf("kinds = %v", got)
	}
}

func TestStrictIssueNeverEscalates(t *testing.T) {
	l, _, _, _ := newLedger(t)
	mustIssue(t, l, "5", KindOral, "a")
	mustIssue(t, l, "5", KindOral, "b")
	res := mustIssue(t, l, "5", KindStrict, "c")
	if res.Escalated || res.ActiveOral != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func seed(t *testing.T, st *recordstore.Client, subject string, recs ...record) {
	t.Helper()
	if err := st.Set(context.Background(), setPath(subject), recordstore.Dense(recs)); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func entry(k Kind, reason string, expires time.Time) record {
	return record{Reason: reason, Type: k, Active: true, IssuerID: "mod",
		IssuedAt: clock.Format(t0.Add(-time.Hour)), ExpiresAt: clock.Format(expires)}
}

func TestRemoveSelectionPolicy(t *testing.T) {
	future := t0.Add(48 * time.Hour)
	cases := []struct {
		name    string
		kind    Kind
		set     []record
		removed string
		left    []string
	}{
		{
			name:    "unspecified prefers earliest oral",
			set:     []record{entry(KindOral, "o0", future), entry(KindStrict, "s1", future), entry(KindOral, "o2", future)},
			removed: "o0",
			left:    []string{"s1", "o2"},
		},
		{
			name:    "unspecified falls back to latest any",
			set:     []record{entry(KindStrict, "s0", future), entry(KindStrict, "s1", future)},
			removed: "s1",
			left:    []string{"s0"},
		},
		{
			name:    "kind picks latest of kind",
			kind:    KindOral,
			set:     []record{entry(KindOral, "o0", future), entry(KindStrict, "s1", future), entry(KindOral, "o2", future)},
			removed: "o2",
			left:    []string{"o0", "s1"},
		},
		{
			name: "inactive entries are skipped",
			set: []record{
				{Reason: "dead", Type: KindOral, ExpiresAt: clock.Format(future)},
				entry(KindStrict, "s1", future),
			},
			removed: "s1",
			left:    []string{"dead"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l, st, _, _ := newLedger(t)
			seed(t, st, "1", c.set...)

			res, err := l.Remove(context.Background(), "1", c.kind)
			if err != nil {
				t.Fatalf("remove: %v", err)
			}
			if res.Removed.Reason != c.removed {
				t.Fatalf("removed %q, want %q", res.Removed.Reason, c.removed)
			}

			var raw json.RawMessage
			if _, err := st.Get(context.Background(), setPath("1"), &raw); err != nil {
				t.Fatal(err)
			}
			set, err := decodeSet(raw)
			if err != nil {
				t.Fatal(err)
			}
			var left []string
			for _, r := range set {
				left = append(left, r.Reason)
			}
			if !reflect.DeepEqual(left, c.left) {
				t.Fatalf("left = %v, want %v", left, c.left)
			}
			want := make([]string, len(c.left))
			for i := range want {
				want[i] = string(rune('0' + i))
			}
			if got := storedKeys(t, st, "1"); !reflect.DeepEqual(got, want) {
				t.Fatalf("keys = %v, want %v", got, want)
			}
		})
	}
}

func TestRemoveNotFound(t *testing.T) {
	l, st, _, rec := newLedger(t)
	if _, err := l.Remove(context.Background(), "1", ""); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("empty set: err = %v", err)
	}
	seed(t, st, "1", recOf(KindOral))
	if _, err := l.Remove(context.Background(), "1", KindStrict); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("no strict: err = %v", err)
	}
	if len(rec.got) != 0 {
		t.Fatalf("failed removal notified: %+v", rec.got)
	}
}

func recOf(k Kind) record { return entry(k, string(k), t0.Add(time.Hour)) }

func TestRemoveLastDeletesNode(t *testing.T) {
	l, st, _, _ := newLedger(t)
	mustIssue(t, l, "3", KindOral, "x")
	if _, err := l.Remove(context.Background(), "3", ""); err != nil {
		t.Fatal(err)
	}
	if ok, err := st.Get(context.Background(), setPath("3"), nil); err != nil || ok {
		t.Fatalf("set still present: ok=%v err=%v", ok, err)
	}
}

func TestNotifierFailureIsNotFatal(t *testing.T) {
	l, _, _, rec := newLedger(t)
	rec.err = errs.E("notify", errs.ErrDelivery, "down")
	if _, err := l.Issue(context.Background(), "1", KindOral, "x", "mod"); err != nil {
		t.Fatalf("issue with failing notifier: %v", err)
	}
}

func TestListActiveReadsMapAndList(t *testing.T) {
	l, st, _, _ := newLedger(t)
	ctx := context.Background()
	future := clock.Format(t0.Add(time.Hour))

	// index-keyed map with a gap and out-of-order keys
	err := st.Set(ctx, setPath("m"), map[string]any{
		"5": map[string]any{"reason": "b", "type": "strict", "active": true, "expires_at": future},
		"2": map[string]any{"reason": "a", "type": "oral", "active": true, "expires_at": future},
		"9": map[string]any{"reason": "c", "type": "oral", "active": false, "expires_at": future},
	})
	if err != nil {
		t.Fatal(err)
	}
	list, err := l.ListActive(ctx, "m")
	if err != nil {
		t.Fatal(err)
	}
	var reasons []string
	for _, r := range list {
		reasons = append(reasons, r.Reason)
	}
	if !reflect.DeepEqual(reasons, []string{"a", "b"}) {
		t.Fatalf("reasons = %v", reasons)
	}
	if list[0].Index != 0 || list[1].Index != 1 {
		t.Fatalf("indices = %d, %d", list[0].Index, list[1].Index)
	}
}

func TestExpirySweep(t *testing.T) {
	l, st, clk, _ := newLedger(t)
	ctx := context.Background()

	seed(t, st, "a",
		entry(KindOral, "expired", t0.Add(-time.Minute)),
		entry(KindStrict, "keeps", t0.Add(time.Hour)),
		entry(KindOral, "boundary", t0),
	)
	seed(t, st, "b", entry(KindOral, "fresh", t0.Add(time.Hour)))
	seed(t, st, "c",
		record{Reason: "inactive", Type: KindOral, ExpiresAt: clock.Format(t0.Add(time.Hour))},
		record{Reason: "legacy", Type: KindStrict, Active: true, ExpirationDate: "11:59 01:05:2024Z"},
		record{Reason: "garbage", Type: KindStrict, Active: true, ExpiresAt: "soon"},
	)

	rep, err := l.ExpirySweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.Subjects != 3 || rep.Updated != 2 || rep.Expired != 3 || rep.Inactive != 1 {
		t.Fatalf("report = %+v", rep)
	}

	remaining := func(subject string) []string {
		var raw json.RawMessage
		if _, err := st.Get(ctx, setPath(subject), &raw); err != nil {
			t.Fatal(err)
		}
		set, err := decodeSet(raw)
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for _, r := range set {
			out = append(out, r.Reason)
		}
		sort.Strings(out)
		return out
	}
	if got := remaining("a"); !reflect.DeepEqual(got, []string{"keeps"}) {
		t.Fatalf("a = %v", got)
	}
	if got := remaining("b"); !reflect.DeepEqual(got, []string{"fresh"}) {
		t.Fatalf("b = %v", got)
	}
	if got := remaining("c"); !reflect.DeepEqual(got, []string{"garbage"}) {
		t.Fatalf("c = %v", got)
	}

	again, err := l.ExpirySweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Updated != 0 || again.Expired != 0 || again.Inactive != 0 {
		t.Fatalf("second sweep not a no-op: %+v", again)
	}

	clk.Advance(2 * time.Hour)
	if rep, _ := l.ExpirySweep(ctx); rep.Expired != 2 {
		t.Fatalf("after advance: %+v", rep)
	}
}

func TestExpirySweepEmptyStore(t *testing.T) {
	l, _, _, _ := newLedger(t)
	rep, err := l.ExpirySweep(context.Background())
	if err != nil || rep != (SweepReport{}) {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"oral": KindOral, " STRICT ": KindStrict} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseKind("verbal"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

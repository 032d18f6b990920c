package sweeper

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"modbot/internal/metrics"
	logx "modbot/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAddValidation(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	ok := func(context.Context) error { return nil }
	cases := []Task{
		{Name: "", Every: time.Second, Run: ok},
		{Name: "x", Every: 0, Run: ok},
		{Name: "x", Every: time.Second},
	}
	for _, c := range cases {
		if err := s.Add(c); err == nil {
			t.Fatalf("Add(%+v) accepted", c)
		}
	}
	if err := s.Add(Task{Name: "x", Every: time.Second, Run: ok}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(Task{Name: "x", Every: time.Second, Run: ok}); err == nil {
		t.Fatal("duplicate accepted")
	}
}

func TestTickIsolatesFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := New(Config{}, logx.Nop(), m)

	var good atomic.Int32
	_ = s.Add(Task{Name: "good", Every: time.Hour, Run: func(context.Context) error { good.Add(1); return nil }})
	_ = s.Add(Task{Name: "bad", Every: time.Hour, Run: func(context.Context) error { return errors.New("store down") }})
	_ = s.Add(Task{Name: "panics", Every: time.Hour, Run: func(context.Context) error { panic("boom") }})

	if err := s.Tick(context.Background(), "good"); err != nil {
		t.Fatalf("good: %v", err)
	}
	if err := s.Tick(context.Background(), "panics"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("panics: %v", err)
	}
	if err := s.Tick(context.Background(), "missing"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("missing: %v", err)
	}

	err := s.RunAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad: store down") {
		t.Fatalf("RunAll = %v", err)
	}
	if good.Load() != 2 {
		t.Fatalf("good ran %d times", good.Load())
	}

	snap := s.Snapshot()
	if len(snap) != 3 || snap[0].Name != "bad" || snap[0].Failures != 1 || snap[0].LastErr == "" {
		t.Fatalf("snapshot = %+v", snap)
	}
	want := `
# HELP modbot_sweep_runs_total Sweep ticks, by task and result.
# TYPE modbot_sweep_runs_total counter
modbot_sweep_runs_total{result="error",task="bad"} 1
modbot_sweep_runs_total{result="error",task="panics"} 2
modbot_sweep_runs_total{result="ok",task="good"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "modbot_sweep_runs_total"); err != nil {
		t.Fatal(err)
	}
}

func TestStartRunsOnStartAndStops(t *testing.T) {
	s := New(Config{RunOnStart: true}, logx.Nop(), nil)
	ran := make(chan struct{}, 4)
	_ = s.Add(Task{Name: "events", Every: time.Hour, Run: func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run on start")
	}
	if err := s.Add(Task{Name: "late", Every: time.Hour, Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("add after start accepted")
	}
	if next := s.Snapshot()[0].Next; next.IsZero() {
		t.Fatal("no next run scheduled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
}

func TestStopCancelsInFlightRun(t *testing.T) {
	s := New(Config{RunOnStart: true}, logx.Nop(), nil)
	started := make(chan struct{})
	_ = s.Add(Task{Name: "slow", Every: time.Hour, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	if ctx.Err() != nil {
		t.Fatal("stop waited for the deadline")
	}
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

const yamlCfg = `
logging:
  level: debug
  console: true
store:
  driver: sqlite
  path: ./modbot.db
sweeper:
  reprimand_every: 2h
reprimands:
  oral_ttl: 3d
stats:
  window: 3d
notifier:
  enabled: true
  routes:
    moderation: { chat_id: -100123, thread_id: 4 }
`

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	m := NewConfigManager(writeFile(t, "modbot.yaml", yamlCfg))
	m.SetEnviron(map[string]string{
		"MODBOT_TELEGRAM_TOKEN": "secret",
		"MODBOT_LOG_LEVEL":      "warn",
	})
	cfg, rt, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "secret" || cfg.Logging.Level != "warn" {
		t.Fatalf("env not applied: %+v %+v", cfg.Telegram, cfg.Logging)
	}
	if cfg.Notifier.Routes["moderation"] != (RouteConfig{ChatID: -100123, ThreadID: 4}) {
		t.Fatalf("routes = %+v", cfg.Notifier.Routes)
	}
	if rt.ReprimandEvery != 2*time.Hour || rt.EventEvery != time.Minute {
		t.Fatalf("sweeper intervals = %v, %v", rt.ReprimandEvery, rt.EventEvery)
	}
	if rt.OralTTL != 72*time.Hour || rt.StrictTTL != 14*24*time.Hour {
		t.Fatalf("ttls = %v, %v", rt.OralTTL, rt.StrictTTL)
	}
	if rt.StatsWindow != 72*time.Hour {
		t.Fatalf("stats window = %v", rt.StatsWindow)
	}
	if rt.Cooldown != 50*time.Minute || rt.CancelWindow != 24*time.Hour {
		t.Fatalf("event windows = %v, %v", rt.Cooldown, rt.CancelWindow)
	}
	if !rt.SweepEnabled || !rt.SweepOnStart || rt.Timezone != "Europe/Moscow" {
		t.Fatalf("defaults = %+v", rt)
	}
	if m.Get() != cfg {
		t.Fatal("config not committed")
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": `{"logging":{"level":"info"},"plugins":{}}`,
		"trailing data": `{"logging":{}} {}`,
	}
	for name, body := range cases {
		if _, err := Decode("c.json", []byte(body)); err == nil {
			t.Fatalf("%s: accepted", name)
		}
	}
}

func TestResolveCollectsErrors(t *testing.T) {
	cfg := &Config{
		Clock:    ClockConfig{Timezone: "Mars/Olympus"},
		Store:    StoreConfig{Driver: "postgres"},
		Sweeper:  SweeperConfig{EventEvery: "soon"},
		Notifier: NotifierConfig{Routes: map[string]RouteConfig{"events": {}}},
		Ops:      OpsConfig{Enabled: true, Addr: "0.0.0.0:9090"},
	}
	_, err := cfg.Resolve()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"clock.timezone", "store.dsn", "sweeper.event_every", "notifier.routes.events", "ops.addr"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"7d":  7 * 24 * time.Hour,
		"90s": 90 * time.Second,
		"50m": 50 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil || got != want {
			t.Fatalf("ParseDuration(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDuration("xd"); err == nil {
		t.Fatal("xd accepted")
	}
	if _, err := ParseDurationField("f", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "b"}, Events: EventsConfig{Cooldown: "30m"}}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if !reflect.DeepEqual(changed, []string{"events", "telegram"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
}

func TestWatchPublishesValidChange(t *testing.T) {
	p := writeFile(t, "modbot.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(p)
	m.SetEnviron(map[string]string{})
	if _, _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte(`{"sweeper":{"event_every":"bogus"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	if err := os.WriteFile(p, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}

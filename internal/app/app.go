package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"modbot/internal/clock"
	"modbot/internal/config"
	"modbot/internal/eventbus"
	"modbot/internal/events"
	"modbot/internal/metrics"
	"modbot/internal/notifier"
	"modbot/internal/observability/ops"
	"modbot/internal/recordstore"
	"modbot/internal/reprimand"
	"modbot/internal/stats"
	rtsup "modbot/internal/runtime/supervisor"
	"modbot/internal/sweeper"
	kit "modbot/internal/transport"
	"modbot/internal/transport/telegram"
	logx "modbot/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Sweep task names.
const (
	TaskReprimandExpiry = "reprimand-expiry"
	TaskEventCompletion = "event-completion"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	rt   config.Runtime
	sup  *rtsup.Supervisor

	log  logx.Logger
	base logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry
	m    *metrics.Lifecycle
	clk  clock.Clock

	store  *recordstore.Client
	notif  *notifier.Service
	ledger *reprimand.Ledger
	stats  *stats.Ledger
	sched  *events.Scheduler
	sweep  *sweeper.Sweeper
	ops    *ops.Server
}

type Option func(*options)

type options struct {
	clk    clock.Clock
	sender kit.Sender
}

// WithClock replaces the zone clock derived from clock.timezone.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clk = c } }

// WithSender replaces the Telegram (or log) sender.
func WithSender(s kit.Sender) Option { return func(o *options) { o.sender = s } }

// New loads cfgPath and assembles every component. Nothing runs until
// Start; one-shot commands can use the components right away.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, rt, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a, err := build(ctx, cfg, rt, opts)
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm
	return a, nil
}

// NewWithConfig assembles the app from an in-memory config. Hot reload is
// unavailable.
func NewWithConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	return build(ctx, cfg, rt, opts)
}

func build(ctx context.Context, cfg *config.Config, rt config.Runtime, opts []Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	// base carries no comp field; each component adds its own.
	logSvc, base := logx.New(mapLogConfig(cfg))
	log := base.With(logx.String("comp", "app"))

	clk := o.clk
	if clk == nil {
		c, err := clock.Load(rt.Timezone)
		if err != nil {
			return nil, err
		}
		clk = c
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	bus := eventbus.New()

	sc := mapStoreConfig(cfg, rt)
	store, err := recordstore.Open(ctx, sc, base.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	driver := sc.Driver
	if driver == "" {
		driver = "memory"
	}
	log.Info("store opened", logx.String("driver", driver))

	sender := o.sender
	if sender == nil {
		if tok := strings.TrimSpace(cfg.Telegram.Token); tok != "" {
			tg, err := telegram.New(telegram.Config{Token: tok, ParseMode: cfg.Telegram.ParseMode}, base)
			if err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("telegram: %w", err)
			}
			sender = tg
		} else {
			log.Warn("telegram token not set; notices go to the log")
			sender = kit.NewLogSender(base.With(logx.String("comp", "notices")))
		}
	}
	notif := notifier.New(mapNotifierConfig(cfg, rt), sender, base, bus, m)

	ledger := reprimand.New(store, clk,
		reprimand.WithConfig(mapReprimandConfig(cfg, rt)),
		reprimand.WithNotifier(notif),
		reprimand.WithLogger(base),
		reprimand.WithMetrics(m),
		reprimand.WithBus(bus),
	)
	tally := stats.New(store, clk,
		stats.WithConfig(mapStatsConfig(cfg, rt)),
		stats.WithNotifier(notif),
		stats.WithLogger(base),
		stats.WithMetrics(m),
		stats.WithBus(bus),
	)
	sched := events.New(store, clk,
		events.WithConfig(mapEventsConfig(cfg, rt)),
		events.WithNotifier(notif),
		events.WithLogger(base),
		events.WithMetrics(m),
		events.WithBus(bus),
	)

	sw := sweeper.New(sweeper.Config{
		RunOnStart: rt.SweepOnStart,
		Timeout:    rt.SweepTimeout,
		Location:   clk.Location(),
	}, base, m)
	tasks := []sweeper.Task{
		{Name: TaskReprimandExpiry, Every: rt.ReprimandEvery, Run: func(ctx context.Context) error {
			_, err := ledger.ExpirySweep(ctx)
			return err
		}},
		{Name: TaskEventCompletion, Every: rt.EventEvery, Run: func(ctx context.Context) error {
			_, err := sched.CompletionSweep(ctx)
			return err
		}},
	}
	for _, t := range tasks {
		if err := sw.Add(t); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	a := &App{
		cfg:    cfg,
		rt:     rt,
		log:    log,
		base:   base,
		logs:   logSvc,
		bus:    bus,
		reg:    reg,
		m:      m,
		clk:    clk,
		store:  store,
		notif:  notif,
		ledger: ledger,
		stats:  tally,
		sched:  sched,
		sweep:  sw,
	}
	a.ops = ops.New(mapOpsConfig(cfg, rt), base, reg, ops.Probes{Health: a.health, Status: a.status})
	return a, nil
}

func (a *App) Ledger() *reprimand.Ledger      { return a.ledger }
func (a *App) Stats() *stats.Ledger           { return a.stats }
func (a *App) Scheduler() *events.Scheduler   { return a.sched }
func (a *App) Sweeper() *sweeper.Sweeper      { return a.sweep }
func (a *App) Notifier() *notifier.Service    { return a.notif }
func (a *App) Bus() eventbus.Bus              { return a.bus }
func (a *App) Registry() *prometheus.Registry { return a.reg }
func (a *App) Clock() clock.Clock             { return a.clk }
func (a *App) Logger() logx.Logger            { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Open starts only the notifier, which is all one-shot commands need.
func (a *App) Open(ctx context.Context) {
	a.notif.Start(ctx)
}

// Start runs the long-lived parts: notifier, sweeps, ops server and
// config hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.notif.Start(c)
	if a.rt.SweepEnabled {
		if err := a.sweep.Start(c); err != nil {
			return err
		}
	} else {
		a.log.Info("sweeper disabled via config")
	}
	a.ops.Start(c)

	evs, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-evs:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.base.With(logx.String("comp", "config")))
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return nil
				case newCfg, ok := <-sub:
					if !ok {
						return nil
					}
					// keep only the latest of a burst
					for drained := false; !drained; {
						select {
						case newer := <-sub:
							if newer != nil {
								newCfg = newer
							}
						default:
							drained = true
						}
					}
					a.applyConfig(c, newCfg)
				}
			}
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started",
		logx.String("timezone", a.rt.Timezone),
		logx.Bool("sweeps", a.rt.SweepEnabled),
		logx.Bool("notifier_async", a.notif.Enabled()),
	)
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.NotifierFailed, eventbus.NotifierDropped:
		a.log.Warn("notice not delivered", logx.String("type", e.Type), logx.Any("data", e.Data))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// applyConfig re-applies the hot-reloadable sections. Store, clock and
// sweep intervals need a restart.
func (a *App) applyConfig(ctx context.Context, newCfg *config.Config) {
	rt, err := newCfg.Resolve()
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return
	}
	sections, attrs := config.SummarizeConfigChange(a.cfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		a.cfg, a.rt = newCfg, rt
		return
	}
	for _, s := range sections {
		switch s {
		case "store", "clock", "sweeper", "events", "reprimands", "stats", "telegram":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))

	prevAsync := a.notif.Enabled()
	ncfg := mapNotifierConfig(newCfg, rt)
	a.notif.Apply(ncfg)
	switch {
	case prevAsync && !ncfg.Enabled:
		a.log.Info("notifier queue disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prevAsync && ncfg.Enabled:
		a.log.Info("notifier queue enabled via config")
		a.notif.Start(ctx)
	}

	a.ops.Reconfigure(ctx, mapOpsConfig(newCfg, rt))

	a.cfg, a.rt = newCfg, rt
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health(ctx context.Context) error {
	var probe map[string]any
	if _, err := a.store.Get(ctx, "health", &probe); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return err
		}
	}
	return nil
}

type statusView struct {
	Now      time.Time              `json:"now"`
	Sweeps   []sweeper.TaskStatus   `json:"sweeps"`
	Notices  []notifier.HistoryItem `json:"recent_notices"`
	Routines rtsup.Counters         `json:"routines"`
}

func (a *App) status() any {
	v := statusView{
		Now:     a.clk.Now(),
		Sweeps:  a.sweep.Snapshot(),
		Notices: a.notif.Snapshot(),
	}
	if a.sup != nil {
		v.Routines = a.sup.Counters()
	}
	return v
}

// Stop shuts everything down in reverse start order. Each step is bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errl []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errl = append(errl, fmt.Errorf("%s: %w", name, err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("sweeper", 3*time.Second, func(c context.Context) error { a.sweep.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	// producers are gone; let queued notices drain before the context goes
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.sup != nil {
		a.sup.Cancel()
		step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	step("store", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errl...)
}

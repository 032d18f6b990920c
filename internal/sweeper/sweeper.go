package sweeper

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"modbot/internal/metrics"
	logx "modbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

var ErrUnknownTask = errors.New("sweeper: unknown task")

// Task is one periodic pass.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

type Config struct {
	// RunOnStart runs every task once as soon as Start is called.
	RunOnStart bool
	// Timeout bounds a single run; zero means no bound.
	Timeout  time.Duration
	Location *time.Location
}

// TaskStatus is a point-in-time view of one task.
type TaskStatus struct {
	Name     string        `json:"name"`
	Every    time.Duration `json:"every"`
	Runs     uint64        `json:"runs"`
	Failures uint64        `json:"failures"`
	LastRun  time.Time     `json:"last_run"`
	LastErr  string        `json:"last_err,omitempty"`
	Next     time.Time     `json:"next"`
}

type task struct {
	Task
	entry cron.EntryID

	mu     sync.Mutex
	status TaskStatus
}

type Sweeper struct {
	cfg Config
	log logx.Logger
	m   *metrics.Lifecycle

	mu     sync.Mutex
	tasks  map[string]*task
	c      *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, log logx.Logger, m *metrics.Lifecycle) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Sweeper{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "sweeper")),
		m:     m,
		tasks: map[string]*task{},
	}
}

// Add registers a task. Tasks must be added before Start.
func (s *Sweeper) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("sweeper: task needs a name and a run func")
	}
	if t.Every <= 0 {
		return fmt.Errorf("sweeper: task %s: interval must be positive", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return fmt.Errorf("sweeper: task %s added after start", t.Name)
	}
	if _, dup := s.tasks[t.Name]; dup {
		return fmt.Errorf("sweeper: duplicate task %s", t.Name)
	}
	s.tasks[t.Name] = &task{Task: t, status: TaskStatus{Name: t.Name, Every: t.Every}}
	return nil
}

// Start schedules every task. It is idempotent.
func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	runCtx, cancel := context.WithCancel(ctx)
	for _, t := range s.sortedLocked() {
		t := t
		id, err := c.AddFunc("@every "+t.Every.String(), func() { _ = s.run(runCtx, t) })
		if err != nil {
			cancel()
			return fmt.Errorf("sweeper: schedule %s: %w", t.Name, err)
		}
		t.entry = id
	}
	s.c = c
	s.cancel = cancel
	c.Start()

	if s.cfg.RunOnStart {
		for _, t := range s.sortedLocked() {
			t := t
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				_ = s.run(runCtx, t)
			}()
		}
	}
	s.log.Info("sweeper started", logx.Int("tasks", len(s.tasks)), logx.Bool("run_on_start", s.cfg.RunOnStart))
	return nil
}

// Stop cancels in-flight runs and waits for them until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	cancel()
	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("sweeper stopped")
	case <-ctx.Done():
		s.log.Warn("sweeper stop timed out")
	}
}

// Tick runs the named task once and returns its error.
func (s *Sweeper) Tick(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, t)
}

// RunAll runs every task once in name order and joins their errors.
func (s *Sweeper) RunAll(ctx context.Context) error {
	s.mu.Lock()
	ts := s.sortedLocked()
	s.mu.Unlock()
	var errl []error
	for _, t := range ts {
		if err := s.run(ctx, t); err != nil {
			errl = append(errl, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	return errors.Join(errl...)
}

func (s *Sweeper) Snapshot() []TaskStatus {
	s.mu.Lock()
	ts := s.sortedLocked()
	c := s.c
	s.mu.Unlock()
	out := make([]TaskStatus, 0, len(ts))
	for _, t := range ts {
		t.mu.Lock()
		st := t.status
		t.mu.Unlock()
		if c != nil {
			st.Next = c.Entry(t.entry).Next
		}
		out = append(out, st)
	}
	return out
}

func (s *Sweeper) sortedLocked() []*task {
	out := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// run executes one pass. Panics are turned into errors so a bad pass never
// takes the loop down.
func (s *Sweeper) run(ctx context.Context, t *task) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sweep panicked", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		took := time.Since(start)
		s.m.SweepRun(t.Name, took, err)

		t.mu.Lock()
		t.status.Runs++
		t.status.LastRun = start
		t.status.LastErr = ""
		if err != nil {
			t.status.Failures++
			t.status.LastErr = err.Error()
		}
		t.mu.Unlock()

		if err != nil {
			s.log.Error("sweep failed", logx.String("task", t.Name), logx.Duration("took", took), logx.Err(err))
		} else {
			s.log.Debug("sweep done", logx.String("task", t.Name), logx.Duration("took", took))
		}
	}()
	return t.Run(ctx)
}

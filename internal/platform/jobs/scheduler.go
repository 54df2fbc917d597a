// Package jobs runs periodic background work on cron schedules and keeps
// the outcome of each job's latest run.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job already running")
)

// Func is one unit of background work. It reports how many items it handled.
type Func func(ctx context.Context) (int, error)

// Run describes the latest execution of a job.
type Run struct {
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
	Processed int       `json:"processed"`
	Error     string    `json:"error,omitempty"`
}

// Status is a registered job with its schedule and latest run.
type Status struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	NextRun time.Time `json:"nextRun"`
	LastRun *Run      `json:"lastRun,omitempty"`
}

type job struct {
	name    string
	spec    string
	fn      Func
	entryID cron.EntryID
	running atomic.Bool
	mu      sync.Mutex
	last    *Run
}

// Scheduler wraps a cron runner. A job never runs twice at once in the same
// process, whether triggered by cron or by hand, and panics are logged
// rather than crashing the process.
type Scheduler struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time

	mu   sync.RWMutex
	jobs map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler evaluating specs in loc. Each run gets a
// context bounded by timeout.
func NewScheduler(logger zerolog.Logger, loc *time.Location, timeout time.Duration) *Scheduler {
	logger = logger.With().Str("component", "jobs").Logger()
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
		jobs:    make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers fn under name on a standard five-field cron spec.
func (s *Scheduler) Add(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}

	j := &job{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() {
		if _, err := s.execute(s.ctx, j); err != nil {
			s.logger.Info().Str("job", name).Msg("previous run still in progress, skipped")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	j.entryID = id
	s.jobs[name] = j
	return nil
}

// RunNow executes a registered job immediately in the caller's goroutine. It
// fails with ErrJobRunning while a run of the same job is in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*Run, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, j)
}

func (s *Scheduler) execute(parent context.Context, j *job) (*Run, error) {
	if !j.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, j.name)
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := s.now()
	n, err := j.fn(ctx)
	run := &Run{StartedAt: start.UTC(), Duration: time.Since(start).String(), Processed: n}

	evt := s.logger.Info()
	if err != nil {
		run.Error = err.Error()
		evt = s.logger.Error().Err(err)
	}
	evt.Str("job", j.name).Int("processed", n).Str("duration", run.Duration).Msg("job finished")

	j.mu.Lock()
	j.last = run
	j.mu.Unlock()
	return run, nil
}

// Statuses lists the registered jobs sorted by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := Status{Name: j.name, Spec: j.spec, NextRun: s.cron.Entry(j.entryID).Next}
		j.mu.Lock()
		if j.last != nil {
			last := *j.last
			st.LastRun = &last
		}
		j.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop prevents new runs, cancels running ones and waits for them to return
// or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterRoutes exposes job status and manual triggering on an admin group.
func (s *Scheduler) RegisterRoutes(g *echo.Group) {
	g.GET("/jobs", func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.Statuses())
	})
	g.POST("/jobs/:name/run", func(c echo.Context) error {
		run, err := s.RunNow(c.Request().Context(), c.Param("name"))
		if errors.Is(err, ErrJobRunning) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return c.JSON(http.StatusOK, run)
	})
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Package task schedules periodic re-ingestion in the background.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/ingest/batch"
	"github.com/otherjamesbrown/council-search/pkg/logging"
)

// Default schedule.
const (
	DefaultFullInterval = 7 * 24 * time.Hour
	DefaultNewInterval  = 24 * time.Hour
)

// Runner runs an ingestion pass over every configured authority and reports
// the progress of the latest pass per authority.
type Runner interface {
	Run(ctx context.Context, mode batch.Mode) ([]*batch.AuthorityResult, error)
	Progress() []batch.ProgressSnapshot
}

// Config configures the schedule.
type Config struct {
	// FullInterval is the period of "all" passes.
	FullInterval time.Duration
	// NewInterval is the period of "new" passes.
	NewInterval time.Duration
}

func (c *Config) defaults() {
	if c.FullInterval <= 0 {
		c.FullInterval = DefaultFullInterval
	}
	if c.NewInterval <= 0 {
		c.NewInterval = DefaultNewInterval
	}
}

// Status reports the state of the task.
type Status struct {
	Scheduled bool      `json:"scheduled" yaml:"scheduled"`
	Running   bool      `json:"running" yaml:"running"`
	LastRun   time.Time `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	LastMode  string    `json:"last_mode,omitempty" yaml:"last_mode,omitempty"`
	LastError string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Runs      int       `json:"runs" yaml:"runs"`
	Failures  int       `json:"failures" yaml:"failures"`

	Authorities []batch.ProgressSnapshot `json:"authorities" yaml:"authorities"`
}

// Reingest runs "all" and "new" passes on fixed intervals and accepts
// fire-and-forget triggers.
type Reingest struct {
	runner Runner
	cfg    Config
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	scheduled bool
	stopped   bool
	active    int
	status    Status
}

// New creates a Reingest task. Nothing runs until Start or Trigger.
func New(runner Runner, cfg Config, logger logging.Logger) *Reingest {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Reingest{
		runner: runner,
		cfg:    cfg,
		logger: logger.With(logging.F("component", "reingest_task")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the periodic schedule. It stops when ctx is cancelled or Stop
// is called.
func (r *Reingest) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("reingest task stopped: %w", cserrors.ErrInvalidState)
	}
	if r.scheduled {
		return fmt.Errorf("reingest task already started: %w", cserrors.ErrConflict)
	}
	r.scheduled = true

	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info("Reingest schedule started",
		logging.F("full_interval", r.cfg.FullInterval.String()),
		logging.F("new_interval", r.cfg.NewInterval.String()))
	return nil
}

func (r *Reingest) loop(parent context.Context) {
	defer r.wg.Done()

	full := time.NewTicker(r.cfg.FullInterval)
	defer full.Stop()
	fresh := time.NewTicker(r.cfg.NewInterval)
	defer fresh.Stop()

	defer func() {
		r.mu.Lock()
		r.scheduled = false
		r.mu.Unlock()
	}()

	for {
		select {
		case <-parent.Done():
			return
		case <-r.ctx.Done():
			return
		case <-full.C:
			r.run(parent, batch.ModeAll)
		case <-fresh.C:
			r.run(parent, batch.ModeNew)
		}
	}
}

// Trigger starts a pass in the background and returns immediately.
func (r *Reingest) Trigger(mode string) error {
	m, err := batch.ParseMode(mode)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("reingest task stopped: %w", cserrors.ErrInvalidState)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(context.Background(), m)
	}()
	return nil
}

// run executes one pass, bound to both parent and the task lifetime.
func (r *Reingest) run(parent context.Context, mode batch.Mode) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	r.mu.Lock()
	r.active++
	r.mu.Unlock()

	r.logger.Info("Reingest pass starting", logging.F("mode", string(mode)))
	started := time.Now()
	results, err := r.runner.Run(ctx, mode)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
	r.status.Runs++
	r.status.LastRun = started
	r.status.LastMode = string(mode)
	r.status.LastError = ""
	if err != nil {
		r.status.Failures++
		r.status.LastError = err.Error()
		r.logger.Error("Reingest pass failed", logging.Err(err), logging.F("mode", string(mode)))
		return
	}
	r.logger.Info("Reingest pass finished",
		logging.F("mode", string(mode)),
		logging.F("authorities", len(results)),
		logging.F("duration", time.Since(started).String()))
}

// Stop cancels the schedule and any running passes and waits for them to
// return. A stopped task cannot be restarted.
func (r *Reingest) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

// Status returns the current state.
func (r *Reingest) Status() Status {
	r.mu.Lock()
	s := r.status
	s.Scheduled = r.scheduled
	s.Running = r.active > 0
	r.mu.Unlock()

	s.Authorities = r.runner.Progress()
	return s
}

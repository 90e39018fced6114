// Package sched runs deferred and recurring prompt injections. A task
// fires by handing its prompt back to the bot, which treats it like an
// inbound instruction for the target channel.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xsota/meowgent/internal/config"
)

// TaskFunc executes a fired task.
type TaskFunc func(ctx context.Context, channelID, prompt string) error

// Task is a scheduled prompt injection.
type Task struct {
	ID        string
	ChannelID string
	Prompt    string
	Schedule  Schedule
	Enabled   bool
	NextRun   time.Time
	LastRun   time.Time
	LastError string
}

// Scheduler polls for due tasks on a fixed tick. One failing task never
// stops the others.
type Scheduler struct {
	run          TaskFunc
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	tasks   map[string]*Task
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "sched")
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the polling interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// New creates a scheduler that executes fired tasks with run.
func New(run TaskFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		run:          run,
		logger:       slog.Default().With("component", "sched"),
		now:          time.Now,
		tickInterval: time.Second,
		tasks:        make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a recurring job from configuration.
func (s *Scheduler) AddJob(cfg config.CronJobConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("job id required")
	}
	if !cfg.Enabled {
		return fmt.Errorf("job %s disabled", cfg.ID)
	}
	if strings.TrimSpace(cfg.Channel) == "" || strings.TrimSpace(cfg.Prompt) == "" {
		return fmt.Errorf("job %s missing channel or prompt", cfg.ID)
	}

	schedule, err := Parse(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", cfg.ID, err)
	}
	now := s.now()
	next, ok, err := schedule.Next(now)
	if err != nil {
		return fmt.Errorf("job %s: %w", cfg.ID, err)
	}
	if !ok {
		return fmt.Errorf("job %s has no future run", cfg.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[cfg.ID] = &Task{
		ID:        cfg.ID,
		ChannelID: cfg.Channel,
		Prompt:    cfg.Prompt,
		Schedule:  schedule,
		Enabled:   true,
		NextRun:   next,
	}
	return nil
}

// Defer registers a one-shot task firing after delay and returns its ID.
func (s *Scheduler) Defer(channelID, prompt string, delay time.Duration) string {
	if delay < 0 {
		delay = 0
	}
	runAt := s.now().Add(delay)
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = &Task{
		ID:        id,
		ChannelID: channelID,
		Prompt:    prompt,
		Schedule:  Once(runAt),
		Enabled:   true,
		NextRun:   runAt,
	}

	s.logger.Info("task deferred",
		"task_id", id, "channel_id", channelID, "run_at", runAt)
	return id
}

// Cancel removes a pending task by ID.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// Start begins the polling loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the polling loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes due tasks immediately and returns the count fired.
// Primarily for tests.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

// Tasks returns a snapshot of pending and recurring tasks.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*Task
	for _, t := range s.tasks {
		if t.Enabled && !t.NextRun.IsZero() && !now.Before(t.NextRun) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	// Tasks sharing a tick fire in expiry order.
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRun.Before(due[j].NextRun)
	})

	count := 0
	for _, task := range due {
		err := s.execute(ctx, task)
		if err != nil {
			s.logger.Warn("task failed",
				"task_id", task.ID, "channel_id", task.ChannelID, "error", err)
		}

		next, ok, nextErr := task.Schedule.Next(now)

		s.mu.Lock()
		task.LastRun = now
		if err != nil {
			task.LastError = err.Error()
		} else {
			task.LastError = ""
		}
		switch {
		case nextErr != nil:
			task.LastError = nextErr.Error()
			task.Enabled = false
		case ok:
			task.NextRun = next
		default:
			// One-shot task done; drop it.
			delete(s.tasks, task.ID)
		}
		s.mu.Unlock()
		count++
	}
	return count
}

// execute runs one task with panic isolation.
func (s *Scheduler) execute(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return s.run(ctx, task.ChannelID, task.Prompt)
}

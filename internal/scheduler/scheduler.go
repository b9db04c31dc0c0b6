// Package scheduler runs restaurante's periodic jobs (reminder ticks and the
// idle-session sweep) on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron

	mu  sync.Mutex
	ids map[string]cron.EntryID
}

// Option customises a Scheduler.
type Option func(*config)

type config struct {
	loc *time.Location
}

// WithLocation evaluates cron expressions in loc instead of the local zone.
func WithLocation(loc *time.Location) Option {
	return func(c *config) { c.loc = loc }
}

// NewScheduler creates and starts a cron scheduler. Panicking jobs are recovered
// and a job still running when its next activation arrives is skipped.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := config{loc: time.Local}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Standard 5-field parser (min, hour, dom, month, dow) plus descriptors such as @hourly.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := slogLogger{}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Start()
	return &Scheduler{cron: c, ids: make(map[string]cron.EntryID)}
}

// AddJob schedules a named task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", expr, name, err)
	}
	s.mu.Lock()
	s.ids[name] = id
	s.mu.Unlock()
	slog.Info("Scheduler.AddJob: job scheduled", "job", name, "expr", expr, "next", s.cron.Entry(id).Next)
	return nil
}

// RunNow starts the named job immediately in the background. The run shares
// the job's recover and skip-if-running wrappers, so it never overlaps a
// scheduled activation.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.ids[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no job named %s", name)
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return fmt.Errorf("job %s is no longer scheduled", name)
	}
	slog.Debug("Scheduler.RunNow: running job", "job", name)
	go entry.WrappedJob.Run()
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// slogLogger adapts slog to cron.Logger.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("Scheduler: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("Scheduler: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

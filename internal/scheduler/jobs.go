package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/smartpymes/restaurante/internal/reminder"
)

// SessionSweepSchedule runs the idle-session sweep once an hour.
const SessionSweepSchedule = "@hourly"

// DedupPurgeSchedule forgets old inbound message ids once a day.
const DedupPurgeSchedule = "@daily"

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 2 * time.Minute

// ReminderRunner is satisfied by *reminder.Dispatcher.
type ReminderRunner interface {
	RunTick(ctx context.Context) (reminder.TickResult, error)
}

// SessionSweeper removes sessions idle since a cutoff.
type SessionSweeper interface {
	DeleteSessionsIdleSince(cutoff time.Time) (int64, error)
}

// DedupPurger removes inbound message ids received before a cutoff.
type DedupPurger interface {
	PurgeInboundBefore(cutoff time.Time) (int64, error)
}

// ReminderJob returns a task that runs one reminder tick under parent.
func ReminderJob(parent context.Context, r ReminderRunner) func() {
	return func() {
		ctx, cancel := context.WithTimeout(parent, DefaultJobTimeout)
		defer cancel()
		if _, err := r.RunTick(ctx); err != nil {
			slog.Error("Scheduler.ReminderJob: tick failed", "error", err)
		}
	}
}

// SessionSweepJob returns a task deleting sessions idle longer than ttl.
// It does nothing when ttl is zero.
func SessionSweepJob(sweeper SessionSweeper, ttl time.Duration, now func() time.Time) func() {
	return func() {
		if ttl <= 0 {
			return
		}
		n, err := sweeper.DeleteSessionsIdleSince(now().Add(-ttl))
		if err != nil {
			slog.Error("Scheduler.SessionSweepJob: sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Scheduler.SessionSweepJob: expired idle sessions", "count", n)
		}
	}
}

// DedupPurgeJob returns a task forgetting inbound message ids older than retention.
func DedupPurgeJob(purger DedupPurger, retention time.Duration, now func() time.Time) func() {
	return func() {
		n, err := purger.PurgeInboundBefore(now().Add(-retention))
		if err != nil {
			slog.Error("Scheduler.DedupPurgeJob: purge failed", "error", err)
			return
		}
		slog.Debug("Scheduler.DedupPurgeJob: purged inbound message ids", "count", n)
	}
}

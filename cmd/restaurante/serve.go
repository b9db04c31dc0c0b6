package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartpymes/restaurante/internal/api"
	"github.com/smartpymes/restaurante/internal/availability"
	"github.com/smartpymes/restaurante/internal/calendar"
	"github.com/smartpymes/restaurante/internal/config"
	"github.com/smartpymes/restaurante/internal/flow"
	"github.com/smartpymes/restaurante/internal/lockfile"
	"github.com/smartpymes/restaurante/internal/messaging"
	"github.com/smartpymes/restaurante/internal/reminder"
	"github.com/smartpymes/restaurante/internal/scheduler"
	"github.com/smartpymes/restaurante/internal/store"
	"github.com/smartpymes/restaurante/internal/timenorm"
)

// shutdownTimeout bounds the wait for running cron jobs on exit.
const shutdownTimeout = 30 * time.Second

func newServeCmd(f *processFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, OAuth endpoints and reminder scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg, f)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, f *processFlags) error {
	b, p := cfg.Business, cfg.Process
	slog.Info("serve: bootstrapping restaurante", "restaurant", b.RestaurantName(), "timezone", b.Location().String())

	lock, err := lockfile.AcquireLock(p.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(p.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sessions, closeSessions, err := openSessions(ctx, p, b, st)
	if err != nil {
		return err
	}
	defer closeSessions()

	google, err := calendar.NewGoogle(calendar.GoogleConfig{
		ClientID:     p.GoogleClientID,
		ClientSecret: p.GoogleClientSecret,
		RedirectURL:  p.GoogleRedirectURL,
		CalendarID:   p.CalendarID,
		TimeZone:     b.Location().String(),
	}, st, calendar.NewStateSigner([]byte(p.StateSigningKey)))
	if err != nil {
		return fmt.Errorf("failed to configure Google Calendar: %w", err)
	}

	svc, webhook, err := openMessaging(ctx, p, f, st)
	if err != nil {
		return err
	}

	norm := timenorm.New(b)
	bookingFlow, err := flow.NewBookingFlow(flow.Dependencies{
		Business:   b,
		Normalizer: norm,
		Resolver:   availability.NewResolver(b, norm, google),
		Calendar:   google,
		Sessions:   sessions,
		Bookings:   st,
		Sender:     svc,
	})
	if err != nil {
		svc.Stop()
		return fmt.Errorf("failed to build booking flow: %w", err)
	}

	handler := messaging.NewResponseHandler(svc, bookingFlow, messaging.WithProcessedMarker(st))
	if err := svc.Start(ctx); err != nil {
		svc.Stop()
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	handler.Start(ctx)

	sched := scheduler.NewScheduler(scheduler.WithLocation(b.Location()))
	dispatcher := reminder.NewDispatcher(b, norm, st, svc)
	if err := sched.AddJob("reminders", b.ReminderCron(), scheduler.ReminderJob(ctx, dispatcher)); err != nil {
		shutdown(sched, svc, handler)
		return err
	}
	// Reminders that fell due while the process was down go out now.
	if err := sched.RunNow("reminders"); err != nil {
		slog.Warn("serve: failed to start catch-up reminder run", "error", err)
	}
	if err := sched.AddJob("session-sweep", scheduler.SessionSweepSchedule, scheduler.SessionSweepJob(sessions, b.SessionIdleTTL(), time.Now)); err != nil {
		shutdown(sched, svc, handler)
		return err
	}

	if err := sched.AddJob("dedup-purge", scheduler.DedupPurgeSchedule, scheduler.DedupPurgeJob(st, store.DedupRetention, time.Now)); err != nil {
		shutdown(sched, svc, handler)
		return err
	}

	apiOpts := []api.Option{
		api.WithAddr(p.APIAddr),
		api.WithAuthorizer(google),
		api.WithWebhookRate(p.WebhookRate),
	}
	if webhook != nil {
		apiOpts = append(apiOpts, api.WithWebhook(webhook))
	}
	runErr := api.NewServer(apiOpts...).Run(ctx)

	shutdown(sched, svc, handler)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("serve: restaurante exited successfully")
	return nil
}

// shutdown stops the scheduler first so no reminder tick sends through a
// stopped service, then drains in-flight messages.
func shutdown(sched *scheduler.Scheduler, svc messaging.Service, handler *messaging.ResponseHandler) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(ctx); err != nil {
		slog.Warn("serve: scheduler did not stop in time", "error", err)
	}
	if err := svc.Stop(); err != nil {
		slog.Warn("serve: failed to stop messaging service", "error", err)
	}
	handler.Wait()
}

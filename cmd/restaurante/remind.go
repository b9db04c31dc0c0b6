package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smartpymes/restaurante/internal/config"
	"github.com/smartpymes/restaurante/internal/lockfile"
	"github.com/smartpymes/restaurante/internal/reminder"
	"github.com/smartpymes/restaurante/internal/scheduler"
	"github.com/smartpymes/restaurante/internal/store"
	"github.com/smartpymes/restaurante/internal/timenorm"
)

func newRemindCmd(f *processFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Send due reminders once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			res, err := remindOnce(ctx, cfg, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "due=%d sent=%d failed=%d\n", res.Due, res.Sent, res.Failed)
			return nil
		},
	}
}

func remindOnce(ctx context.Context, cfg config.Config, f *processFlags) (reminder.TickResult, error) {
	b, p := cfg.Business, cfg.Process

	lock, err := lockfile.AcquireLock(p.StateDir)
	if err != nil {
		return reminder.TickResult{}, err
	}
	defer lock.Release()

	st, err := store.Open(p.DBDSN)
	if err != nil {
		return reminder.TickResult{}, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	svc, _, err := openMessaging(ctx, p, f, st)
	if err != nil {
		return reminder.TickResult{}, err
	}
	defer svc.Stop()

	ctx, cancel := context.WithTimeout(ctx, scheduler.DefaultJobTimeout)
	defer cancel()
	res, err := reminder.NewDispatcher(b, timenorm.New(b), st, svc).RunTick(ctx)
	if err != nil {
		return res, err
	}
	slog.Info("remindOnce: reminder run complete", "due", res.Due, "sent", res.Sent, "failed", res.Failed)
	return res, nil
}

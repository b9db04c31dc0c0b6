// Package reminder sends one reminder per upcoming booking that enters the
// configured lead window.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smartpymes/restaurante/internal/config"
	"github.com/smartpymes/restaurante/internal/models"
	"github.com/smartpymes/restaurante/internal/store"
	"github.com/smartpymes/restaurante/internal/timenorm"
)

// BookingStore is the booking persistence the dispatcher needs.
type BookingStore interface {
	ListDueReminders(from, to time.Time) ([]models.Booking, error)
	MarkReminded(id int64) error
}

// Sender delivers a text message to a contact.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// TickResult summarises one RunTick.
type TickResult struct {
	Due    int
	Sent   int
	Failed int
}

// Dispatcher finds due bookings and reminds their contacts.
type Dispatcher struct {
	business config.Business
	norm     *timenorm.Normalizer
	bookings BookingStore
	sender   Sender
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(b config.Business, norm *timenorm.Normalizer, bookings BookingStore, sender Sender) *Dispatcher {
	return &Dispatcher{
		business: b,
		norm:     norm,
		bookings: bookings,
		sender:   sender,
	}
}

// RunTick reminds every unreminded booking starting within [now, now+lead).
// A booking whose send fails stays unmarked and is retried on the next tick.
func (d *Dispatcher) RunTick(ctx context.Context) (TickResult, error) {
	now := d.norm.Now()
	due, err := d.bookings.ListDueReminders(now, now.Add(d.business.ReminderLead()))
	if err != nil {
		slog.Error("Dispatcher.RunTick: failed to list due reminders", "error", err)
		return TickResult{}, fmt.Errorf("failed to list due reminders: %w", err)
	}

	result := TickResult{Due: len(due)}
	for _, b := range due {
		if err := ctx.Err(); err != nil {
			slog.Warn("Dispatcher.RunTick: stopped early", "error", err, "remaining", len(due)-result.Sent-result.Failed)
			return result, err
		}
		if err := d.sender.SendMessage(ctx, b.Contact, d.message(b)); err != nil {
			result.Failed++
			slog.Error("Dispatcher.RunTick: reminder send failed", "error", err, "bookingID", b.ID, "contact", b.Contact)
			continue
		}
		result.Sent++

		if err := d.bookings.MarkReminded(b.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				slog.Debug("Dispatcher.RunTick: booking gone before mark", "bookingID", b.ID)
				continue
			}
			slog.Error("Dispatcher.RunTick: failed to mark reminded", "error", err, "bookingID", b.ID)
		}
	}

	if result.Due > 0 {
		slog.Info("Dispatcher.RunTick: tick complete", "due", result.Due, "sent", result.Sent, "failed", result.Failed)
	} else {
		slog.Debug("Dispatcher.RunTick: nothing due")
	}
	return result, nil
}

func (d *Dispatcher) message(b models.Booking) string {
	return fmt.Sprintf("⏰ Recordatorio: hoy a las %s en %s. Reserva #%d",
		d.norm.Format(b.Start, timenorm.StyleHour), d.business.RestaurantName(), b.ID)
}

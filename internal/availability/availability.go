// Package availability decides whether a candidate reservation slot can be booked.
//
// Checks run in a fixed order: blackout dates, then opening hours, then the external
// calendar's busy intervals. The local checks short-circuit before any network call.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smartpymes/restaurante/internal/config"
	"github.com/smartpymes/restaurante/internal/timenorm"
)

// Reason classifies a rejection.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonDateUnavailable Reason = "date unavailable"
	ReasonNonBusinessDay  Reason = "non-business day"
	ReasonOutsideHours    Reason = "outside business hours"
	ReasonSlotBooked      Reason = "slot already booked"
)

// Interval is a busy period reported by the calendar.
type Interval struct {
	Start time.Time
	End   time.Time
}

// BusyChecker reports busy intervals overlapping [start, end).
type BusyChecker interface {
	QueryBusy(ctx context.Context, start, end time.Time) ([]Interval, error)
}

// Decision is the verdict for one candidate slot.
type Decision struct {
	Accepted bool
	Reason   Reason
	// Window is the opening window of the day, set for ReasonOutsideHours.
	Window config.Window
	// End is the resolved end instant, set when Accepted.
	End time.Time
}

// Message renders the decision for the customer.
func (d Decision) Message() string {
	switch d.Reason {
	case ReasonDateUnavailable:
		return "📅 Esa fecha no está disponible. Elige otra fecha."
	case ReasonNonBusinessDay:
		return "🚫 Ese día no abrimos. Elige otra fecha."
	case ReasonOutsideHours:
		return fmt.Sprintf("🕑 Fuera del horario de atención (%s). Envía otra hora.", d.Window)
	case ReasonSlotBooked:
		return "⛔ Ya hay una reserva en ese horario. Prueba otra hora."
	default:
		return ""
	}
}

// Resolver evaluates candidate slots against business rules and the calendar.
type Resolver struct {
	business config.Business
	norm     *timenorm.Normalizer
	busy     BusyChecker
}

// NewResolver builds a Resolver.
func NewResolver(b config.Business, norm *timenorm.Normalizer, busy BusyChecker) *Resolver {
	return &Resolver{business: b, norm: norm, busy: busy}
}

// Resolve decides whether [start, start+durationMinutes) can be booked.
// An error is returned only when the busy query itself fails.
func (r *Resolver) Resolve(ctx context.Context, start time.Time, durationMinutes int) (Decision, error) {
	date, clock := r.norm.WallClock(start)

	if r.business.IsBlackout(date) {
		slog.Debug("Resolver.Resolve: blackout date", "date", date.String())
		return Decision{Reason: ReasonDateUnavailable}, nil
	}

	weekday := start.In(r.norm.Location()).Weekday()
	window, ok := r.business.OpeningWindow(weekday)
	if !ok {
		slog.Debug("Resolver.Resolve: closed weekday", "weekday", weekday.String())
		return Decision{Reason: ReasonNonBusinessDay}, nil
	}
	if !window.Contains(clock.FractionalHour()) {
		slog.Debug("Resolver.Resolve: outside opening hours", "clock", clock.String(), "window", window.String())
		return Decision{Reason: ReasonOutsideHours, Window: window}, nil
	}

	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	busy, err := r.busy.QueryBusy(ctx, start, end)
	if err != nil {
		slog.Error("Resolver.Resolve: busy query failed", "error", err, "start", start, "end", end)
		return Decision{}, fmt.Errorf("failed to query busy intervals: %w", err)
	}
	if len(busy) > 0 {
		slog.Debug("Resolver.Resolve: slot overlaps busy interval", "start", start, "busy_count", len(busy))
		return Decision{Reason: ReasonSlotBooked}, nil
	}

	return Decision{Accepted: true, End: end}, nil
}

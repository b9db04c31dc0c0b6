// Package flow implements the booking conversation: command routing, the per-contact
// dialogue state machine and cancellation.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/smartpymes/restaurante/internal/availability"
	"github.com/smartpymes/restaurante/internal/calendar"
	"github.com/smartpymes/restaurante/internal/config"
	"github.com/smartpymes/restaurante/internal/models"
	"github.com/smartpymes/restaurante/internal/store"
	"github.com/smartpymes/restaurante/internal/timenorm"
)

// UpcomingListLimit caps the bookings shown by the list command.
const UpcomingListLimit = 3

var leadingDigits = regexp.MustCompile(`^\d+`)

// Calendar is the external calendar capability.
type Calendar interface {
	IsAuthorized(ctx context.Context) bool
	AuthURL() (string, error)
	CreateEvent(ctx context.Context, ev calendar.Event) (string, error)
	// DeleteEvent treats an already removed event as success.
	DeleteEvent(ctx context.Context, eventID string) error
}

// SlotResolver decides whether a slot can be booked.
type SlotResolver interface {
	Resolve(ctx context.Context, start time.Time, durationMinutes int) (availability.Decision, error)
}

// Sender delivers a text message to a contact.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// BookingStore is the booking persistence the flow needs.
type BookingStore interface {
	AddBooking(b models.Booking) (int64, error)
	ListUpcomingBookings(contact string, from time.Time, limit int) ([]models.Booking, error)
	DeleteBooking(id int64) error
}

// Dependencies holds everything BookingFlow needs.
type Dependencies struct {
	Business   config.Business
	Normalizer *timenorm.Normalizer
	Resolver   SlotResolver
	Calendar   Calendar
	Sessions   SessionStore
	Bookings   BookingStore
	Sender     Sender
}

// BookingFlow handles inbound messages for all contacts.
type BookingFlow struct {
	business config.Business
	norm     *timenorm.Normalizer
	resolver SlotResolver
	calendar Calendar
	sessions *SessionManager
	bookings BookingStore
	sender   Sender
}

// NewBookingFlow validates deps and builds a BookingFlow.
func NewBookingFlow(deps Dependencies) (*BookingFlow, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, fmt.Errorf("normalizer is required")
	case deps.Resolver == nil:
		return nil, fmt.Errorf("resolver is required")
	case deps.Calendar == nil:
		return nil, fmt.Errorf("calendar is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session store is required")
	case deps.Bookings == nil:
		return nil, fmt.Errorf("booking store is required")
	case deps.Sender == nil:
		return nil, fmt.Errorf("sender is required")
	}
	return &BookingFlow{
		business: deps.Business,
		norm:     deps.Normalizer,
		resolver: deps.Resolver,
		calendar: deps.Calendar,
		sessions: NewSessionManager(deps.Sessions, deps.Business.SessionIdleTTL(), deps.Normalizer.Now),
		bookings: deps.Bookings,
		sender:   deps.Sender,
	}, nil
}

// HandleInboundMessage processes one message from contact. It never panics and
// sends at most one reply. An empty text stands for a message without text.
func (f *BookingFlow) HandleInboundMessage(ctx context.Context, contact, text string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("BookingFlow.HandleInboundMessage: panic while sending", "contact", contact, "panic", r)
		}
	}()

	reply := f.reply(ctx, contact, text)
	if reply == "" {
		return
	}
	if err := f.sender.SendMessage(ctx, contact, reply); err != nil {
		slog.Error("BookingFlow.HandleInboundMessage: send failed", "error", err, "contact", contact)
	}
}

// reply computes the single response for a message. Panics become a retry-later reply.
func (f *BookingFlow) reply(ctx context.Context, contact, text string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("BookingFlow.reply: recovered panic", "contact", contact, "panic", r, "stack", string(debug.Stack()))
			out = msgUnavailable
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		return msgTextOnly
	}
	if f.business.ServiceEnded(f.norm.Today()) {
		slog.Debug("BookingFlow.reply: service ended", "contact", contact)
		return msgServiceEnded
	}

	// Global commands never read the stage, so a broken session cannot block them.
	cmd := Classify(text)
	slog.Debug("BookingFlow.reply: classified", "contact", contact, "command", cmd.Kind.String())

	switch cmd.Kind {
	case CommandReset:
		if err := f.sessions.Reset(contact); err != nil {
			return msgUnavailable
		}
		return msgReset(f.business.RestaurantName())
	case CommandHelp:
		return msgHelp
	case CommandHours:
		return msgHours(f.business.OpeningWindows())
	case CommandAuthorize:
		url, err := f.calendar.AuthURL()
		if err != nil {
			slog.Error("BookingFlow.reply: auth url failed", "error", err)
			return msgUnavailable
		}
		return msgAuthorize(url)
	case CommandListBookings:
		return f.listBookings(contact)
	case CommandCancel:
		return f.cancelBooking(ctx, contact, cmd)
	}

	stage, err := f.sessions.Load(contact)
	if err != nil {
		return msgUnavailable
	}
	if _, idle := stage.(Idle); idle && cmd.Kind == CommandStartBooking {
		if err := f.sessions.Save(contact, AwaitingName{}); err != nil {
			return msgUnavailable
		}
		return msgAskName
	}
	return f.handleStep(ctx, contact, stage, text)
}

func (f *BookingFlow) handleStep(ctx context.Context, contact string, stage Stage, text string) string {
	switch s := stage.(type) {
	case Idle:
		if strings.Contains(timenorm.Fold(text), "reserv") {
			return msgStartHint
		}
		slog.Debug("BookingFlow.handleStep: ignoring idle text", "contact", contact)
		return ""

	case AwaitingName:
		next := AwaitingParty{Name: truncateRunes(text, f.business.MaxNameLength())}
		if err := f.sessions.Save(contact, next); err != nil {
			return msgUnavailable
		}
		return msgAskParty(f.business.MaxPartySize())

	case AwaitingParty:
		party, ok := parseParty(text, f.business.MaxPartySize())
		if !ok {
			return msgInvalidParty(f.business.MaxPartySize())
		}
		if err := f.sessions.Save(contact, AwaitingDate{Name: s.Name, Party: party}); err != nil {
			return msgUnavailable
		}
		return msgAskDate

	case AwaitingDate:
		date, ok := f.norm.ParseDate(text)
		if !ok {
			return msgInvalidDate
		}
		today := f.norm.Today()
		if date.Before(today) {
			return msgDatePast
		}
		if date.After(today.AddDays(f.business.MaxAdvanceDays())) {
			return msgTooFarAhead(f.business.MaxAdvanceDays())
		}
		if err := f.sessions.Save(contact, AwaitingTime{Name: s.Name, Party: s.Party, Date: date}); err != nil {
			return msgUnavailable
		}
		return msgAskTime

	case AwaitingTime:
		return f.completeBooking(ctx, contact, s, text)
	}
	return ""
}

func (f *BookingFlow) completeBooking(ctx context.Context, contact string, s AwaitingTime, text string) string {
	clock, ok := timenorm.ParseClockTime(text)
	if !ok {
		return msgInvalidTime
	}
	start := f.norm.ToInstant(s.Date, clock)
	if !start.After(f.norm.Now()) {
		return msgTimePassed
	}

	if !f.calendar.IsAuthorized(ctx) {
		url, err := f.calendar.AuthURL()
		if err != nil {
			slog.Error("BookingFlow.completeBooking: auth url failed", "error", err)
			return msgUnavailable
		}
		return msgAuthorizeFirst(url)
	}

	decision, err := f.resolver.Resolve(ctx, start, f.business.DurationMinutes())
	if err != nil {
		slog.Error("BookingFlow.completeBooking: availability check failed", "error", err, "contact", contact)
		return msgRetryLater
	}
	if !decision.Accepted {
		slog.Info("BookingFlow.completeBooking: slot rejected", "contact", contact, "reason", string(decision.Reason), "start", start)
		return decision.Message()
	}

	eventID, err := f.calendar.CreateEvent(ctx, calendar.Event{
		Summary:     eventSummary(s.Party, s.Name),
		Description: eventDescription(s.Name, s.Party, contact),
		Start:       start,
		End:         decision.End,
		TimeZone:    f.norm.Location().String(),
	})
	if err != nil {
		slog.Error("BookingFlow.completeBooking: event creation failed", "error", err, "contact", contact)
		return msgRetryLater
	}

	id, err := f.bookings.AddBooking(models.Booking{
		Contact:   contact,
		Name:      s.Name,
		Service:   serviceLabel(s.Party),
		PartySize: s.Party,
		Start:     start,
		End:       decision.End,
		EventID:   eventID,
		CreatedAt: f.norm.Now(),
	})
	if err != nil {
		slog.Error("BookingFlow.completeBooking: booking insert failed, removing event", "error", err, "contact", contact, "eventID", eventID)
		if delErr := f.calendar.DeleteEvent(ctx, eventID); delErr != nil {
			slog.Error("BookingFlow.completeBooking: orphan event not removed", "error", delErr, "eventID", eventID)
		}
		return msgRetryLater
	}

	if err := f.sessions.Reset(contact); err != nil {
		slog.Warn("BookingFlow.completeBooking: booking saved but session not cleared", "error", err, "contact", contact)
	}
	slog.Info("BookingFlow.completeBooking: booking confirmed", "bookingID", id, "contact", contact, "start", start, "party", s.Party)
	return msgConfirmed(f.norm.Format(start, timenorm.StyleLong), s.Party, f.business.RestaurantName(), id)
}

func (f *BookingFlow) listBookings(contact string) string {
	items, err := f.bookings.ListUpcomingBookings(contact, f.norm.Now(), UpcomingListLimit)
	if err != nil {
		slog.Error("BookingFlow.listBookings: query failed", "error", err, "contact", contact)
		return msgUnavailable
	}
	if len(items) == 0 {
		return msgNoBookings
	}
	return msgBookingList(items, f.formatLong)
}

func (f *BookingFlow) cancelBooking(ctx context.Context, contact string, cmd Command) string {
	limit := 1
	if cmd.HasID {
		limit = 0
	}
	items, err := f.bookings.ListUpcomingBookings(contact, f.norm.Now(), limit)
	if err != nil {
		slog.Error("BookingFlow.cancelBooking: query failed", "error", err, "contact", contact)
		return msgCancelFailed
	}

	var target *models.Booking
	for i := range items {
		if !cmd.HasID || items[i].ID == cmd.BookingID {
			target = &items[i]
			break
		}
	}
	if target == nil {
		return msgNothingToCancel
	}

	if err := f.calendar.DeleteEvent(ctx, target.EventID); err != nil {
		slog.Error("BookingFlow.cancelBooking: event delete failed", "error", err, "bookingID", target.ID)
		return msgCancelFailed
	}
	if err := f.bookings.DeleteBooking(target.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return msgNothingToCancel
		}
		slog.Error("BookingFlow.cancelBooking: booking delete failed", "error", err, "bookingID", target.ID)
		return msgCancelFailed
	}
	slog.Info("BookingFlow.cancelBooking: booking cancelled", "bookingID", target.ID, "contact", contact)
	return msgCancelled(f.formatLong(target.Start))
}

func (f *BookingFlow) formatLong(t time.Time) string {
	return f.norm.Format(t, timenorm.StyleLong)
}

func parseParty(text string, max int) (int, bool) {
	digits := leadingDigits.FindString(strings.TrimSpace(text))
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 || n > max {
		return 0, false
	}
	return n, true
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}

// Package config holds the immutable business and process configuration for restaurante.
//
// A Business value is built once at startup (or per test) and handed by value to every
// component that needs the timezone, opening hours, blackout dates or booking limits.
// Its maps are unexported and only reachable through read accessors.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Business defaults.
const (
	DefaultTimezone       = "America/Bogota"
	DefaultRestaurantName = "nuestro restaurante"
	DefaultDurationMin    = 90
	DefaultMaxAdvanceDays = 120
	DefaultMaxPartySize   = 10
	DefaultMaxNameLength  = 60
	DefaultReminderLead   = 2 * time.Hour
	DefaultReminderCron   = "*/5 * * * *"
	DefaultSessionIdleTTL = 24 * time.Hour
	DefaultOpeningHours   = `{"mon":[12,22],"tue":[12,22],"wed":[12,22],"thu":[12,22],"fri":[12,23],"sat":[12,23]}`
)

// Window is an opening window [Open, Close) in fractional local hours.
type Window struct {
	Open  float64
	Close float64
}

// Contains reports whether the fractional hour-of-day falls inside the window.
func (w Window) Contains(hour float64) bool {
	return hour >= w.Open && hour < w.Close
}

// String renders the window as "12:00–22:00".
func (w Window) String() string {
	return formatHour(w.Open) + "–" + formatHour(w.Close)
}

func formatHour(h float64) string {
	whole := int(h)
	minutes := int(math.Round((h - float64(whole)) * 60))
	if minutes == 60 {
		whole++
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", whole, minutes)
}

// DayWindow pairs a weekday with its opening window.
type DayWindow struct {
	Day    time.Weekday
	Window Window
}

// Business is the immutable booking configuration.
type Business struct {
	restaurantName string
	location       *time.Location
	openingHours   map[time.Weekday]Window
	blackout       map[civil.Date]struct{}
	duration       time.Duration
	maxAdvanceDays int
	maxPartySize   int
	maxNameLength  int
	reminderLead   time.Duration
	reminderCron   string
	sessionIdleTTL time.Duration
	serviceEnd     civil.Date
}

// BusinessOption customises a Business during construction.
type BusinessOption func(*Business)

// WithRestaurantName sets the name used in reminders and event summaries.
func WithRestaurantName(name string) BusinessOption {
	return func(b *Business) { b.restaurantName = name }
}

// WithLocation sets the business timezone.
func WithLocation(loc *time.Location) BusinessOption {
	return func(b *Business) { b.location = loc }
}

// WithOpeningHours replaces the per-weekday opening windows.
func WithOpeningHours(hours map[time.Weekday]Window) BusinessOption {
	return func(b *Business) {
		b.openingHours = make(map[time.Weekday]Window, len(hours))
		for d, w := range hours {
			b.openingHours[d] = w
		}
	}
}

// WithBlackoutDates sets the dates on which no booking is accepted.
func WithBlackoutDates(dates ...civil.Date) BusinessOption {
	return func(b *Business) {
		b.blackout = make(map[civil.Date]struct{}, len(dates))
		for _, d := range dates {
			b.blackout[d] = struct{}{}
		}
	}
}

// WithDuration sets the default reservation length.
func WithDuration(d time.Duration) BusinessOption {
	return func(b *Business) { b.duration = d }
}

// WithMaxAdvanceDays sets how far ahead a booking may be made.
func WithMaxAdvanceDays(days int) BusinessOption {
	return func(b *Business) { b.maxAdvanceDays = days }
}

// WithMaxPartySize sets the largest accepted party.
func WithMaxPartySize(n int) BusinessOption {
	return func(b *Business) { b.maxPartySize = n }
}

// WithMaxNameLength sets the rune limit applied to customer names.
func WithMaxNameLength(n int) BusinessOption {
	return func(b *Business) { b.maxNameLength = n }
}

// WithReminderLead sets the reminder lead window.
func WithReminderLead(d time.Duration) BusinessOption {
	return func(b *Business) { b.reminderLead = d }
}

// WithReminderCron sets the cron expression of the reminder tick.
func WithReminderCron(expr string) BusinessOption {
	return func(b *Business) { b.reminderCron = expr }
}

// WithSessionIdleTTL sets how long an unfinished dialogue survives without input.
// Zero disables expiry.
func WithSessionIdleTTL(d time.Duration) BusinessOption {
	return func(b *Business) { b.sessionIdleTTL = d }
}

// WithServiceEndDate sets the last date on which the bot answers bookings.
func WithServiceEndDate(d civil.Date) BusinessOption {
	return func(b *Business) { b.serviceEnd = d }
}

// NewBusiness builds a Business from defaults plus options and validates it.
func NewBusiness(opts ...BusinessOption) (Business, error) {
	defaultHours, err := ParseOpeningHours(DefaultOpeningHours)
	if err != nil {
		return Business{}, err
	}
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return Business{}, fmt.Errorf("failed to load default timezone: %w", err)
	}

	b := Business{
		restaurantName: DefaultRestaurantName,
		location:       loc,
		openingHours:   defaultHours,
		blackout:       map[civil.Date]struct{}{},
		duration:       DefaultDurationMin * time.Minute,
		maxAdvanceDays: DefaultMaxAdvanceDays,
		maxPartySize:   DefaultMaxPartySize,
		maxNameLength:  DefaultMaxNameLength,
		reminderLead:   DefaultReminderLead,
		reminderCron:   DefaultReminderCron,
		sessionIdleTTL: DefaultSessionIdleTTL,
	}
	for _, opt := range opts {
		opt(&b)
	}

	if b.location == nil {
		return Business{}, fmt.Errorf("timezone must be set")
	}
	if b.duration < time.Minute {
		return Business{}, fmt.Errorf("reservation duration must be at least one minute, got %v", b.duration)
	}
	if b.maxPartySize < 1 {
		return Business{}, fmt.Errorf("max party size must be at least 1, got %d", b.maxPartySize)
	}
	if b.maxAdvanceDays < 0 {
		return Business{}, fmt.Errorf("max advance days cannot be negative, got %d", b.maxAdvanceDays)
	}
	if b.reminderLead <= 0 {
		return Business{}, fmt.Errorf("reminder lead must be positive, got %v", b.reminderLead)
	}
	return b, nil
}

// RestaurantName returns the name used in replies and event titles.
func (b Business) RestaurantName() string { return b.restaurantName }

// Location returns the restaurant's time zone.
func (b Business) Location() *time.Location { return b.location }

// Duration returns the length of every reservation.
func (b Business) Duration() time.Duration { return b.duration }

// MaxAdvanceDays returns how many days ahead a reservation may start.
func (b Business) MaxAdvanceDays() int { return b.maxAdvanceDays }

// MaxPartySize returns the largest accepted party.
func (b Business) MaxPartySize() int { return b.maxPartySize }

// MaxNameLength returns the rune limit applied to guest names.
func (b Business) MaxNameLength() int { return b.maxNameLength }

// ReminderLead returns how long before the start a reminder is sent.
func (b Business) ReminderLead() time.Duration { return b.reminderLead }

// ReminderCron returns the cron expression of the reminder tick.
func (b Business) ReminderCron() string { return b.reminderCron }

// SessionIdleTTL returns how long an untouched dialogue survives. Zero disables expiry.
func (b Business) SessionIdleTTL() time.Duration { return b.sessionIdleTTL }

// DurationMinutes returns the reservation length in whole minutes.
func (b Business) DurationMinutes() int {
	return int(b.duration / time.Minute)
}

// OpeningWindow returns the window configured for a weekday.
func (b Business) OpeningWindow(day time.Weekday) (Window, bool) {
	w, ok := b.openingHours[day]
	return w, ok
}

// OpeningWindows lists the configured windows starting on Monday.
func (b Business) OpeningWindows() []DayWindow {
	out := make([]DayWindow, 0, len(b.openingHours))
	for d, w := range b.openingHours {
		out = append(out, DayWindow{Day: d, Window: w})
	}
	sort.Slice(out, func(i, j int) bool {
		return mondayFirst(out[i].Day) < mondayFirst(out[j].Day)
	})
	return out
}

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// IsBlackout reports whether no bookings are accepted on the date.
func (b Business) IsBlackout(d civil.Date) bool {
	_, ok := b.blackout[d]
	return ok
}

// ServiceEnded reports whether today is past the configured service end date.
func (b Business) ServiceEnded(today civil.Date) bool {
	return b.serviceEnd.IsValid() && today.After(b.serviceEnd)
}

var weekdayKeys = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseOpeningHours parses a JSON object such as {"mon":[12,22],"fri":[12,23.5]}.
// Days absent from the object are closed.
func ParseOpeningHours(raw string) (map[time.Weekday]Window, error) {
	var parsed map[string][]float64
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("invalid opening hours JSON: %w", err)
	}

	hours := make(map[time.Weekday]Window, len(parsed))
	for key, pair := range parsed {
		day, ok := weekdayKeys[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q in opening hours", key)
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("opening hours for %s must be [open, close], got %v", key, pair)
		}
		w := Window{Open: pair[0], Close: pair[1]}
		if w.Open < 0 || w.Close > 24 || w.Open >= w.Close {
			return nil, fmt.Errorf("invalid opening window for %s: %v", key, pair)
		}
		hours[day] = w
	}
	return hours, nil
}

// ParseBlackoutDates parses a comma separated list of YYYY-MM-DD dates.
func ParseBlackoutDates(raw string) ([]civil.Date, error) {
	var dates []civil.Date
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := civil.ParseDate(part)
		if err != nil {
			return nil, fmt.Errorf("invalid blackout date %q: %w", part, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

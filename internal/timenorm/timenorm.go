// Package timenorm converts the dates and times customers type into absolute instants
// in the business timezone, and renders instants back for display.
//
// Parsing never fails loudly: every Parse function reports success with a boolean so the
// caller can decide how to re-prompt.
package timenorm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/smartpymes/restaurante/internal/config"
)

// Style selects a display rendering.
type Style int

const (
	// StyleLong renders "21 de octubre de 2026, 7:30 p. m."
	StyleLong Style = iota
	// StyleHour renders "07:30 p. m."
	StyleHour
)

// ClockTime is a wall-clock hour and minute.
type ClockTime struct {
	Hour   int
	Minute int
}

// String renders the clock time as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// FractionalHour returns hour + minute/60.
func (c ClockTime) FractionalHour() float64 {
	return float64(c.Hour) + float64(c.Minute)/60
}

var (
	absoluteDateRegex = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	clock24Regex      = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)
	clock12Regex      = regexp.MustCompile(`^(0?[1-9]|1[0-2])(?::?([0-5]\d))?(am|pm)$`)
)

// relativeDays maps folded keywords to a day offset from today.
var relativeDays = map[string]int{
	"hoy":      0,
	"today":    0,
	"manana":   1,
	"tomorrow": 1,
}

var (
	monthNames   = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
	weekdayNames = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
)

// Fold lowercases, trims and strips diacritics so "Mañana " and "manana" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// Normalizer converts between customer input and instants in one timezone.
type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

// Option customises a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New builds a Normalizer for the business timezone.
func New(b config.Business, opts ...Option) *Normalizer {
	n := &Normalizer{loc: b.Location(), now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Location returns the business timezone.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Now returns the current instant.
func (n *Normalizer) Now() time.Time {
	return n.now()
}

// Today returns the current calendar date in the business timezone.
func (n *Normalizer) Today() civil.Date {
	return n.LocalDate(n.now())
}

// LocalDate returns the calendar date of t in the business timezone.
func (n *Normalizer) LocalDate(t time.Time) civil.Date {
	return civil.DateOf(t.In(n.loc))
}

// ParseDate recognises "hoy"/"mañana" (and their English forms) relative to today
// in the business timezone, or an absolute DD/MM/YYYY date.
func (n *Normalizer) ParseDate(input string) (civil.Date, bool) {
	folded := Fold(input)
	if offset, ok := relativeDays[folded]; ok {
		return n.Today().AddDays(offset), true
	}

	m := absoluteDateRegex.FindStringSubmatch(folded)
	if m == nil {
		return civil.Date{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	d := civil.Date{Year: year, Month: time.Month(month), Day: day}
	if !d.IsValid() {
		return civil.Date{}, false
	}
	return d, true
}

// ParseClockTime accepts "19:30", "7pm", "7:30pm", "7 p.m." and similar.
// 12am is midnight and 12pm is noon.
func ParseClockTime(input string) (ClockTime, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.NewReplacer(" ", "", ".", "").Replace(s)

	if m := clock24Regex.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		return ClockTime{Hour: h, Minute: min}, true
	}

	m := clock12Regex.FindStringSubmatch(s)
	if m == nil {
		return ClockTime{}, false
	}
	h, _ := strconv.Atoi(m[1])
	min := 0
	if m[2] != "" {
		min, _ = strconv.Atoi(m[2])
	}
	switch {
	case m[3] == "am" && h == 12:
		h = 0
	case m[3] == "pm" && h != 12:
		h += 12
	}
	return ClockTime{Hour: h, Minute: min}, true
}

// ToInstant composes a local date and wall-clock time into a UTC instant. The UTC
// offset is the one the zone rules give for that date, so DST is honoured. A wall
// clock that falls in a spring-forward gap is moved forward by the gap.
func (n *Normalizer) ToInstant(d civil.Date, c ClockTime) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, n.loc).UTC()
}

// WallClock returns the local date and clock time of t in the business timezone.
func (n *Normalizer) WallClock(t time.Time) (civil.Date, ClockTime) {
	local := t.In(n.loc)
	return civil.DateOf(local), ClockTime{Hour: local.Hour(), Minute: local.Minute()}
}

// Format renders t in the business timezone.
func (n *Normalizer) Format(t time.Time, style Style) string {
	local := t.In(n.loc)
	switch style {
	case StyleHour:
		return fmt.Sprintf("%02d:%02d %s", hour12(local.Hour()), local.Minute(), meridiem(local.Hour()))
	default:
		return fmt.Sprintf("%d de %s de %d, %d:%02d %s",
			local.Day(), monthNames[local.Month()-1], local.Year(),
			hour12(local.Hour()), local.Minute(), meridiem(local.Hour()))
	}
}

// FormatDate renders a calendar date as "martes 21 de octubre".
func FormatDate(d civil.Date) string {
	wd := d.In(time.UTC).Weekday()
	return fmt.Sprintf("%s %d de %s", weekdayNames[wd], d.Day, monthNames[d.Month-1])
}

// WeekdayName returns the Spanish name of a weekday.
func WeekdayName(d time.Weekday) string {
	return weekdayNames[d]
}

func hour12(h int) int {
	if h%12 == 0 {
		return 12
	}
	return h % 12
}

func meridiem(h int) string {
	if h < 12 {
		return "a. m."
	}
	return "p. m."
}

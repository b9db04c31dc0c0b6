package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

func TestParseOpeningHours(t *testing.T) {
	hours, err := ParseOpeningHours(`{"mon":[12,22],"Fri":[11.5,23]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hours) != 2 {
		t.Fatalf("expected 2 days, got %d", len(hours))
	}
	if w := hours[time.Friday]; w.Open != 11.5 || w.Close != 23 {
		t.Errorf("unexpected friday window %+v", w)
	}

	bad := []string{
		`not json`,
		`{"xyz":[1,2]}`,
		`{"mon":[12]}`,
		`{"mon":[22,12]}`,
		`{"mon":[12,25]}`,
	}
	for _, raw := range bad {
		if _, err := ParseOpeningHours(raw); err == nil {
			t.Errorf("expected error for %s", raw)
		}
	}
}

func TestWindowStringAndContains(t *testing.T) {
	w := Window{Open: 12, Close: 22.5}
	if got := w.String(); got != "12:00–22:30" {
		t.Errorf("expected 12:00–22:30, got %q", got)
	}
	if !w.Contains(12) {
		t.Error("window must include its opening hour")
	}
	if w.Contains(22.5) {
		t.Error("window must exclude its closing hour")
	}
	if w.Contains(11.99) {
		t.Error("11.99 should be outside the window")
	}
}

func TestParseBlackoutDates(t *testing.T) {
	dates, err := ParseBlackoutDates(" 2025-12-24, 2025-12-31 ,,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dates) != 2 || dates[0] != (civil.Date{Year: 2025, Month: 12, Day: 24}) {
		t.Errorf("unexpected dates %v", dates)
	}
	if _, err := ParseBlackoutDates("2025-13-01"); err == nil {
		t.Error("expected error for invalid month")
	}
}

func TestNewBusinessDefaultsAndValidation(t *testing.T) {
	b, err := NewBusiness()
	if err != nil {
		t.Fatalf("NewBusiness failed: %v", err)
	}
	if b.Location().String() != DefaultTimezone {
		t.Errorf("expected default timezone, got %s", b.Location())
	}
	if b.DurationMinutes() != DefaultDurationMin {
		t.Errorf("expected %d minute duration, got %d", DefaultDurationMin, b.DurationMinutes())
	}
	if _, ok := b.OpeningWindow(time.Sunday); ok {
		t.Error("sunday should be closed by default")
	}

	if _, err := NewBusiness(WithMaxPartySize(0)); err == nil {
		t.Error("expected error for zero party size")
	}
	if _, err := NewBusiness(WithDuration(0)); err == nil {
		t.Error("expected error for zero duration")
	}
	// Durations under a minute would round to zero-length bookings.
	if _, err := NewBusiness(WithDuration(30 * time.Second)); err == nil {
		t.Error("expected error for sub-minute duration")
	}
	if b, err := NewBusiness(WithDuration(time.Minute)); err != nil || b.DurationMinutes() != 1 {
		t.Errorf("one minute duration = %v, %v", b.DurationMinutes(), err)
	}
}

func TestLoadBusinessRejectsSubMinuteDuration(t *testing.T) {
	t.Setenv("DEMO_END_DATE", "")
	t.Setenv("DEFAULT_DURATION_MIN", "30s")
	if _, err := LoadBusiness(); err == nil {
		t.Error("expected error for DEFAULT_DURATION_MIN=30s")
	}
}

func TestBusinessIsImmutableAfterConstruction(t *testing.T) {
	hours := map[time.Weekday]Window{time.Monday: {Open: 12, Close: 22}}
	b, err := NewBusiness(WithOpeningHours(hours))
	if err != nil {
		t.Fatalf("NewBusiness failed: %v", err)
	}
	hours[time.Tuesday] = Window{Open: 1, Close: 2}
	if _, ok := b.OpeningWindow(time.Tuesday); ok {
		t.Error("mutating the caller's map must not change the configuration")
	}
}

func TestOpeningWindowsStartOnMonday(t *testing.T) {
	b, err := NewBusiness(WithOpeningHours(map[time.Weekday]Window{
		time.Sunday:    {Open: 10, Close: 16},
		time.Wednesday: {Open: 12, Close: 22},
		time.Monday:    {Open: 12, Close: 22},
	}))
	if err != nil {
		t.Fatalf("NewBusiness failed: %v", err)
	}
	got := b.OpeningWindows()
	want := []time.Weekday{time.Monday, time.Wednesday, time.Sunday}
	for i, d := range want {
		if got[i].Day != d {
			t.Errorf("position %d: expected %v, got %v", i, d, got[i].Day)
		}
	}
}

func TestServiceEnded(t *testing.T) {
	end := civil.Date{Year: 2026, Month: 1, Day: 31}
	b, err := NewBusiness(WithServiceEndDate(end))
	if err != nil {
		t.Fatalf("NewBusiness failed: %v", err)
	}
	if b.ServiceEnded(end) {
		t.Error("service should still run on the end date")
	}
	if !b.ServiceEnded(end.AddDays(1)) {
		t.Error("service should end the day after the end date")
	}

	open, _ := NewBusiness()
	if open.ServiceEnded(civil.Date{Year: 2100, Month: 1, Day: 1}) {
		t.Error("no end date configured means the service never ends")
	}
}

func TestLoadBusinessFromEnvironment(t *testing.T) {
	t.Setenv("TIMEZONE", "Europe/Madrid")
	t.Setenv("OPENING_HOURS_JSON", `{"sat":[13,16]}`)
	t.Setenv("BLACKOUT_DATES", "2026-12-25")
	t.Setenv("MAX_PARTY_SIZE", "6")
	t.Setenv("DEMO_END_DATE", "")
	t.Setenv("SESSION_IDLE_TTL", "0")

	b, err := LoadBusiness()
	if err != nil {
		t.Fatalf("LoadBusiness failed: %v", err)
	}
	if b.Location().String() != "Europe/Madrid" {
		t.Errorf("unexpected timezone %s", b.Location())
	}
	if _, ok := b.OpeningWindow(time.Monday); ok {
		t.Error("monday should be closed with custom hours")
	}
	if !b.IsBlackout(civil.Date{Year: 2026, Month: 12, Day: 25}) {
		t.Error("christmas should be blacked out")
	}
	if b.MaxPartySize() != 6 {
		t.Errorf("expected party size 6, got %d", b.MaxPartySize())
	}
	if b.SessionIdleTTL() != 0 {
		t.Errorf("expected expiry disabled, got %v", b.SessionIdleTTL())
	}

	t.Setenv("TIMEZONE", "Mars/Olympus")
	if _, err := LoadBusiness(); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestApplyStateDirDefaults(t *testing.T) {
	p := Process{StateDir: "/tmp/resto", PublicBaseURL: "https://bot.example.com"}
	p.ApplyStateDirDefaults()

	if p.DBDSN != filepath.Join("/tmp/resto", DefaultDBFileName) {
		t.Errorf("unexpected DSN %q", p.DBDSN)
	}
	if !strings.HasPrefix(p.WhatsAppDBDSN, "file:/tmp/resto/") || !strings.HasSuffix(p.WhatsAppDBDSN, "?_foreign_keys=on") {
		t.Errorf("unexpected whatsapp DSN %q", p.WhatsAppDBDSN)
	}
	if p.GoogleRedirectURL != "https://bot.example.com/oauth/google/callback" {
		t.Errorf("unexpected redirect URL %q", p.GoogleRedirectURL)
	}

	explicit := Process{StateDir: "/tmp/resto", DBDSN: "postgres://u@h/db"}
	explicit.ApplyStateDirDefaults()
	if explicit.DBDSN != "postgres://u@h/db" {
		t.Errorf("explicit DSN must be kept, got %q", explicit.DBDSN)
	}
}

func TestParseLogLevel(t *testing.T) {
	if ParseLogLevel("DEBUG").String() != "DEBUG" {
		t.Error("expected debug level")
	}
	if ParseLogLevel("bogus").String() != "INFO" {
		t.Error("expected info fallback")
	}
}

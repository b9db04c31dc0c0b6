// Package testutil provides common test utilities and fakes for restaurante tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smartpymes/restaurante/internal/availability"
	"github.com/smartpymes/restaurante/internal/calendar"
	"github.com/smartpymes/restaurante/internal/models"
	"github.com/smartpymes/restaurante/internal/store"
)

// SentMessage is one message captured by FakeSender.
type SentMessage struct {
	To   string
	Body string
}

// FakeSender records outbound messages. Setting Err makes every send fail;
// FailFor makes sends to specific contacts fail.
type FakeSender struct {
	mu      sync.Mutex
	Sent    []SentMessage
	Err     error
	FailFor map[string]error
}

// SendMessage records the message or returns the configured error.
func (s *FakeSender) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if err, ok := s.FailFor[to]; ok {
		return err
	}
	s.Sent = append(s.Sent, SentMessage{To: to, Body: body})
	return nil
}

// Count returns the number of delivered messages.
func (s *FakeSender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

// To returns the bodies delivered to a contact in order.
func (s *FakeSender) To(contact string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.Sent {
		if m.To == contact {
			out = append(out, m.Body)
		}
	}
	return out
}

// Last returns the last body delivered to any contact.
func (s *FakeSender) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Sent) == 0 {
		return ""
	}
	return s.Sent[len(s.Sent)-1].Body
}

// Reset forgets delivered messages.
func (s *FakeSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent = nil
}

// FakeCalendar is an in-memory calendar. Created events become busy intervals.
type FakeCalendar struct {
	mu         sync.Mutex
	Authorized bool
	URL        string
	CreateErr  error
	DeleteErr  error
	BusyErr    error
	Busy       []availability.Interval
	Events     map[string]calendar.Event
	Deleted    []string
	nextID     int
}

// NewFakeCalendar returns an authorized FakeCalendar.
func NewFakeCalendar() *FakeCalendar {
	return &FakeCalendar{
		Authorized: true,
		URL:        "https://accounts.example.com/consent",
		Events:     make(map[string]calendar.Event),
	}
}

func (c *FakeCalendar) IsAuthorized(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Authorized
}

func (c *FakeCalendar) AuthURL() (string, error) {
	return c.URL, nil
}

func (c *FakeCalendar) CreateEvent(ctx context.Context, ev calendar.Event) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CreateErr != nil {
		return "", c.CreateErr
	}
	c.nextID++
	id := fmt.Sprintf("evt-%d", c.nextID)
	c.Events[id] = ev
	return id, nil
}

func (c *FakeCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DeleteErr != nil {
		return c.DeleteErr
	}
	delete(c.Events, eventID)
	c.Deleted = append(c.Deleted, eventID)
	return nil
}

// QueryBusy reports configured intervals plus live events overlapping [start, end).
func (c *FakeCalendar) QueryBusy(ctx context.Context, start, end time.Time) ([]availability.Interval, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BusyErr != nil {
		return nil, c.BusyErr
	}
	var out []availability.Interval
	overlaps := func(s, e time.Time) bool { return s.Before(end) && start.Before(e) }
	for _, iv := range c.Busy {
		if overlaps(iv.Start, iv.End) {
			out = append(out, iv)
		}
	}
	for _, ev := range c.Events {
		if overlaps(ev.Start, ev.End) {
			out = append(out, availability.Interval{Start: ev.Start, End: ev.End})
		}
	}
	return out, nil
}

// EventCount returns the number of live events.
func (c *FakeCalendar) EventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Events)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock fixed at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FailingBookingStore wraps a store and fails AddBooking with Err.
type FailingBookingStore struct {
	store.Store
	Err error
}

// AddBooking returns the configured error.
func (s *FailingBookingStore) AddBooking(b models.Booking) (int64, error) {
	return 0, s.Err
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateFormRequest creates a form-encoded POST request for webhook tests.
func CreateFormRequest(t *testing.T, target string, form url.Values) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/smartpymes/restaurante/internal/store"
)

// fakeGoogle serves the token endpoint and the subset of Calendar API v3 the
// client uses.
type fakeGoogle struct {
	mu           sync.Mutex
	tokenCalls   int
	inserted     []gcal.Event
	insertQuery  url.Values
	deleted      []string
	busy         []*gcal.TimePeriod
	deleteStatus int
	authHeaders  []string
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.URL.Path != "/token" {
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/token":
		f.tokenCalls++
		_ = r.ParseForm()
		access := "refreshed-access"
		if r.PostForm.Get("grant_type") == "authorization_code" {
			access = "exchanged-access"
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": access, "token_type": "Bearer", "expires_in": 3600, "refresh_token": "refresh-1",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": access, "token_type": "Bearer", "expires_in": 3600,
		})
	case r.URL.Path == "/freeBusy" && r.Method == http.MethodPost:
		var req gcal.FreeBusyRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(gcal.FreeBusyResponse{
			Calendars: map[string]gcal.FreeBusyCalendar{req.Items[0].Id: {Busy: f.busy}},
		})
	case r.URL.Path == "/calendars/primary/events" && r.Method == http.MethodPost:
		var ev gcal.Event
		json.NewDecoder(r.Body).Decode(&ev)
		f.inserted = append(f.inserted, ev)
		f.insertQuery = r.URL.Query()
		ev.Id = "evt-1"
		json.NewEncoder(w).Encode(ev)
	case strings.HasPrefix(r.URL.Path, "/calendars/primary/events/") && r.Method == http.MethodDelete:
		if f.deleteStatus != 0 {
			w.WriteHeader(f.deleteStatus)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"code": f.deleteStatus, "message": http.StatusText(f.deleteStatus)},
			})
			return
		}
		f.deleted = append(f.deleted, strings.TrimPrefix(r.URL.Path, "/calendars/primary/events/"))
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func newTestGoogle(t *testing.T, fake *fakeGoogle, tokens TokenStore) *Google {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	g, err := NewGoogle(GoogleConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://bot.example.com/oauth/google/callback",
		CalendarID:   "primary",
		TimeZone:     "America/Bogota",
	}, tokens, NewStateSigner([]byte("0123456789abcdef0123456789abcdef")),
		WithEndpoint(srv.URL+"/"),
		WithOAuthEndpoint(oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewGoogle: %v", err)
	}
	return g
}

func saveToken(t *testing.T, s TokenStore, tok *oauth2.Token) {
	t.Helper()
	raw, err := encodeToken(tok)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := s.SaveOAuthToken(raw); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestNewGoogleRequiresCredentials(t *testing.T) {
	if _, err := NewGoogle(GoogleConfig{CalendarID: "primary"}, store.NewInMemoryStore(), NewStateSigner(nil)); err == nil {
		t.Error("expected error without client credentials")
	}
}

func TestIsAuthorized(t *testing.T) {
	tokens := store.NewInMemoryStore()
	g := newTestGoogle(t, &fakeGoogle{}, tokens)
	if g.IsAuthorized(context.Background()) {
		t.Error("authorized without a stored token")
	}
	saveToken(t, tokens, &oauth2.Token{RefreshToken: "r"})
	if !g.IsAuthorized(context.Background()) {
		t.Error("not authorized with a refresh token stored")
	}
}

func TestValidTokenNotAuthorized(t *testing.T) {
	g := newTestGoogle(t, &fakeGoogle{}, store.NewInMemoryStore())
	if _, err := g.ValidToken(context.Background()); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("err = %v, want ErrNotAuthorized", err)
	}
}

func TestValidTokenRefreshesAndPersists(t *testing.T) {
	fake := &fakeGoogle{}
	tokens := store.NewInMemoryStore()
	saveToken(t, tokens, &oauth2.Token{
		AccessToken:  "stale",
		TokenType:    "Bearer",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	})
	g := newTestGoogle(t, fake, tokens)

	tok, err := g.ValidToken(context.Background())
	if err != nil {
		t.Fatalf("ValidToken: %v", err)
	}
	if tok.AccessToken != "refreshed-access" {
		t.Errorf("access token = %q", tok.AccessToken)
	}
	if fake.tokenCalls != 1 {
		t.Errorf("token endpoint calls = %d, want 1", fake.tokenCalls)
	}

	raw, _ := tokens.GetOAuthToken()
	persisted, err := decodeToken(raw)
	if err != nil {
		t.Fatalf("decode persisted: %v", err)
	}
	if persisted.AccessToken != "refreshed-access" {
		t.Errorf("persisted access token = %q", persisted.AccessToken)
	}
	if persisted.RefreshToken != "refresh-1" {
		t.Errorf("refresh token lost on refresh: %q", persisted.RefreshToken)
	}

	// A valid token is returned without another refresh.
	if _, err := g.ValidToken(context.Background()); err != nil {
		t.Fatalf("ValidToken: %v", err)
	}
	if fake.tokenCalls != 1 {
		t.Errorf("token endpoint calls = %d, want 1", fake.tokenCalls)
	}
}

func TestAuthURLAndExchange(t *testing.T) {
	fake := &fakeGoogle{}
	tokens := store.NewInMemoryStore()
	g := newTestGoogle(t, fake, tokens)

	raw, err := g.AuthURL()
	if err != nil {
		t.Fatalf("AuthURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Errorf("missing offline consent params: %s", raw)
	}
	state := q.Get("state")
	if state == "" {
		t.Fatal("missing state")
	}

	if err := g.Exchange(context.Background(), "code-1", "forged"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("forged state err = %v, want ErrInvalidState", err)
	}
	if err := g.Exchange(context.Background(), "code-1", state); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !g.IsAuthorized(context.Background()) {
		t.Error("not authorized after exchange")
	}
}

func TestQueryBusy(t *testing.T) {
	start := time.Date(2026, 10, 21, 0, 30, 0, 0, time.UTC)
	fake := &fakeGoogle{busy: []*gcal.TimePeriod{{
		Start: start.Format(time.RFC3339),
		End:   start.Add(time.Hour).Format(time.RFC3339),
	}}}
	tokens := store.NewInMemoryStore()
	saveToken(t, tokens, &oauth2.Token{AccessToken: "a", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)})
	g := newTestGoogle(t, fake, tokens)

	busy, err := g.QueryBusy(context.Background(), start, start.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("QueryBusy: %v", err)
	}
	if len(busy) != 1 || !busy[0].Start.Equal(start) {
		t.Errorf("busy = %+v", busy)
	}
	if len(fake.authHeaders) == 0 || fake.authHeaders[0] != "Bearer a" {
		t.Errorf("authorization header = %v", fake.authHeaders)
	}
}

func TestCreateEvent(t *testing.T) {
	fake := &fakeGoogle{}
	tokens := store.NewInMemoryStore()
	saveToken(t, tokens, &oauth2.Token{AccessToken: "a", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)})
	g := newTestGoogle(t, fake, tokens)

	loc, _ := time.LoadLocation("America/Bogota")
	start := time.Date(2026, 10, 20, 19, 30, 0, 0, loc)
	id, err := g.CreateEvent(context.Background(), Event{
		Summary: "Mesa 4p - Ana",
		Start:   start,
		End:     start.Add(90 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id != "evt-1" {
		t.Errorf("id = %q", id)
	}
	if len(fake.inserted) != 1 {
		t.Fatalf("inserted %d events", len(fake.inserted))
	}
	ev := fake.inserted[0]
	if ev.Summary != "Mesa 4p - Ana" || ev.Start.TimeZone != "America/Bogota" {
		t.Errorf("event = %+v", ev)
	}
	if ev.ExtendedProperties == nil || ev.ExtendedProperties.Private["source"] != EventSource {
		t.Errorf("missing source property: %+v", ev.ExtendedProperties)
	}
	if ev.Reminders == nil || !ev.Reminders.UseDefault {
		t.Error("default reminders not requested")
	}
	if fake.insertQuery.Get("sendUpdates") != "all" {
		t.Errorf("sendUpdates = %q", fake.insertQuery.Get("sendUpdates"))
	}
}

func TestDeleteEventToleratesGone(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		fake := &fakeGoogle{deleteStatus: status}
		tokens := store.NewInMemoryStore()
		saveToken(t, tokens, &oauth2.Token{AccessToken: "a", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)})
		g := newTestGoogle(t, fake, tokens)
		if err := g.DeleteEvent(context.Background(), "evt-9"); err != nil {
			t.Errorf("status %d: unexpected error %v", status, err)
		}
	}

	fake := &fakeGoogle{deleteStatus: http.StatusInternalServerError}
	tokens := store.NewInMemoryStore()
	saveToken(t, tokens, &oauth2.Token{AccessToken: "a", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)})
	g := newTestGoogle(t, fake, tokens)
	if err := g.DeleteEvent(context.Background(), "evt-9"); err == nil {
		t.Error("expected error on server failure")
	}
}

func TestDeleteEvent(t *testing.T) {
	fake := &fakeGoogle{}
	tokens := store.NewInMemoryStore()
	saveToken(t, tokens, &oauth2.Token{AccessToken: "a", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)})
	g := newTestGoogle(t, fake, tokens)
	if err := g.DeleteEvent(context.Background(), "evt-1"); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "evt-1" {
		t.Errorf("deleted = %v", fake.deleted)
	}
	if err := g.DeleteEvent(context.Background(), ""); err != nil {
		t.Errorf("empty id: %v", err)
	}
}

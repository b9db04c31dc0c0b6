package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/smartpymes/restaurante/internal/availability"
	"github.com/smartpymes/restaurante/internal/store"
)

// GoogleConfig holds the OAuth client and target calendar.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	CalendarID   string
	TimeZone     string
}

// GoogleOpts holds optional settings for Google.
type GoogleOpts struct {
	Endpoint   string
	HTTPClient *http.Client
	OAuthURL   *oauth2.Endpoint
}

// GoogleOption configures Google.
type GoogleOption func(*GoogleOpts)

// WithEndpoint overrides the Calendar API base URL.
func WithEndpoint(url string) GoogleOption {
	return func(o *GoogleOpts) { o.Endpoint = url }
}

// WithHTTPClient sets the base HTTP client for token and API requests.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(o *GoogleOpts) { o.HTTPClient = c }
}

// WithOAuthEndpoint overrides Google's authorization and token URLs.
func WithOAuthEndpoint(ep oauth2.Endpoint) GoogleOption {
	return func(o *GoogleOpts) { o.OAuthURL = &ep }
}

// Google implements availability.BusyChecker and the booking flow's calendar
// capability on top of Calendar API v3.
type Google struct {
	oauth      *oauth2.Config
	tokens     TokenStore
	signer     *StateSigner
	calendarID string
	timeZone   string
	endpoint   string
	httpClient *http.Client

	// mu serializes refresh-and-persist so concurrent callers do not race on the stored token.
	mu sync.Mutex
}

var (
	_ TokenProvider            = (*Google)(nil)
	_ availability.BusyChecker = (*Google)(nil)
)

// NewGoogle creates a Google calendar client.
func NewGoogle(cfg GoogleConfig, tokens TokenStore, signer *StateSigner, opts ...GoogleOption) (*Google, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("google oauth client id and secret are required")
	}
	if cfg.CalendarID == "" {
		return nil, fmt.Errorf("calendar id is required")
	}
	var o GoogleOpts
	for _, opt := range opts {
		opt(&o)
	}
	endpoint := google.Endpoint
	if o.OAuthURL != nil {
		endpoint = *o.OAuthURL
	}
	slog.Debug("Google.NewGoogle: creating calendar client", "calendarID", cfg.CalendarID, "redirect", cfg.RedirectURL)
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{gcal.CalendarEventsScope, gcal.CalendarReadonlyScope},
		},
		tokens:     tokens,
		signer:     signer,
		calendarID: cfg.CalendarID,
		timeZone:   cfg.TimeZone,
		endpoint:   o.Endpoint,
		httpClient: o.HTTPClient,
	}, nil
}

func (g *Google) withClient(ctx context.Context) context.Context {
	if g.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	}
	return ctx
}

// AuthURL returns the consent URL with offline access and a signed state.
func (g *Google) AuthURL() (string, error) {
	state, err := g.signer.Issue()
	if err != nil {
		return "", err
	}
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange verifies state, trades code for a token and persists it.
func (g *Google) Exchange(ctx context.Context, code, state string) error {
	if err := g.signer.Verify(state); err != nil {
		return err
	}
	if code == "" {
		return fmt.Errorf("missing authorization code")
	}
	tok, err := g.oauth.Exchange(g.withClient(ctx), code)
	if err != nil {
		slog.Error("Google.Exchange: code exchange failed", "error", err)
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	prev, _ := g.storedToken()
	if err := g.persist(mergeToken(prev, tok)); err != nil {
		return err
	}
	slog.Info("Google.Exchange: calendar authorized", "has_refresh_token", tok.RefreshToken != "" || (prev != nil && prev.RefreshToken != ""))
	return nil
}

// IsAuthorized reports whether a credential with an access or refresh token is stored.
func (g *Google) IsAuthorized(ctx context.Context) bool {
	tok, err := g.storedToken()
	if err != nil {
		if !errors.Is(err, ErrNotAuthorized) {
			slog.Warn("Google.IsAuthorized: failed to read stored token", "error", err)
		}
		return false
	}
	return tok.RefreshToken != "" || tok.AccessToken != ""
}

// ValidToken returns a usable token, refreshing it and persisting the result
// when the stored one has expired.
func (g *Google) ValidToken(ctx context.Context) (*oauth2.Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	stored, err := g.storedToken()
	if err != nil {
		return nil, err
	}
	fresh, err := g.oauth.TokenSource(g.withClient(ctx), stored).Token()
	if err != nil {
		slog.Error("Google.ValidToken: token refresh failed", "error", err)
		return nil, fmt.Errorf("failed to refresh oauth token: %w", err)
	}
	if fresh.AccessToken != stored.AccessToken || !fresh.Expiry.Equal(stored.Expiry) {
		merged := mergeToken(stored, fresh)
		if err := g.persist(merged); err != nil {
			return nil, err
		}
		slog.Debug("Google.ValidToken: refreshed token persisted", "expiry", merged.Expiry)
		return merged, nil
	}
	return fresh, nil
}

func (g *Google) storedToken() (*oauth2.Token, error) {
	raw, err := g.tokens.GetOAuthToken()
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, err
	}
	return decodeToken(raw)
}

func (g *Google) persist(tok *oauth2.Token) error {
	raw, err := encodeToken(tok)
	if err != nil {
		return err
	}
	if err := g.tokens.SaveOAuthToken(raw); err != nil {
		slog.Error("Google.persist: failed to save oauth token", "error", err)
		return fmt.Errorf("failed to persist oauth token: %w", err)
	}
	return nil
}

func (g *Google) service(ctx context.Context) (*gcal.Service, error) {
	tok, err := g.ValidToken(ctx)
	if err != nil {
		return nil, err
	}
	client := oauth2.NewClient(g.withClient(ctx), oauth2.StaticTokenSource(tok))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return svc, nil
}

// QueryBusy returns the calendar's busy intervals overlapping [start, end).
func (g *Google) QueryBusy(ctx context.Context, start, end time.Time) ([]availability.Interval, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: start.UTC().Format(time.RFC3339),
		TimeMax: end.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: g.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query failed: %w", err)
	}

	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("freebusy query for %s failed: %s", g.calendarID, cal.Errors[0].Reason)
	}
	intervals := make([]availability.Interval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		s, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("invalid busy start %q: %w", p.Start, err)
		}
		e, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("invalid busy end %q: %w", p.End, err)
		}
		intervals = append(intervals, availability.Interval{Start: s, End: e})
	}
	return intervals, nil
}

// CreateEvent inserts ev and returns the new event id. Attendees are notified.
func (g *Google) CreateEvent(ctx context.Context, ev Event) (string, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return "", err
	}
	tz := ev.TimeZone
	if tz == "" {
		tz = g.timeZone
	}
	created, err := svc.Events.Insert(g.calendarID, &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: tz},
		Reminders:   &gcal.EventReminders{UseDefault: true},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{"source": EventSource},
		},
	}).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		slog.Error("Google.CreateEvent: insert failed", "error", err, "start", ev.Start)
		return "", fmt.Errorf("failed to create calendar event: %w", err)
	}
	slog.Debug("Google.CreateEvent: event created", "eventID", created.Id, "start", ev.Start)
	return created.Id, nil
}

// DeleteEvent removes an event. Events already gone are not an error.
func (g *Google) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}
	err = svc.Events.Delete(g.calendarID, eventID).SendUpdates("all").Context(ctx).Do()
	if isGone(err) {
		slog.Debug("Google.DeleteEvent: event already gone", "eventID", eventID)
		return nil
	}
	if err != nil {
		slog.Error("Google.DeleteEvent: delete failed", "error", err, "eventID", eventID)
		return fmt.Errorf("failed to delete calendar event %s: %w", eventID, err)
	}
	return nil
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}

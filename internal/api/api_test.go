package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/smartpymes/restaurante/internal/calendar"
	"github.com/smartpymes/restaurante/internal/messaging"
	"github.com/smartpymes/restaurante/internal/testutil"
	"github.com/smartpymes/restaurante/internal/twiliowhatsapp"
)

type fakeAuthorizer struct {
	url         string
	urlErr      error
	exchangeErr error
	code, state string
}

func (a *fakeAuthorizer) AuthURL() (string, error) {
	return a.url, a.urlErr
}

func (a *fakeAuthorizer) Exchange(ctx context.Context, code, state string) error {
	a.code, a.state = code, state
	return a.exchangeErr
}

// newTestServer creates a Server backed by a Twilio mock and a fake authorizer.
func newTestServer(opts ...Option) (*Server, *messaging.TwilioService, *fakeAuthorizer) {
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	auth := &fakeAuthorizer{url: "https://accounts.example.com/o/oauth2/auth?state=abc"}
	base := []Option{WithWebhook(svc.WebhookHandler), WithAuthorizer(auth)}
	return NewServer(append(base, opts...)...), svc, auth
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer()
	rr := serve(s.Handler(), httptest.NewRequest(http.MethodGet, HealthPath, nil))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestHealthMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer()
	rr := serve(s.Handler(), httptest.NewRequest(http.MethodPost, HealthPath, nil))

	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "health POST")
	if rr.Header().Get("Allow") != http.MethodGet {
		t.Errorf("Allow = %q", rr.Header().Get("Allow"))
	}
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestWebhookForwardsMessage(t *testing.T) {
	s, svc, _ := newTestServer()
	form := url.Values{"From": {"whatsapp:+573001112233"}, "Body": {"reservar"}, "MessageSid": {"SM1"}}
	rr := serve(s.Handler(), testutil.CreateFormRequest(t, WebhookPath, form))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")
	select {
	case r := <-svc.Responses():
		if r.Body != "reservar" {
			t.Errorf("body = %q", r.Body)
		}
	default:
		t.Fatal("message not forwarded")
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	s, _, _ := newTestServer()
	rr := serve(s.Handler(), httptest.NewRequest(http.MethodGet, WebhookPath, nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "webhook GET")
}

func TestWebhookRateLimit(t *testing.T) {
	s, _, _ := newTestServer(WithWebhookRate(1))
	h := s.Handler()
	codes := map[int]int{}
	for i := 0; i < 5; i++ {
		form := url.Values{"From": {"whatsapp:+573001112233"}, "Body": {"hola"}, "MessageSid": {fmt.Sprintf("SM%d", i)}}
		codes[serve(h, testutil.CreateFormRequest(t, WebhookPath, form)).Code]++
	}
	if codes[http.StatusOK] != 2 || codes[http.StatusTooManyRequests] != 3 {
		t.Errorf("status counts = %v, want 2 ok and 3 throttled", codes)
	}
}

func TestWebhookUnlimited(t *testing.T) {
	s, _, _ := newTestServer(WithWebhookRate(0))
	h := s.Handler()
	for i := 0; i < 50; i++ {
		form := url.Values{"From": {"whatsapp:+573001112233"}, "Body": {"hola"}}
		if rr := serve(h, testutil.CreateFormRequest(t, WebhookPath, form)); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rr.Code)
		}
	}
}

func TestRoutesOmittedWithoutCollaborators(t *testing.T) {
	h := NewServer().Handler()
	for _, path := range []string{WebhookPath, OAuthStartPath, OAuthCallbackPath} {
		if rr := serve(h, httptest.NewRequest(http.MethodGet, path, nil)); rr.Code != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", path, rr.Code)
		}
	}
}

func TestOAuthStartRedirects(t *testing.T) {
	s, _, auth := newTestServer()
	rr := serve(s.Handler(), httptest.NewRequest(http.MethodGet, OAuthStartPath, nil))

	testutil.AssertHTTPStatus(t, http.StatusFound, rr.Code, "oauth start")
	if loc := rr.Header().Get("Location"); loc != auth.url {
		t.Errorf("Location = %q", loc)
	}
}

func TestOAuthStartError(t *testing.T) {
	s, _, auth := newTestServer()
	auth.urlErr = errors.New("no randomness")
	rr := serve(s.Handler(), httptest.NewRequest(http.MethodGet, OAuthStartPath, nil))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "oauth start error")
}

func TestOAuthCallback(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		err      error
		wantCode int
		wantText string
	}{
		{"success", "code=4/abc&state=s1", nil, http.StatusOK, "Calendario autorizado"},
		{"invalid state", "code=4/abc&state=forged", fmt.Errorf("verify: %w", calendar.ErrInvalidState), http.StatusBadRequest, "expiró"},
		{"exchange failure", "code=4/abc&state=s1", errors.New("google down"), http.StatusBadGateway, "Inténtalo más tarde"},
		{"consent denied", "error=access_denied", nil, http.StatusBadRequest, "auth google"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, auth := newTestServer()
			auth.exchangeErr = tt.err
			rr := serve(s.Handler(), httptest.NewRequest(http.MethodGet, OAuthCallbackPath+"?"+tt.query, nil))

			testutil.AssertHTTPStatus(t, tt.wantCode, rr.Code, tt.name)
			if !strings.Contains(rr.Body.String(), tt.wantText) {
				t.Errorf("body %q does not contain %q", rr.Body.String(), tt.wantText)
			}
			if tt.name == "success" && (auth.code != "4/abc" || auth.state != "s1") {
				t.Errorf("exchange got code=%q state=%q", auth.code, auth.state)
			}
		})
	}
}

func TestWriteJSONResponseFallback(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]interface{}{"bad": make(chan int)})

	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unencodable response")
	testutil.AssertJSONResponse(t, rr, "error")
}

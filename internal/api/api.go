// Package api provides the HTTP surface of restaurante: the Twilio inbound
// webhook, the Google Calendar authorization endpoints and a health check.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultReadHeaderTimeout bounds slow clients.
	DefaultReadHeaderTimeout = 5 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 5 * time.Second
	// DefaultWebhookRate is the sustained webhook request rate per second.
	DefaultWebhookRate = 20
)

// Routes.
const (
	WebhookPath       = "/webhook/twilio"
	OAuthStartPath    = "/oauth/google"
	OAuthCallbackPath = "/oauth/google/callback"
	HealthPath        = "/healthz"
)

// Authorizer runs the calendar OAuth consent flow. *calendar.Google implements it.
type Authorizer interface {
	AuthURL() (string, error)
	Exchange(ctx context.Context, code, state string) error
}

// Opts holds Server configuration.
type Opts struct {
	Addr        string
	Webhook     http.HandlerFunc
	Authorizer  Authorizer
	WebhookRate int
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWebhook mounts the inbound message webhook. Without it the route is not served.
func WithWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.Webhook = h }
}

// WithAuthorizer enables the calendar authorization endpoints.
func WithAuthorizer(a Authorizer) Option {
	return func(o *Opts) { o.Authorizer = a }
}

// WithWebhookRate limits webhook requests per second. Zero or less disables the limit.
func WithWebhookRate(perSecond int) Option {
	return func(o *Opts) { o.WebhookRate = perSecond }
}

// Server is the HTTP API server.
type Server struct {
	addr       string
	webhook    http.HandlerFunc
	authorizer Authorizer
	limiter    *rate.Limiter
}

// NewServer builds a Server from options.
func NewServer(opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, WebhookRate: DefaultWebhookRate}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		addr:       o.Addr,
		webhook:    o.Webhook,
		authorizer: o.Authorizer,
	}
	if o.WebhookRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(o.WebhookRate), o.WebhookRate*2)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(HealthPath, s.healthHandler)
	if s.webhook != nil {
		mux.HandleFunc(WebhookPath, s.rateLimited(s.webhookHandler))
	}
	if s.authorizer != nil {
		mux.HandleFunc(OAuthStartPath, s.oauthStartHandler)
		mux.HandleFunc(OAuthCallbackPath, s.oauthCallbackHandler)
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr, "webhook", s.webhook != nil, "oauth", s.authorizer != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("Server.Run: stopped")
	return nil
}

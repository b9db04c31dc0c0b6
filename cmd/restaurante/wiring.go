package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-redis/redis/v8"

	"github.com/smartpymes/restaurante/internal/api"
	"github.com/smartpymes/restaurante/internal/config"
	"github.com/smartpymes/restaurante/internal/messaging"
	"github.com/smartpymes/restaurante/internal/store"
	"github.com/smartpymes/restaurante/internal/twiliowhatsapp"
	"github.com/smartpymes/restaurante/internal/whatsapp"
)

// buildWhatsAppOptions maps process settings onto whatsmeow client options.
func buildWhatsAppOptions(p config.Process, f *processFlags) []whatsapp.Option {
	var opts []whatsapp.Option
	if p.WhatsAppDBDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(p.WhatsAppDBDSN))
	}
	if f.qrOutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(f.qrOutput))
	}
	if f.numericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// buildTwilioOptions returns the Twilio client options and the service options
// for the inbound webhook.
func buildTwilioOptions(p config.Process, dedup store.DedupRepo) ([]twiliowhatsapp.Option, []messaging.TwilioOption, error) {
	clientOpts := []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(p.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(p.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(p.TwilioFromNumber),
	}
	svcOpts := []messaging.TwilioOption{messaging.WithDedup(dedup)}
	if p.TwilioValidateSignature {
		if p.PublicBaseURL == "" {
			return nil, nil, fmt.Errorf("PUBLIC_BASE_URL is required to validate Twilio signatures (or set TWILIO_VALIDATE_SIGNATURE=false)")
		}
		v := twiliowhatsapp.NewSignatureValidator(p.TwilioAuthToken)
		svcOpts = append(svcOpts, messaging.WithSignatureValidation(v, p.PublicBaseURL+api.WebhookPath))
	}
	return clientOpts, svcOpts, nil
}

// openMessaging connects the configured provider. The returned webhook is nil
// for providers that do not receive messages over HTTP.
func openMessaging(ctx context.Context, p config.Process, f *processFlags, dedup store.DedupRepo) (messaging.Service, http.HandlerFunc, error) {
	switch p.Provider {
	case config.ProviderWhatsmeow:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(p, f)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create whatsmeow client: %w", err)
		}
		slog.Info("openMessaging: using whatsmeow provider")
		return messaging.NewWhatsAppService(client), nil, nil
	case config.ProviderTwilio:
		clientOpts, svcOpts, err := buildTwilioOptions(p, dedup)
		if err != nil {
			return nil, nil, err
		}
		client, err := twiliowhatsapp.NewClient(clientOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client, svcOpts...)
		slog.Info("openMessaging: using Twilio provider", "signature_validation", p.TwilioValidateSignature)
		return svc, svc.WebhookHandler, nil
	default:
		return nil, nil, fmt.Errorf("unknown messaging provider %q", p.Provider)
	}
}

// openSessions returns Redis-backed sessions when REDIS_ADDR is set and the
// main store otherwise. The closer releases the Redis connection.
func openSessions(ctx context.Context, p config.Process, b config.Business, st store.Store) (store.SessionRepo, func() error, error) {
	if p.RedisAddr == "" {
		return st, func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{Addr: p.RedisAddr, Password: p.RedisPassword})
	sessions := store.NewRedisSessionStore(client, b.SessionIdleTTL())
	if err := sessions.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", p.RedisAddr, err)
	}
	slog.Info("openSessions: sessions stored in redis", "addr", p.RedisAddr)
	return sessions, client.Close, nil
}

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/smartpymes/restaurante/internal/models"
	"github.com/smartpymes/restaurante/internal/store"
	"github.com/smartpymes/restaurante/internal/twiliowhatsapp"
)

// TwilioSignatureHeader carries the HMAC Twilio computes over each webhook request.
const TwilioSignatureHeader = "X-Twilio-Signature"

// emptyTwiML acknowledges a webhook without replying inline; replies are sent
// through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements Service on top of the Twilio REST API and the
// inbound message webhook.
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender
	events    *channels
	dedup     store.DedupRepo
	validator *twiliowhatsapp.SignatureValidator
	publicURL string
}

var _ Service = (*TwilioService)(nil)

// TwilioOption customises a TwilioService.
type TwilioOption func(*TwilioService)

// WithDedup drops webhook retries whose MessageSid was already accepted.
func WithDedup(repo store.DedupRepo) TwilioOption {
	return func(s *TwilioService) { s.dedup = repo }
}

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature does
// not match publicURL, the address Twilio is configured to call.
func WithSignatureValidation(v *twiliowhatsapp.SignatureValidator, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a TwilioService sending through client.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client: client,
		events: newChannels(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient strips the "whatsapp:" scheme and all non-digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// Start is a no-op; inbound traffic arrives through WebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *TwilioService) Stop() error {
	if s.events.close() {
		slog.Info("TwilioService.Stop: stopped")
	}
	return nil
}

// SendMessage sends a message via Twilio and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.events.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	s.events.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns the channel of sent receipts.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.events.receipts
}

// Responses returns the channel of inbound messages received by the webhook.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.events.responses
}

// WebhookHandler handles Twilio's inbound message webhook. Messages with media
// and no text are forwarded with an empty body.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.validator.Valid(s.publicURL, params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("TwilioService.WebhookHandler: invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	sid := r.PostFormValue("MessageSid")
	numMedia, _ := strconv.Atoi(r.PostFormValue("NumMedia"))
	if from == "" {
		slog.Warn("TwilioService.WebhookHandler: missing sender", "sid", sid)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	if s.dedup != nil && sid != "" {
		dup, err := s.dedup.IsDuplicate(sid)
		if err != nil {
			slog.Error("TwilioService.WebhookHandler: dedup lookup failed", "error", err, "sid", sid)
		} else if dup {
			slog.Info("TwilioService.WebhookHandler: duplicate delivery dropped", "sid", sid, "from", from)
			writeTwiML(w)
			return
		}
	}

	slog.Info("TwilioService.WebhookHandler: inbound message", "from", from, "sid", sid, "body_length", len(body), "num_media", numMedia)
	if !s.events.emitResponse(models.Response{From: from, Body: body, Time: time.Now().Unix(), MessageID: sid}) {
		slog.Warn("TwilioService.WebhookHandler: responses channel unavailable, asking Twilio to retry", "from", from, "sid", sid)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	if s.dedup != nil && sid != "" {
		if _, err := s.dedup.RecordInbound(sid, from); err != nil {
			slog.Error("TwilioService.WebhookHandler: failed to record inbound message", "error", err, "sid", sid)
		}
	}
	writeTwiML(w)
}

func writeTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

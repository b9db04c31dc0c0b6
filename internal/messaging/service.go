// Package messaging connects WhatsApp transports (Twilio or whatsmeow) to the
// booking flow: inbound messages flow out of a Service's Responses channel and
// replies go back through SendMessage.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/smartpymes/restaurante/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer of receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds a blocked channel send before the event is dropped.
	DefaultChannelTimeout = 1 * time.Second
	// MinRecipientDigits is the shortest accepted phone number.
	MinRecipientDigits = 6
)

// ErrServiceStopped is returned by SendMessage after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the digits-only form of a phone number.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Receipts returns a channel of delivery receipts.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound messages.
	Responses() <-chan models.Response
}

// canonicalizeRecipient strips everything but digits and requires a minimum length.
// "whatsapp:+57 300-111-2233" becomes "573001112233".
func canonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinRecipientDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinRecipientDigits)
	}
	if canonical != recipient {
		slog.Debug("messaging: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// channels owns a service's receipt and response channels. Sends hold the read
// lock so close never races an in-flight send. Receipts are dropped when nobody
// drains them.
type channels struct {
	mu        sync.RWMutex
	stopped   bool
	receipts  chan models.Receipt
	responses chan models.Response
}

func newChannels() *channels {
	return &channels{
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

func (c *channels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

func (c *channels) emitReceipt(r models.Receipt) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return false
	}
	select {
	case c.receipts <- r:
		return true
	default:
		return false
	}
}

func (c *channels) emitResponse(r models.Response) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return false
	}
	select {
	case c.responses <- r:
		return true
	case <-time.After(DefaultChannelTimeout):
		return false
	}
}

// close closes both channels once. It reports false when already closed.
func (c *channels) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.stopped = true
	close(c.receipts)
	close(c.responses)
	return true
}

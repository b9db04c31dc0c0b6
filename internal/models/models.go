// Package models defines the data structures shared across restaurante packages.
package models

import (
	"errors"
	"time"
)

// Booking validation errors.
var (
	ErrEmptyContact    = errors.New("booking contact cannot be empty")
	ErrEmptyEventID    = errors.New("booking event id cannot be empty")
	ErrInvalidInterval = errors.New("booking start must be before end")
	ErrInvalidParty    = errors.New("booking party size must be positive")
)

// Booking is a persisted reservation tied to an external calendar event.
type Booking struct {
	ID        int64     `json:"id"`
	Contact   string    `json:"contact"`
	Name      string    `json:"name"`
	Service   string    `json:"service"`
	PartySize int       `json:"party_size"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	EventID   string    `json:"event_id"`
	Reminded  bool      `json:"reminded"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the booking invariants enforced before insert.
func (b Booking) Validate() error {
	if b.Contact == "" {
		return ErrEmptyContact
	}
	if b.EventID == "" {
		return ErrEmptyEventID
	}
	if b.PartySize <= 0 {
		return ErrInvalidParty
	}
	if !b.Start.Before(b.End) {
		return ErrInvalidInterval
	}
	return nil
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt reports the delivery status of an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a contact. Body is empty for
// media-only messages. MessageID is the transport's identifier, used for dedup.
type Response struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
	MessageID string `json:"message_id,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

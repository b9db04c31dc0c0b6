// Package calendar connects the booking engine to Google Calendar.
//
// It owns the OAuth credential lifecycle (consent URL, code exchange, refresh and
// persistence), free/busy lookups and event creation and deletion.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrNotAuthorized is returned when no usable credential has been stored.
	ErrNotAuthorized = errors.New("calendar not authorized")
	// ErrInvalidState is returned when an OAuth callback carries a state that was
	// not issued by this process or has expired.
	ErrInvalidState = errors.New("invalid oauth state")
)

// EventSource tags events created by the bot in their private extended properties.
const EventSource = "restaurante-bot"

// Event describes a calendar event to create.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	// TimeZone is the IANA zone name attached to start and end.
	TimeZone string
}

// TokenStore persists the serialized OAuth token.
type TokenStore interface {
	GetOAuthToken() (string, error)
	SaveOAuthToken(tokenJSON string) error
}

// TokenProvider yields a currently valid access token, refreshing and persisting
// it when needed.
type TokenProvider interface {
	ValidToken(ctx context.Context) (*oauth2.Token, error)
}

func encodeToken(tok *oauth2.Token) (string, error) {
	data, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("failed to encode oauth token: %w", err)
	}
	return string(data), nil
}

func decodeToken(raw string) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("failed to decode oauth token: %w", err)
	}
	return &tok, nil
}

// mergeToken keeps the previous refresh token when the provider omits it on refresh.
func mergeToken(prev, next *oauth2.Token) *oauth2.Token {
	merged := *next
	if merged.RefreshToken == "" && prev != nil {
		merged.RefreshToken = prev.RefreshToken
	}
	return &merged
}

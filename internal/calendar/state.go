package calendar

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

const (
	stateName = "restaurante_oauth_state"
	// DefaultStateMaxAge bounds how long a consent link stays valid.
	DefaultStateMaxAge = 15 * time.Minute
)

// StateSigner issues and verifies the OAuth state parameter.
type StateSigner struct {
	sc *securecookie.SecureCookie
}

// NewStateSigner creates a signer from hashKey. An empty key is replaced with a
// random one, which invalidates outstanding links on restart.
func NewStateSigner(hashKey []byte) *StateSigner {
	if len(hashKey) == 0 {
		slog.Warn("StateSigner: no signing key configured, generating an ephemeral key")
		hashKey = securecookie.GenerateRandomKey(32)
	}
	sc := securecookie.New(hashKey, nil)
	sc.MaxAge(int(DefaultStateMaxAge.Seconds()))
	return &StateSigner{sc: sc}
}

// Issue returns a signed, timestamped state value carrying a fresh nonce.
func (s *StateSigner) Issue() (string, error) {
	val := map[string]string{"nonce": uuid.NewString()}
	encoded, err := s.sc.Encode(stateName, val)
	if err != nil {
		return "", fmt.Errorf("failed to sign oauth state: %w", err)
	}
	return encoded, nil
}

// Verify checks a state value returned by the consent screen.
func (s *StateSigner) Verify(state string) error {
	if state == "" {
		return ErrInvalidState
	}
	val := map[string]string{}
	if err := s.sc.Decode(stateName, state, &val); err != nil {
		slog.Debug("StateSigner.Verify: decode failed", "error", err)
		return ErrInvalidState
	}
	if _, err := uuid.Parse(val["nonce"]); err != nil {
		return ErrInvalidState
	}
	return nil
}

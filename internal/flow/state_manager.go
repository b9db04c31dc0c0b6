package flow

import (
	"errors"
	"log/slog"
	"time"

	"github.com/smartpymes/restaurante/internal/models"
	"github.com/smartpymes/restaurante/internal/store"
)

// SessionStore is the session persistence the flow needs.
type SessionStore interface {
	GetSession(contact string) (*models.SessionRecord, error)
	SaveSession(rec models.SessionRecord) error
	DeleteSession(contact string) error
}

// SessionManager loads and stores stages, applying the idle expiry policy.
type SessionManager struct {
	repo SessionStore
	ttl  time.Duration
	now  func() time.Time
}

// NewSessionManager creates a SessionManager. A zero ttl disables expiry.
func NewSessionManager(repo SessionStore, ttl time.Duration, now func() time.Time) *SessionManager {
	if now == nil {
		now = time.Now
	}
	slog.Debug("Creating SessionManager", "ttl", ttl)
	return &SessionManager{repo: repo, ttl: ttl, now: now}
}

// Load returns the contact's stage. Sessions idle for longer than the ttl and
// sessions the store cannot decode are dropped and reported as Idle.
func (m *SessionManager) Load(contact string) (Stage, error) {
	rec, err := m.repo.GetSession(contact)
	if errors.Is(err, store.ErrMalformedSession) {
		slog.Warn("SessionManager.Load: discarding malformed session", "error", err, "contact", contact)
		if err := m.repo.DeleteSession(contact); err != nil {
			slog.Error("SessionManager.Load: failed to delete malformed session", "error", err, "contact", contact)
			return nil, err
		}
		return Idle{}, nil
	}
	if err != nil {
		slog.Error("SessionManager.Load: get failed", "error", err, "contact", contact)
		return nil, err
	}
	if rec == nil {
		return Idle{}, nil
	}
	if m.ttl > 0 && m.now().Sub(rec.UpdatedAt) > m.ttl {
		slog.Info("SessionManager.Load: session expired", "contact", contact, "step", rec.Step, "updated_at", rec.UpdatedAt)
		if err := m.repo.DeleteSession(contact); err != nil {
			slog.Warn("SessionManager.Load: failed to delete expired session", "error", err, "contact", contact)
		}
		return Idle{}, nil
	}
	s := decodeStage(rec)
	slog.Debug("SessionManager.Load", "contact", contact, "stage", s.String())
	return s, nil
}

// Save persists s. Idle removes the session so an idle contact never carries a payload.
func (m *SessionManager) Save(contact string, s Stage) error {
	if _, idle := s.(Idle); idle {
		return m.Reset(contact)
	}
	if err := m.repo.SaveSession(encodeStage(contact, s, m.now())); err != nil {
		slog.Error("SessionManager.Save: save failed", "error", err, "contact", contact, "stage", s.String())
		return err
	}
	slog.Debug("SessionManager.Save", "contact", contact, "stage", s.String())
	return nil
}

// Reset clears the contact's session.
func (m *SessionManager) Reset(contact string) error {
	if err := m.repo.DeleteSession(contact); err != nil {
		slog.Error("SessionManager.Reset: delete failed", "error", err, "contact", contact)
		return err
	}
	return nil
}

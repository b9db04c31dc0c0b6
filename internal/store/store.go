// Package store provides storage backends for restaurante.
//
// It defines the repositories the booking engine depends on (sessions, bookings,
// the calendar credential and inbound dedup) and implements them in memory,
// on SQLite and on PostgreSQL. Sessions can additionally live in Redis.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smartpymes/restaurante/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMalformedSession is returned when a stored session cannot be decoded.
	ErrMalformedSession = errors.New("malformed session")
)

// SessionRepo persists per-contact dialogue progress.
type SessionRepo interface {
	// GetSession returns the contact's session, or nil when there is none. A
	// stored session that cannot be decoded yields ErrMalformedSession.
	GetSession(contact string) (*models.SessionRecord, error)
	// SaveSession inserts or replaces the contact's session.
	SaveSession(rec models.SessionRecord) error
	// DeleteSession removes the contact's session. Missing sessions are not an error.
	DeleteSession(contact string) error
	// DeleteSessionsIdleSince removes sessions not updated since cutoff.
	DeleteSessionsIdleSince(cutoff time.Time) (int64, error)
}

// BookingRepo persists reservations.
type BookingRepo interface {
	AddBooking(b models.Booking) (int64, error)
	// GetBooking returns ErrNotFound when the id does not exist.
	GetBooking(id int64) (*models.Booking, error)
	// ListUpcomingBookings returns the contact's bookings starting at or after from,
	// nearest start first, at most limit rows.
	ListUpcomingBookings(contact string, from time.Time, limit int) ([]models.Booking, error)
	// DeleteBooking returns ErrNotFound when the id does not exist.
	DeleteBooking(id int64) error
	// ListDueReminders returns unreminded bookings with start in [from, to).
	ListDueReminders(from, to time.Time) ([]models.Booking, error)
	// MarkReminded flips reminded from false to true. It returns ErrNotFound when
	// no unreminded booking with that id exists.
	MarkReminded(id int64) error
}

// TokenRepo persists the single calendar credential as an opaque JSON blob.
type TokenRepo interface {
	// GetOAuthToken returns ErrNotFound when no credential has been stored.
	GetOAuthToken() (string, error)
	SaveOAuthToken(tokenJSON string) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	SessionRepo
	BookingRepo
	TokenRepo
	DedupRepo
	DedupPurger
	Close() error
}

// Opts holds configuration options for SQL stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for SQL stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open returns a SQL store for the DSN, or an in-memory store when dsn is empty.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Warn("store.Open: no database DSN provided, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		slog.Debug("store.Open: detected PostgreSQL DSN", "dsn_type", "postgresql")
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	slog.Debug("store.Open: detected SQLite DSN", "db_path", dsn)
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// InMemoryStore keeps everything in process memory. It is used by tests and when
// no database is configured.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.SessionRecord
	bookings map[int64]models.Booking
	nextID   int64
	token    string
	dedup    map[string]DedupRecord
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.SessionRecord),
		bookings: make(map[int64]models.Booking),
		dedup:    make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) GetSession(contact string) (*models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[contact]
	if !ok {
		return nil, nil
	}
	rec.Payload = copyPayload(rec.Payload)
	return &rec, nil
}

func (s *InMemoryStore) SaveSession(rec models.SessionRecord) error {
	if rec.Contact == "" {
		return fmt.Errorf("session contact cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	rec.Payload = copyPayload(rec.Payload)
	s.sessions[rec.Contact] = rec
	return nil
}

func (s *InMemoryStore) DeleteSession(contact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, contact)
	return nil
}

func (s *InMemoryStore) DeleteSessionsIdleSince(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for contact, rec := range s.sessions {
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.sessions, contact)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) AddBooking(b models.Booking) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	b.ID = s.nextID
	b.Reminded = false
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	s.bookings[b.ID] = b
	return b.ID, nil
}

func (s *InMemoryStore) GetBooking(id int64) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *InMemoryStore) ListUpcomingBookings(contact string, from time.Time, limit int) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if b.Contact == contact && !b.Start.Before(from) {
			out = append(out, b)
		}
	}
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) DeleteBooking(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[id]; !ok {
		return ErrNotFound
	}
	delete(s.bookings, id)
	return nil
}

func (s *InMemoryStore) ListDueReminders(from, to time.Time) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if !b.Reminded && !b.Start.Before(from) && b.Start.Before(to) {
			out = append(out, b)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *InMemoryStore) MarkReminded(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Reminded {
		return ErrNotFound
	}
	b.Reminded = true
	s.bookings[id] = b
	return nil
}

func (s *InMemoryStore) GetOAuthToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNotFound
	}
	return s.token, nil
}

func (s *InMemoryStore) SaveOAuthToken(tokenJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tokenJSON
	return nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, contact string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, Contact: contact, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) PurgeInboundBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.dedup {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func copyPayload(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func sortByStart(bookings []models.Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		if bookings[i].Start.Equal(bookings[j].Start) {
			return bookings[i].ID < bookings[j].ID
		}
		return bookings[i].Start.Before(bookings[j].Start)
	})
}

// Package store provides storage backends for restaurante.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/smartpymes/restaurante/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSession(contact string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	var payload string
	err := s.db.QueryRow(`SELECT contact, step, payload::text, updated_at FROM sessions WHERE contact = $1`, contact).
		Scan(&rec.Contact, &rec.Step, &payload, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "contact", contact)
		return nil, fmt.Errorf("failed to get session for %s: %w", contact, err)
	}
	if err := decodePayload(payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) SaveSession(rec models.SessionRecord) error {
	payload, err := encodePayload(rec.Payload)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err = s.db.Exec(`INSERT INTO sessions (contact, step, payload, updated_at) VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (contact) DO UPDATE SET step = EXCLUDED.step, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		rec.Contact, rec.Step, payload, rec.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "contact", rec.Contact)
		return fmt.Errorf("failed to save session for %s: %w", rec.Contact, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "contact", rec.Contact, "step", rec.Step)
	return nil
}

func (s *PostgresStore) DeleteSession(contact string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE contact = $1`, contact); err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "contact", contact)
		return fmt.Errorf("failed to delete session for %s: %w", contact, err)
	}
	return nil
}

func (s *PostgresStore) DeleteSessionsIdleSince(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle sessions: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) AddBooking(b models.Booking) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRow(`INSERT INTO bookings (contact, name, service, party_size, start_at, end_at, event_id, reminded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8) RETURNING id`,
		b.Contact, b.Name, b.Service, b.PartySize, b.Start.UTC(), b.End.UTC(), b.EventID, b.CreatedAt).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore AddBooking failed", "error", err, "contact", b.Contact)
		return 0, fmt.Errorf("failed to insert booking for %s: %w", b.Contact, err)
	}
	slog.Debug("PostgresStore AddBooking succeeded", "bookingID", id, "contact", b.Contact)
	return id, nil
}

const postgresBookingColumns = `id, contact, name, service, party_size, start_at, end_at, event_id, reminded, created_at`

func (s *PostgresStore) GetBooking(id int64) (*models.Booking, error) {
	row := s.db.QueryRow(`SELECT `+postgresBookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanPostgresBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking %d: %w", id, err)
	}
	return &b, nil
}

func (s *PostgresStore) ListUpcomingBookings(contact string, from time.Time, limit int) ([]models.Booking, error) {
	if limit < 0 {
		limit = 0
	}
	rows, err := s.db.Query(`SELECT `+postgresBookingColumns+` FROM bookings
		WHERE contact = $1 AND start_at >= $2 ORDER BY start_at ASC, id ASC LIMIT NULLIF($3::int, 0)`,
		contact, from, limit)
	if err != nil {
		slog.Error("PostgresStore ListUpcomingBookings query failed", "error", err, "contact", contact)
		return nil, fmt.Errorf("failed to query upcoming bookings: %w", err)
	}
	return collectBookings(rows, scanPostgresBooking)
}

func (s *PostgresStore) DeleteBooking(id int64) error {
	result, err := s.db.Exec(`DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteBooking failed", "error", err, "bookingID", id)
		return fmt.Errorf("failed to delete booking %d: %w", id, err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListDueReminders(from, to time.Time) ([]models.Booking, error) {
	rows, err := s.db.Query(`SELECT `+postgresBookingColumns+` FROM bookings
		WHERE reminded = FALSE AND start_at >= $1 AND start_at < $2 ORDER BY start_at ASC, id ASC`,
		from, to)
	if err != nil {
		slog.Error("PostgresStore ListDueReminders query failed", "error", err)
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	return collectBookings(rows, scanPostgresBooking)
}

func (s *PostgresStore) MarkReminded(id int64) error {
	result, err := s.db.Exec(`UPDATE bookings SET reminded = TRUE WHERE id = $1 AND reminded = FALSE`, id)
	if err != nil {
		slog.Error("PostgresStore MarkReminded failed", "error", err, "bookingID", id)
		return fmt.Errorf("failed to mark booking %d reminded: %w", id, err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) GetOAuthToken() (string, error) {
	var token string
	err := s.db.QueryRow(`SELECT token FROM oauth_tokens WHERE id = 1`).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read oauth token: %w", err)
	}
	return token, nil
}

func (s *PostgresStore) SaveOAuthToken(tokenJSON string) error {
	_, err := s.db.Exec(`INSERT INTO oauth_tokens (id, token, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at`,
		tokenJSON, time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveOAuthToken failed", "error", err)
		return fmt.Errorf("failed to save oauth token: %w", err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanPostgresBooking(row rowScanner) (models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.Contact, &b.Name, &b.Service, &b.PartySize, &b.Start, &b.End, &b.EventID, &b.Reminded, &b.CreatedAt)
	if err != nil {
		return b, err
	}
	b.Start = b.Start.UTC()
	b.End = b.End.UTC()
	return b, nil
}

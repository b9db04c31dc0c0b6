// Package store provides storage backends for restaurante.
//
// This file implements an SQLite-backed store. Instants are stored as Unix
// seconds so range queries compare integers.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smartpymes/restaurante/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:"))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One writer at a time; the reminder tick and the inbound loop share the handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dsn", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSession(contact string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	var payload string
	var updatedAt int64
	err := s.db.QueryRow(`SELECT contact, step, payload, updated_at FROM sessions WHERE contact = ?`, contact).
		Scan(&rec.Contact, &rec.Step, &payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "contact", contact)
		return nil, fmt.Errorf("failed to get session for %s: %w", contact, err)
	}
	if err := decodePayload(payload, &rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &rec, nil
}

func (s *SQLiteStore) SaveSession(rec models.SessionRecord) error {
	payload, err := encodePayload(rec.Payload)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err = s.db.Exec(`INSERT INTO sessions (contact, step, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(contact) DO UPDATE SET step = excluded.step, payload = excluded.payload, updated_at = excluded.updated_at`,
		rec.Contact, rec.Step, payload, rec.UpdatedAt.Unix())
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "contact", rec.Contact)
		return fmt.Errorf("failed to save session for %s: %w", rec.Contact, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "contact", rec.Contact, "step", rec.Step)
	return nil
}

func (s *SQLiteStore) DeleteSession(contact string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE contact = ?`, contact); err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "contact", contact)
		return fmt.Errorf("failed to delete session for %s: %w", contact, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSessionsIdleSince(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle sessions: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) AddBooking(b models.Booking) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	result, err := s.db.Exec(`INSERT INTO bookings (contact, name, service, party_size, start_at, end_at, event_id, reminded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		b.Contact, b.Name, b.Service, b.PartySize, b.Start.Unix(), b.End.Unix(), b.EventID, b.CreatedAt.Unix())
	if err != nil {
		slog.Error("SQLiteStore AddBooking failed", "error", err, "contact", b.Contact)
		return 0, fmt.Errorf("failed to insert booking for %s: %w", b.Contact, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read booking id: %w", err)
	}
	slog.Debug("SQLiteStore AddBooking succeeded", "bookingID", id, "contact", b.Contact)
	return id, nil
}

const sqliteBookingColumns = `id, contact, name, service, party_size, start_at, end_at, event_id, reminded, created_at`

func (s *SQLiteStore) GetBooking(id int64) (*models.Booking, error) {
	row := s.db.QueryRow(`SELECT `+sqliteBookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanSQLiteBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking %d: %w", id, err)
	}
	return &b, nil
}

func (s *SQLiteStore) ListUpcomingBookings(contact string, from time.Time, limit int) ([]models.Booking, error) {
	rows, err := s.db.Query(`SELECT `+sqliteBookingColumns+` FROM bookings
		WHERE contact = ? AND start_at >= ? ORDER BY start_at ASC, id ASC LIMIT ?`,
		contact, from.Unix(), limitOrAll(limit))
	if err != nil {
		slog.Error("SQLiteStore ListUpcomingBookings query failed", "error", err, "contact", contact)
		return nil, fmt.Errorf("failed to query upcoming bookings: %w", err)
	}
	return collectBookings(rows, scanSQLiteBooking)
}

func (s *SQLiteStore) DeleteBooking(id int64) error {
	result, err := s.db.Exec(`DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteBooking failed", "error", err, "bookingID", id)
		return fmt.Errorf("failed to delete booking %d: %w", id, err)
	}
	return requireAffected(result)
}

func (s *SQLiteStore) ListDueReminders(from, to time.Time) ([]models.Booking, error) {
	rows, err := s.db.Query(`SELECT `+sqliteBookingColumns+` FROM bookings
		WHERE reminded = 0 AND start_at >= ? AND start_at < ? ORDER BY start_at ASC, id ASC`,
		from.Unix(), to.Unix())
	if err != nil {
		slog.Error("SQLiteStore ListDueReminders query failed", "error", err)
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	return collectBookings(rows, scanSQLiteBooking)
}

func (s *SQLiteStore) MarkReminded(id int64) error {
	result, err := s.db.Exec(`UPDATE bookings SET reminded = 1 WHERE id = ? AND reminded = 0`, id)
	if err != nil {
		slog.Error("SQLiteStore MarkReminded failed", "error", err, "bookingID", id)
		return fmt.Errorf("failed to mark booking %d reminded: %w", id, err)
	}
	return requireAffected(result)
}

func (s *SQLiteStore) GetOAuthToken() (string, error) {
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

func (s *SQLiteStore) SaveOAuthToken(tokenJSON string) error {
	_, err := s.db.Exec(`INSERT INTO oauth_tokens (id, token, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		tokenJSON, time.Now().Unix())
	if err != nil {
		slog.Error("SQLiteStore SaveOAuthToken failed", "error", err)
		return fmt.Errorf("failed to save oauth token: %w", err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteBooking(row rowScanner) (models.Booking, error) {
	var b models.Booking
	var start, end, created int64
	var reminded int
	err := row.Scan(&b.ID, &b.Contact, &b.Name, &b.Service, &b.PartySize, &start, &end, &b.EventID, &reminded, &created)
	if err != nil {
		return b, err
	}
	b.Start = time.Unix(start, 0).UTC()
	b.End = time.Unix(end, 0).UTC()
	b.CreatedAt = time.Unix(created, 0).UTC()
	b.Reminded = reminded != 0
	return b, nil
}

func encodePayload(p map[string]string) (string, error) {
	if p == nil {
		p = map[string]string{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode session payload: %w", err)
	}
	return string(data), nil
}

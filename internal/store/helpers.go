package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/smartpymes/restaurante/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// collectBookings drains rows with scan and closes them.
func collectBookings(rows *sql.Rows, scan func(rowScanner) (models.Booking, error)) ([]models.Booking, error) {
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking row: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate booking rows: %w", err)
	}
	return bookings, nil
}

// requireAffected maps a zero-row update or delete to ErrNotFound.
func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected check failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func decodePayload(raw string, rec *models.SessionRecord) error {
	if raw == "" {
		return nil
	}
	payload := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("%w: payload for %s: %v", ErrMalformedSession, rec.Contact, err)
	}
	if len(payload) > 0 {
		rec.Payload = payload
	}
	return nil
}

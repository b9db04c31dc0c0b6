package store

import (
	"fmt"
	"log/slog"
	"time"
)

var (
	_ DedupRepo   = (*PostgresStore)(nil)
	_ DedupPurger = (*PostgresStore)(nil)
)

func (s *PostgresStore) IsDuplicate(messageID string) (bool, error) {
	var seen bool
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM inbound_dedup WHERE message_id = $1)`, messageID).Scan(&seen); err != nil {
		return false, fmt.Errorf("failed to look up inbound message %s: %w", messageID, err)
	}
	return seen, nil
}

func (s *PostgresStore) RecordInbound(messageID, contact string) (bool, error) {
	res, err := s.db.Exec(`INSERT INTO inbound_dedup (message_id, contact, received_at) VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO NOTHING`, messageID, contact, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to record inbound message %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record inbound message %s: %w", messageID, err)
	}
	if n == 0 {
		slog.Debug("PostgresStore.RecordInbound: message already recorded", "messageID", messageID, "contact", contact)
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkProcessed(messageID string) error {
	if _, err := s.db.Exec(`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`, time.Now(), messageID); err != nil {
		return fmt.Errorf("failed to mark message %s processed: %w", messageID, err)
	}
	return nil
}

func (s *PostgresStore) PurgeInboundBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge inbound messages: %w", err)
	}
	return res.RowsAffected()
}

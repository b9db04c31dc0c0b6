package store

import (
	"time"
)

// DedupRetention is how long inbound message ids are remembered. Providers stop
// retrying a delivery long before this.
const DedupRetention = 7 * 24 * time.Hour

// DedupRecord is one remembered inbound message id.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Contact     string     `json:"contact"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo remembers inbound message ids so provider redeliveries are handled once.
type DedupRepo interface {
	// IsDuplicate reports whether messageID has been recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound remembers messageID for contact. It returns false when the
	// id was already recorded.
	RecordInbound(messageID, contact string) (bool, error)

	// MarkProcessed stamps the time the booking flow finished with messageID.
	MarkProcessed(messageID string) error
}

// DedupPurger forgets inbound message ids received before cutoff.
type DedupPurger interface {
	PurgeInboundBefore(cutoff time.Time) (int64, error)
}

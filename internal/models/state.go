// Package models defines state management structures for booking dialogues.
package models

import "time"

// SessionRecord is the persisted form of one contact's dialogue progress.
// Step 0 means idle; Payload holds the fields collected so far.
type SessionRecord struct {
	Contact   string            `json:"contact"`
	Step      int               `json:"step"`
	Payload   map[string]string `json:"payload,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Payload keys used by the booking dialogue.
const (
	PayloadName  = "name"
	PayloadParty = "party"
	PayloadDate  = "date"
)

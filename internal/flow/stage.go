package flow

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cloud.google.com/go/civil"

	"github.com/smartpymes/restaurante/internal/models"
)

// Stage is the dialogue position of one contact. Each variant carries exactly the
// fields collected so far.
type Stage interface {
	// Step is the persisted step number, 0 for Idle.
	Step() int
	String() string
	stage()
}

// Idle means no booking dialogue is in progress.
type Idle struct{}

// AwaitingName waits for the customer's name.
type AwaitingName struct{}

// AwaitingParty waits for the party size.
type AwaitingParty struct {
	Name string
}

// AwaitingDate waits for the reservation date.
type AwaitingDate struct {
	Name  string
	Party int
}

// AwaitingTime waits for the reservation time.
type AwaitingTime struct {
	Name  string
	Party int
	Date  civil.Date
}

func (Idle) Step() int          { return 0 }
func (AwaitingName) Step() int  { return 1 }
func (AwaitingParty) Step() int { return 2 }
func (AwaitingDate) Step() int  { return 3 }
func (AwaitingTime) Step() int  { return 4 }

func (Idle) String() string          { return "idle" }
func (AwaitingName) String() string  { return "awaiting_name" }
func (AwaitingParty) String() string { return "awaiting_party" }
func (AwaitingDate) String() string  { return "awaiting_date" }
func (AwaitingTime) String() string  { return "awaiting_time" }

func (Idle) stage()          {}
func (AwaitingName) stage()  {}
func (AwaitingParty) stage() {}
func (AwaitingDate) stage()  {}
func (AwaitingTime) stage()  {}

// encodeStage flattens a stage into its persisted record.
func encodeStage(contact string, s Stage, now time.Time) models.SessionRecord {
	rec := models.SessionRecord{Contact: contact, Step: s.Step(), UpdatedAt: now}
	switch v := s.(type) {
	case AwaitingParty:
		rec.Payload = map[string]string{models.PayloadName: v.Name}
	case AwaitingDate:
		rec.Payload = map[string]string{
			models.PayloadName:  v.Name,
			models.PayloadParty: strconv.Itoa(v.Party),
		}
	case AwaitingTime:
		rec.Payload = map[string]string{
			models.PayloadName:  v.Name,
			models.PayloadParty: strconv.Itoa(v.Party),
			models.PayloadDate:  v.Date.String(),
		}
	}
	return rec
}

// decodeStage rebuilds a stage from its record. Records with an unknown step or
// missing fields decode as Idle.
func decodeStage(rec *models.SessionRecord) Stage {
	if rec == nil {
		return Idle{}
	}
	s, err := parseStage(rec)
	if err != nil {
		slog.Warn("flow.decodeStage: discarding malformed session", "contact", rec.Contact, "step", rec.Step, "error", err)
		return Idle{}
	}
	return s
}

func parseStage(rec *models.SessionRecord) (Stage, error) {
	p := rec.Payload
	switch rec.Step {
	case 0:
		return Idle{}, nil
	case 1:
		return AwaitingName{}, nil
	}

	name, ok := p[models.PayloadName]
	if !ok {
		return nil, fmt.Errorf("missing %s", models.PayloadName)
	}
	if rec.Step == 2 {
		return AwaitingParty{Name: name}, nil
	}

	party, err := strconv.Atoi(p[models.PayloadParty])
	if err != nil || party <= 0 {
		return nil, fmt.Errorf("invalid %s %q", models.PayloadParty, p[models.PayloadParty])
	}
	if rec.Step == 3 {
		return AwaitingDate{Name: name, Party: party}, nil
	}

	if rec.Step != 4 {
		return nil, fmt.Errorf("unknown step %d", rec.Step)
	}
	date, err := civil.ParseDate(p[models.PayloadDate])
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", models.PayloadDate, err)
	}
	return AwaitingTime{Name: name, Party: party, Date: date}, nil
}

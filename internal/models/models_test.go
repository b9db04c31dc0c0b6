package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestBookingValidate(t *testing.T) {
	start := time.Date(2026, 10, 20, 0, 30, 0, 0, time.UTC)
	valid := Booking{Contact: "573001112233", Name: "Ana", PartySize: 2, Start: start, End: start.Add(90 * time.Minute), EventID: "evt1"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid booking, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Booking)
		want   error
	}{
		{"missing contact", func(b *Booking) { b.Contact = "" }, ErrEmptyContact},
		{"missing event", func(b *Booking) { b.EventID = "" }, ErrEmptyEventID},
		{"zero party", func(b *Booking) { b.PartySize = 0 }, ErrInvalidParty},
		{"end before start", func(b *Booking) { b.End = b.Start }, ErrInvalidInterval},
	}
	for _, tt := range tests {
		b := valid
		tt.mutate(&b)
		if err := b.Validate(); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	data, err := json.Marshal(Error("bad"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"status":"error","message":"bad"}` {
		t.Errorf("unexpected error JSON %s", data)
	}
	if ok := Success(nil); ok.Status != "ok" {
		t.Errorf("expected ok status, got %q", ok.Status)
	}
}

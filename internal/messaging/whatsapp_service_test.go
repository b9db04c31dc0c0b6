package messaging

import (
	"context"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/smartpymes/restaurante/internal/models"
	"github.com/smartpymes/restaurante/internal/whatsapp"
)

func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+57 300 111 2233", "hola"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "573001112233" {
			t.Errorf("expected receipt.To 573001112233, got %s", receipt.To)
		}
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("expected receipt.Status %s, got %s", models.MessageStatusSent, receipt.Status)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
	if mockClient.Count() != 1 {
		t.Errorf("client sent %d messages", mockClient.Count())
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if receipt, ok := <-svc.Receipts(); ok {
		t.Errorf("expected receipts channel closed, got value %v", receipt)
	}
	if response, ok := <-svc.Responses(); ok {
		t.Errorf("expected responses channel closed, got value %v", response)
	}
	if err := svc.SendMessage(context.Background(), "573001112233", "hola"); err != ErrServiceStopped {
		t.Errorf("err = %v, want ErrServiceStopped", err)
	}
}

func incoming(msg *waE2E.Message) *events.Message {
	evt := &events.Message{Message: msg}
	evt.Info.Sender = types.NewJID("573001112233", types.DefaultUserServer)
	evt.Info.ID = "ABC"
	evt.Info.Timestamp = time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)
	return evt
}

func TestWhatsAppService_IncomingText(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	text := "reservar"
	svc.handleIncomingMessage(incoming(&waE2E.Message{Conversation: &text}))

	select {
	case r := <-svc.Responses():
		if r.From != "573001112233" || r.Body != "reservar" || r.MessageID != "ABC" {
			t.Errorf("response = %+v", r)
		}
	default:
		t.Fatal("text message not forwarded")
	}
}

func TestWhatsAppService_IncomingMediaHasEmptyBody(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	svc.handleIncomingMessage(incoming(&waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}))

	select {
	case r := <-svc.Responses():
		if r.Body != "" {
			t.Errorf("media body = %q", r.Body)
		}
	default:
		t.Fatal("media message not forwarded")
	}
}

func TestWhatsAppService_IgnoresOwnMessages(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	text := "hola"
	evt := incoming(&waE2E.Message{Conversation: &text})
	evt.Info.IsFromMe = true
	svc.handleIncomingMessage(evt)

	select {
	case r := <-svc.Responses():
		t.Errorf("own message forwarded: %+v", r)
	default:
	}
}

func TestMessageText(t *testing.T) {
	conv, ext := "hola", "mañana"
	tests := []struct {
		msg  *waE2E.Message
		want string
	}{
		{nil, ""},
		{&waE2E.Message{Conversation: &conv}, "hola"},
		{&waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: &ext}}, "mañana"},
		{&waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, ""},
	}
	for _, tt := range tests {
		if got := messageText(tt.msg); got != tt.want {
			t.Errorf("messageText = %q, want %q", got, tt.want)
		}
	}
}

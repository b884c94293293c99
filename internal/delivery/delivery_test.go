package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"travel_crm_backend/internal/leads/domain"
)

type fakeWhatsApp struct {
	phone, message string
	err            error
}

func (f *fakeWhatsApp) SendMessage(_ context.Context, phone, message string) error {
	f.phone, f.message = phone, message
	return f.err
}

type fakeEmail struct {
	to, subject string
}

func (f *fakeEmail) SendFollowUp(_ context.Context, to, _, subject, _ string) error {
	f.to, f.subject = to, subject
	return nil
}

func TestRouterSendsByChannel(t *testing.T) {
	wa := &fakeWhatsApp{}
	mail := &fakeEmail{}
	router := NewRouter(wa, mail)

	if err := router.Send(context.Background(), Message{Channel: domain.ChannelWhatsApp, To: "+5511987654321", Body: "Oi"}); err != nil {
		t.Fatalf("expected whatsapp send to succeed, got %v", err)
	}
	if wa.phone != "+5511987654321" || wa.message != "Oi" {
		t.Fatalf("unexpected whatsapp call %+v", wa)
	}

	if err := router.Send(context.Background(), Message{Channel: domain.ChannelEmail, To: "ana@example.com", Subject: "Sua viagem"}); err != nil {
		t.Fatalf("expected email send to succeed, got %v", err)
	}
	if mail.to != "ana@example.com" || mail.subject != "Sua viagem" {
		t.Fatalf("unexpected email call %+v", mail)
	}
}

func TestRouterRejectsMissingRecipientAndChannel(t *testing.T) {
	router := NewRouter(&fakeWhatsApp{}, nil)

	if err := router.Send(context.Background(), Message{Channel: domain.ChannelWhatsApp}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
	err := router.Send(context.Background(), Message{Channel: domain.ChannelEmail, To: "ana@example.com"})
	if !errors.Is(err, ErrChannelUnsupported) || !IsPermanent(err) {
		t.Fatalf("expected permanent unsupported-channel error, got %v", err)
	}
}

func TestIsPermanent(t *testing.T) {
	if IsPermanent(errors.New("timeout")) {
		t.Fatal("expected plain error to be retryable")
	}
	wrapped := fmt.Errorf("send: %w", Permanent(errors.New("number not on whatsapp")))
	if !IsPermanent(wrapped) {
		t.Fatal("expected wrapped permanent error to be detected")
	}
	if Permanent(nil) != nil {
		t.Fatal("expected Permanent(nil) to be nil")
	}
}

// Package delivery routes rendered follow-up messages to the channel clients.
// Provider wire formats live in internal/whatsapp and internal/email; this
// package only knows the "send text to recipient" contract.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"travel_crm_backend/internal/leads/domain"
)

var (
	// ErrNoRecipient means the lead has no usable address for the channel.
	ErrNoRecipient = errors.New("no recipient address")
	// ErrChannelUnsupported means no client is configured for the channel.
	ErrChannelUnsupported = errors.New("delivery channel not supported")
)

// Message is one outbound follow-up.
type Message struct {
	Channel       domain.Channel
	To            string
	RecipientName string
	Subject       string
	Body          string
}

// PermanentError wraps a provider rejection that retrying will not fix,
// such as an unknown number or a rejected sender.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent delivery failure: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm) || errors.Is(err, ErrNoRecipient) || errors.Is(err, ErrChannelUnsupported)
}

// WhatsAppSender sends a plain text WhatsApp message to an E.164 number.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, phoneNumber string, message string) error
}

// EmailSender sends a plain follow-up email.
type EmailSender interface {
	SendFollowUp(ctx context.Context, toEmail, toName, subject, body string) error
}

// Router picks the client for a message's channel.
type Router struct {
	whatsapp WhatsAppSender
	email    EmailSender
}

// NewRouter creates a router. A nil sender disables its channel.
func NewRouter(whatsapp WhatsAppSender, email EmailSender) *Router {
	return &Router{whatsapp: whatsapp, email: email}
}

// Send delivers msg over its channel.
func (r *Router) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}

	switch msg.Channel {
	case domain.ChannelWhatsApp:
		if r.whatsapp == nil {
			return fmt.Errorf("%w: %s", ErrChannelUnsupported, msg.Channel)
		}
		return r.whatsapp.SendMessage(ctx, msg.To, msg.Body)
	case domain.ChannelEmail:
		if r.email == nil {
			return fmt.Errorf("%w: %s", ErrChannelUnsupported, msg.Channel)
		}
		return r.email.SendFollowUp(ctx, msg.To, msg.RecipientName, msg.Subject, msg.Body)
	default:
		return fmt.Errorf("%w: %s", ErrChannelUnsupported, msg.Channel)
	}
}

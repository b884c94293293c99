package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"travel_crm_backend/internal/delivery"

	gomail "github.com/wneessen/go-mail"
)

// SMTPSender delivers follow-ups over a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (s *SMTPSender) SendFollowUp(ctx context.Context, toEmail, toName, subject, body string) error {
	msg, err := s.buildMessage(toEmail, toName, subject, body)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}

	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		err = fmt.Errorf("smtp send: %w", err)
		if isRejectedRecipient(err) {
			return delivery.Permanent(err)
		}
		return err
	}
	return nil
}

func (s *SMTPSender) buildMessage(toEmail, toName, subject, body string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.AddToFormat(toName, toEmail); err != nil {
		return nil, delivery.Permanent(fmt.Errorf("smtp to: %w", err))
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	html, err := renderFollowUpHTML(subject, body, s.fromName)
	if err != nil {
		return nil, err
	}
	msg.AddAlternativeString(gomail.TypeTextHTML, html)
	return msg, nil
}

func isRejectedRecipient(err error) bool {
	var sendErr *gomail.SendError
	if !errors.As(err, &sendErr) {
		return false
	}
	return sendErr.Reason == gomail.ErrSMTPRcptTo && !sendErr.IsTemp()
}

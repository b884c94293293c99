// Package email delivers follow-up emails through Brevo or a plain SMTP server.
package email

import (
	"travel_crm_backend/internal/delivery"
	"travel_crm_backend/platform/config"
)

const (
	ProviderBrevo = "brevo"
	ProviderSMTP  = "smtp"
)

// NewSender returns the configured sender, or nil when email is disabled.
func NewSender(cfg config.EmailConfig) delivery.EmailSender {
	if !cfg.GetEmailEnabled() {
		return nil
	}
	if cfg.GetEmailProvider() == ProviderSMTP {
		return NewSMTPSender(cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUsername(), cfg.GetSMTPPassword(),
			cfg.GetEmailFromAddress(), cfg.GetEmailFromName())
	}
	return NewBrevoSender(cfg.GetBrevoAPIKey(), cfg.GetEmailFromAddress(), cfg.GetEmailFromName())
}

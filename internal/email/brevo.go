package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"travel_crm_backend/internal/delivery"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

type BrevoSender struct {
	apiKey    string
	fromName  string
	fromEmail string
	endpoint  string
	client    *http.Client
}

type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoEmailRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
	TextContent string         `json:"textContent"`
}

func NewBrevoSender(apiKey, fromEmail, fromName string) *BrevoSender {
	return &BrevoSender{
		apiKey:    apiKey,
		fromName:  fromName,
		fromEmail: fromEmail,
		endpoint:  brevoEndpoint,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BrevoSender) SendFollowUp(ctx context.Context, toEmail, toName, subject, body string) error {
	html, err := renderFollowUpHTML(subject, body, b.fromName)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(brevoEmailRequest{
		Sender:      brevoContact{Name: b.fromName, Email: b.fromEmail},
		To:          []brevoContact{{Name: toName, Email: toEmail}},
		Subject:     subject,
		HTMLContent: html,
		TextContent: body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("brevo request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err = fmt.Errorf("brevo send failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
		return delivery.Permanent(err)
	}
	return err
}

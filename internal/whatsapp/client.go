// Package whatsapp sends follow-up text messages through a GOWA gateway or
// the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"travel_crm_backend/internal/delivery"
	"travel_crm_backend/platform/config"
	"travel_crm_backend/platform/logger"
	"travel_crm_backend/platform/phone"
)

const (
	ProviderGowa  = "gowa"
	ProviderCloud = "cloud"

	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 2048
)

// NewSender builds the client for the configured provider. It returns nil
// when the provider is not configured, which disables the channel.
func NewSender(cfg config.WhatsAppConfig, log *logger.Logger) delivery.WhatsAppSender {
	switch cfg.GetWhatsAppProvider() {
	case ProviderCloud:
		if cfg.GetWhatsAppAccessToken() == "" || cfg.GetWhatsAppPhoneNumberID() == "" {
			return nil
		}
		return NewCloudClient(cfg, log)
	default:
		if cfg.GetWhatsAppURL() == "" {
			return nil
		}
		return NewGowaClient(cfg, log)
	}
}

// GowaClient talks to a self-hosted GOWA (go-whatsapp-web-multidevice) gateway.
type GowaClient struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *http.Client
	log      *logger.Logger
}

type gowaRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func NewGowaClient(cfg config.WhatsAppConfig, log *logger.Logger) *GowaClient {
	return &GowaClient{
		baseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:   cfg.GetWhatsAppKey(),
		deviceID: cfg.GetWhatsAppDeviceID(),
		http:     &http.Client{Timeout: defaultHTTPTimeout},
		log:      log,
	}
}

func (c *GowaClient) SendMessage(ctx context.Context, phoneNumber string, message string) error {
	// GOWA wants the bare digits.
	normalized := strings.TrimPrefix(phone.NormalizeE164(phoneNumber), "+")

	body, err := json.Marshal(gowaRequest{Phone: normalized, Message: message})
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send/message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	if err := do(c.http, req, "gowa"); err != nil {
		return err
	}
	c.log.Info("whatsapp sent via gowa", "phone", normalized)
	return nil
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(apiKey))
}

// do sends req and maps the response status: 4xx other than 408 and 429 are
// permanent, everything else that failed may be retried.
func do(client *http.Client, req *http.Request, provider string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = fmt.Errorf("%s returned %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(data)))
	if isPermanentStatus(resp.StatusCode) {
		return delivery.Permanent(err)
	}
	return err
}

func isPermanentStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}

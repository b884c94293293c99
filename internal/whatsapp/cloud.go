package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"travel_crm_backend/platform/config"
	"travel_crm_backend/platform/logger"
	"travel_crm_backend/platform/phone"
)

const cloudAPIBaseURL = "https://graph.facebook.com/v20.0"

// CloudClient sends text messages through the WhatsApp Business Cloud API.
type CloudClient struct {
	baseURL       string
	accessToken   string
	phoneNumberID string
	http          *http.Client
	log           *logger.Logger
}

type cloudText struct {
	Body string `json:"body"`
}

type cloudRequest struct {
	MessagingProduct string    `json:"messaging_product"`
	To               string    `json:"to"`
	Type             string    `json:"type"`
	Text             cloudText `json:"text"`
}

func NewCloudClient(cfg config.WhatsAppConfig, log *logger.Logger) *CloudClient {
	baseURL := cloudAPIBaseURL
	if cfg.GetWhatsAppURL() != "" {
		baseURL = cfg.GetWhatsAppURL()
	}
	return &CloudClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		accessToken:   cfg.GetWhatsAppAccessToken(),
		phoneNumberID: cfg.GetWhatsAppPhoneNumberID(),
		http:          &http.Client{Timeout: defaultHTTPTimeout},
		log:           log,
	}
}

func (c *CloudClient) SendMessage(ctx context.Context, phoneNumber string, message string) error {
	to := strings.TrimPrefix(phone.NormalizeE164(phoneNumber), "+")

	body, err := json.Marshal(cloudRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             cloudText{Body: message},
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	if err := do(c.http, req, "whatsapp cloud api"); err != nil {
		return err
	}
	c.log.Info("whatsapp sent via cloud api", "phone", to)
	return nil
}

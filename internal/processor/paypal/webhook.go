package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/smallbiznis/paydesk/internal/processor/domain"
)

type verifySignatureBody struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

func (c *Client) VerifyEventSignature(ctx context.Context, headers http.Header, rawBody []byte) (bool, error) {
	if missing := domain.MissingSignatureHeaders(headers); len(missing) > 0 {
		return false, domain.ErrSignatureHeadersMissing
	}
	webhookID := strings.TrimSpace(c.cfg.WebhookID)
	if webhookID == "" {
		return false, domain.ErrVerificationUnconfigured
	}
	if !json.Valid(rawBody) {
		return false, domain.ErrInvalidRequest
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	_, err := c.do(ctx, call{
		op:     "webhooks.verify",
		method: http.MethodPost,
		target: "/v1/notifications/verify-webhook-signature",
		body: verifySignatureBody{
			AuthAlgo:         headers.Get("paypal-auth-algo"),
			CertURL:          headers.Get("paypal-cert-url"),
			TransmissionID:   headers.Get("paypal-transmission-id"),
			TransmissionSig:  headers.Get("paypal-transmission-sig"),
			TransmissionTime: headers.Get("paypal-transmission-time"),
			WebhookID:        webhookID,
			WebhookEvent:     json.RawMessage(rawBody),
		},
		out: &out,
	})
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(out.VerificationStatus), "SUCCESS"), nil
}

package paypal

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/paydesk/internal/money"
	"github.com/smallbiznis/paydesk/internal/processor/domain"
)

type capturePayload struct {
	ID                string        `json:"id"`
	Status            string        `json:"status"`
	Amount            moneyBody     `json:"amount"`
	CreateTime        string        `json:"create_time"`
	UpdateTime        string        `json:"update_time"`
	PayerEmail        string        `json:"payer_email"`
	Links             []linkPayload `json:"links"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type refundRequestBody struct {
	Amount *moneyBody `json:"amount,omitempty"`
}

func (c *Client) GetCapture(ctx context.Context, captureID string) (*domain.Capture, error) {
	captureID = strings.TrimSpace(captureID)
	if captureID == "" {
		return nil, domain.ErrInvalidRequest
	}

	var payload capturePayload
	resp, err := c.do(ctx, call{
		op:     "captures.get",
		method: http.MethodGet,
		target: "/v2/payments/captures/" + url.PathEscape(captureID),
		out:    &payload,
	})
	if err != nil {
		return nil, err
	}

	gross, _ := money.Parse(payload.Amount.Value)
	capture := &domain.Capture{
		ID:         payload.ID,
		OrderID:    strings.TrimSpace(payload.SupplementaryData.RelatedIDs.OrderID),
		Gross:      gross.Abs(),
		Currency:   money.CurrencyOr(payload.Amount.CurrencyCode, ""),
		Status:     domain.NormalizeCaptureStatus(payload.Status),
		CreatedAt:  parseTime(firstNonEmpty(payload.CreateTime, payload.UpdateTime)),
		PayerEmail: strings.TrimSpace(payload.PayerEmail),
		RefundLink: findLink(payload.Links, "refund"),
		DebugID:    resp.debugID,
		Raw:        resp.body,
	}
	if capture.ID == "" {
		capture.ID = captureID
	}
	return capture, nil
}

// ListCaptureRefunds resolves the capture and follows its refund link. An
// unknown capture or a missing link yields an empty list. When the listing
// itself fails the resolved capture is still returned with the error.
func (c *Client) ListCaptureRefunds(ctx context.Context, captureID string) (*domain.CaptureRefunds, error) {
	capture, err := c.GetCapture(ctx, captureID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.CaptureRefunds{CaptureID: captureID, DebugID: domain.DebugIDOf(err)}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &domain.CaptureRefunds{
		CaptureID: capture.ID,
		Capture:   capture,
		DebugID:   capture.DebugID,
	}
	link := capture.RefundLink
	if link == "" || !(strings.HasPrefix(link, "/") || c.sameHost(link)) {
		return result, nil
	}

	resp, err := c.do(ctx, call{
		op:     "captures.refunds",
		method: http.MethodGet,
		target: link,
	})
	if err != nil {
		switch domain.StatusCodeOf(err) {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			return result, nil
		}
		return result, err
	}
	if resp.debugID != "" {
		result.DebugID = resp.debugID
	}

	refunds, err := normalizeRefundList(capture.ID, resp.body)
	if err != nil {
		return result, err
	}
	result.Refunds = refunds
	return result, nil
}

// IssueRefund refunds a capture. A nil amount refunds whatever is left.
func (c *Client) IssueRefund(ctx context.Context, req domain.IssueRefundRequest) (*domain.RefundRecord, error) {
	captureID := strings.TrimSpace(req.CaptureID)
	if captureID == "" {
		return nil, domain.ErrInvalidRequest
	}

	body := refundRequestBody{}
	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			return nil, domain.ErrInvalidRequest
		}
		amount := newMoneyBody(money.CurrencyOr(req.Currency, "USD"), *req.Amount)
		body.Amount = &amount
	}

	requestID := strings.TrimSpace(req.IdempotencyKey)
	if requestID == "" {
		requestID = c.newRequestID()
	}

	var payload refundPayload
	resp, err := c.do(ctx, call{
		op:     "refunds.issue",
		method: http.MethodPost,
		target: "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund",
		body:   body,
		headers: map[string]string{
			headerRequestID: requestID,
			"Prefer":        "return=representation",
		},
		out: &payload,
	})
	if err != nil {
		return nil, err
	}

	record := toRefundRecord(captureID, payload, resp.body)
	record.CaptureID = captureID
	if record.Amount.IsZero() && req.Amount != nil {
		record.Amount = *req.Amount
		record.Currency = money.CurrencyOr(req.Currency, "USD")
	}
	record.DebugID = resp.debugID
	return &record, nil
}

func (c *Client) GetRefund(ctx context.Context, refundID string) (*domain.RefundRecord, error) {
	refundID = strings.TrimSpace(refundID)
	if refundID == "" {
		return nil, domain.ErrInvalidRequest
	}

	var payload refundPayload
	resp, err := c.do(ctx, call{
		op:     "refunds.get",
		method: http.MethodGet,
		target: "/v2/payments/refunds/" + url.PathEscape(refundID),
		out:    &payload,
	})
	if err != nil {
		return nil, err
	}

	record := toRefundRecord("", payload, resp.body)
	record.DebugID = resp.debugID
	return &record, nil
}

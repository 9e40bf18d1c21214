package service

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paydesk/internal/ingest/domain"
	"github.com/smallbiznis/paydesk/internal/money"
)

type eventPayload struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   resourcePayload `json:"resource"`
}

type amountPayload struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type resourcePayload struct {
	ID                        string         `json:"id"`
	CaptureID                 string         `json:"capture_id"`
	RefundID                  string         `json:"refund_id"`
	Status                    string         `json:"status"`
	CreateTime                string         `json:"create_time"`
	Amount                    *amountPayload `json:"amount"`
	SellerReceivableBreakdown struct {
		GrossAmount *amountPayload `json:"gross_amount"`
	} `json:"seller_receivable_breakdown"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID   string `json:"order_id"`
			CaptureID string `json:"capture_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

func isCaptureEvent(eventType string) bool {
	return eventType == domain.EventCaptureCompleted || eventType == domain.EventCaptureDenied
}

func isRefundEvent(eventType string) bool {
	return eventType == domain.EventCaptureRefunded || eventType == domain.EventCapturePartiallyRefunded
}

// resolveCaptureID finds the capture an event belongs to. Refund resources
// carry their own id, so refund events look at the related capture first.
func resolveCaptureID(event eventPayload) string {
	r := event.Resource
	var candidates []string
	if isRefundEvent(event.EventType) {
		candidates = []string{r.SupplementaryData.RelatedIDs.CaptureID, r.CaptureID, r.upCaptureID()}
	} else {
		candidates = []string{r.ID, r.CaptureID, r.SupplementaryData.RelatedIDs.CaptureID}
	}
	for _, candidate := range candidates {
		if id := strings.TrimSpace(candidate); id != "" {
			return id
		}
	}
	return ""
}

func (r resourcePayload) upCaptureID() string {
	for _, link := range r.Links {
		if !strings.EqualFold(link.Rel, "up") {
			continue
		}
		href := strings.TrimRight(link.Href, "/")
		idx := strings.LastIndex(href, "/captures/")
		if idx < 0 {
			continue
		}
		return href[idx+len("/captures/"):]
	}
	return ""
}

func (r resourcePayload) refundID() string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return id
	}
	return strings.TrimSpace(r.RefundID)
}

// amount returns the event amount, falling back to the gross breakdown.
func (r resourcePayload) amount() (decimal.Decimal, string, bool) {
	for _, candidate := range []*amountPayload{r.Amount, r.SellerReceivableBreakdown.GrossAmount} {
		if candidate == nil {
			continue
		}
		if value, ok := money.Parse(candidate.Value); ok {
			return value.Abs(), money.CurrencyOr(candidate.CurrencyCode, "USD"), true
		}
	}
	return decimal.Zero, "USD", false
}

func (r resourcePayload) status() string {
	return strings.ToUpper(strings.TrimSpace(r.Status))
}

func parseEventTime(raw string) (time.Time, bool) {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

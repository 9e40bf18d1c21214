package paypal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/paydesk/internal/money"
	"github.com/smallbiznis/paydesk/internal/processor/domain"
)

type linkPayload struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type refundPayload struct {
	ID         string        `json:"id"`
	Status     string        `json:"status"`
	Amount     moneyBody     `json:"amount"`
	CreateTime string        `json:"create_time"`
	Links      []linkPayload `json:"links"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05Z0700",
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func findLink(links []linkPayload, rel string) string {
	for _, link := range links {
		if strings.EqualFold(strings.TrimSpace(link.Rel), rel) {
			return strings.TrimSpace(link.Href)
		}
	}
	return ""
}

// lastPathSegment returns the trailing id of a resource link.
func lastPathSegment(href string) string {
	href = strings.TrimRight(strings.TrimSpace(href), "/")
	if idx := strings.LastIndex(href, "/"); idx >= 0 {
		return href[idx+1:]
	}
	return href
}

func toRefundRecord(captureID string, payload refundPayload, raw json.RawMessage) domain.RefundRecord {
	amount, _ := money.Parse(payload.Amount.Value)
	if up := findLink(payload.Links, "up"); up != "" && captureID == "" {
		captureID = lastPathSegment(up)
	}
	return domain.RefundRecord{
		ID:        strings.TrimSpace(payload.ID),
		CaptureID: captureID,
		Amount:    amount.Abs(),
		Currency:  money.CurrencyOr(payload.Amount.CurrencyCode, ""),
		Status:    strings.ToUpper(strings.TrimSpace(payload.Status)),
		CreatedAt: parseTime(payload.CreateTime),
		Raw:       raw,
	}
}

// normalizeRefundList accepts every shape the refund listing has been seen
// to return: {"refunds":[...]}, {"refunds":{"refunds"|"items":[...]}},
// {"items":[...]} and a bare array. Unknown objects yield an empty list.
func normalizeRefundList(captureID string, body []byte) ([]domain.RefundRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: refund list: %v", domain.ErrUpstream, err)
		}
	case '{':
		var envelope struct {
			Refunds json.RawMessage   `json:"refunds"`
			Items   []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: refund list: %v", domain.ErrUpstream, err)
		}
		if nested := bytes.TrimSpace(envelope.Refunds); len(nested) > 0 && (nested[0] == '[' || nested[0] == '{') {
			return normalizeRefundList(captureID, nested)
		}
		items = envelope.Items
	default:
		return nil, fmt.Errorf("%w: refund list: unexpected payload", domain.ErrUpstream)
	}

	records := make([]domain.RefundRecord, 0, len(items))
	for _, item := range items {
		var payload refundPayload
		if err := json.Unmarshal(item, &payload); err != nil {
			continue
		}
		records = append(records, toRefundRecord(captureID, payload, item))
	}
	return records, nil
}

package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/paydesk/internal/money"
	"github.com/smallbiznis/paydesk/internal/processor/domain"
)

const (
	defaultPageSize = 200
	maxPageSize     = 500
	defaultLookback = 30 * 24 * time.Hour
	reportingLayout = "2006-01-02T15:04:05Z"
)

type transactionsPayload struct {
	TransactionDetails []struct {
		TransactionInfo json.RawMessage `json:"transaction_info"`
		PayerInfo       struct {
			EmailAddress string `json:"email_address"`
		} `json:"payer_info"`
	} `json:"transaction_details"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

type transactionInfo struct {
	TransactionID             string    `json:"transaction_id"`
	PayPalReferenceID         string    `json:"paypal_reference_id"`
	PayPalReferenceIDType     string    `json:"paypal_reference_id_type"`
	TransactionEventCode      string    `json:"transaction_event_code"`
	TransactionInitiationDate string    `json:"transaction_initiation_date"`
	TransactionStatus         string    `json:"transaction_status"`
	TransactionAmount         moneyBody `json:"transaction_amount"`
}

// ClampPageSize bounds a requested page size to what the reporting API
// accepts. Zero or negative selects the default.
func ClampPageSize(size int) int {
	switch {
	case size <= 0:
		return defaultPageSize
	case size > maxPageSize:
		return maxPageSize
	default:
		return size
	}
}

func reportingTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(reportingLayout)
}

func (c *Client) ListTransactions(ctx context.Context, query domain.TransactionQuery) (*domain.TransactionPage, error) {
	end := query.End
	if end.IsZero() {
		end = c.clock.Now()
	}
	start := query.Start
	if start.IsZero() {
		start = end.Add(-defaultLookback)
	}
	if start.After(end) {
		return nil, domain.ErrInvalidRequest
	}

	params := url.Values{}
	params.Set("start_date", reportingTime(start))
	params.Set("end_date", reportingTime(end))
	params.Set("page_size", strconv.Itoa(ClampPageSize(query.PageSize)))
	params.Set("fields", "all")
	if query.Page > 1 {
		params.Set("page", strconv.Itoa(query.Page))
	}

	var payload transactionsPayload
	resp, err := c.do(ctx, call{
		op:     "reporting.transactions",
		method: http.MethodGet,
		target: "/v1/reporting/transactions?" + params.Encode(),
		out:    &payload,
	})
	if err != nil {
		return nil, err
	}

	page := &domain.TransactionPage{
		Rows:       make([]domain.TransactionRow, 0, len(payload.TransactionDetails)),
		Start:      start.UTC(),
		End:        end.UTC(),
		TotalItems: payload.TotalItems,
		TotalPages: payload.TotalPages,
		DebugID:    resp.debugID,
	}
	for _, detail := range payload.TransactionDetails {
		var info transactionInfo
		if err := json.Unmarshal(detail.TransactionInfo, &info); err != nil {
			continue
		}
		amount, _ := money.Parse(info.TransactionAmount.Value)
		page.Rows = append(page.Rows, domain.TransactionRow{
			TransactionID:   strings.TrimSpace(info.TransactionID),
			ReferenceID:     strings.TrimSpace(info.PayPalReferenceID),
			ReferenceIDType: strings.ToUpper(strings.TrimSpace(info.PayPalReferenceIDType)),
			Status:          strings.TrimSpace(info.TransactionStatus),
			Amount:          amount,
			Currency:        money.CurrencyOr(info.TransactionAmount.CurrencyCode, ""),
			CreatedAt:       parseTime(info.TransactionInitiationDate),
			PayerEmail:      strings.TrimSpace(detail.PayerInfo.EmailAddress),
			EventCode:       strings.TrimSpace(info.TransactionEventCode),
			Raw:             detail.TransactionInfo,
		})
	}
	return page, nil
}

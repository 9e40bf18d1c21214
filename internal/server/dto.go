package server

import (
	"time"

	checkoutdomain "github.com/smallbiznis/paydesk/internal/checkout/domain"
	consoledomain "github.com/smallbiznis/paydesk/internal/console/domain"
	"github.com/smallbiznis/paydesk/internal/money"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
	refunddomain "github.com/smallbiznis/paydesk/internal/refund/domain"
)

type transactionResponse struct {
	OrderID       string `json:"orderID,omitempty"`
	CaptureID     string `json:"captureId"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CreateTime    string `json:"createTime,omitempty"`
	PayerEmail    string `json:"payerEmail,omitempty"`
	EventCode     string `json:"eventCode,omitempty"`
}

type captureResponse struct {
	CaptureID  string `json:"captureId"`
	OrderID    string `json:"orderID,omitempty"`
	Status     string `json:"status"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	CreateTime string `json:"createTime,omitempty"`
	PayerEmail string `json:"payerEmail,omitempty"`
}

type refundResponse struct {
	RefundID   string `json:"refundId"`
	CaptureID  string `json:"captureId,omitempty"`
	Status     string `json:"status"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	CreateTime string `json:"createTime,omitempty"`
}

type refundStateResponse struct {
	CaptureID      string           `json:"captureId"`
	OrderID        string           `json:"orderID,omitempty"`
	Gross          string           `json:"gross"`
	Currency       string           `json:"currency"`
	TotalRefunded  string           `json:"totalRefunded"`
	Remaining      string           `json:"remaining"`
	Status         string           `json:"status"`
	CaptureStatus  string           `json:"captureStatus,omitempty"`
	Sources        []string         `json:"sources"`
	Actionable     bool             `json:"actionable"`
	Degraded       bool             `json:"degraded"`
	DegradedReason string           `json:"degradedReason,omitempty"`
	Refunds        []refundResponse `json:"refunds"`
	ReconciledAt   string           `json:"reconciledAt,omitempty"`
}

type consoleRowResponse struct {
	Kind              string               `json:"kind"`
	TransactionID     string               `json:"transactionId,omitempty"`
	CaptureID         string               `json:"captureId"`
	OrderID           string               `json:"orderID,omitempty"`
	Amount            string               `json:"amount"`
	Currency          string               `json:"currency"`
	TransactionStatus string               `json:"transactionStatus,omitempty"`
	PayerEmail        string               `json:"payerEmail,omitempty"`
	CreateTime        string               `json:"createTime,omitempty"`
	Source            string               `json:"source"`
	RefundStatus      string               `json:"refundStatus,omitempty"`
	Actionable        bool                 `json:"actionable"`
	State             *refundStateResponse `json:"state,omitempty"`
	Error             string               `json:"error,omitempty"`
}

type pendingResponse struct {
	CaptureID      string `json:"captureId"`
	Currency       string `json:"currency"`
	LocalTotal     string `json:"localTotal"`
	ProcessorTotal string `json:"processorTotal"`
	Difference     string `json:"difference"`
	LedgerCount    int    `json:"ledgerCount"`
	Degraded       bool   `json:"degraded"`
}

type ledgerEntryResponse struct {
	RefundID   string `json:"refundId"`
	CaptureID  string `json:"captureId"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	Actor      string `json:"actor,omitempty"`
	DebugID    string `json:"debugId,omitempty"`
	CreateTime string `json:"createTime"`
}

type checkoutRecordResponse struct {
	OrderID    string `json:"orderID"`
	CaptureID  string `json:"captureId"`
	SKU        string `json:"sku,omitempty"`
	Name       string `json:"name,omitempty"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	CreateTime string `json:"createTime"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toTransactionResponse(row processordomain.TransactionRow) transactionResponse {
	return transactionResponse{
		OrderID:       row.OrderID(),
		CaptureID:     row.CaptureID(),
		TransactionID: row.TransactionID,
		Status:        row.Status,
		Amount:        money.Format(row.Amount),
		Currency:      row.Currency,
		CreateTime:    formatTime(row.CreatedAt),
		PayerEmail:    row.PayerEmail,
		EventCode:     row.EventCode,
	}
}

func toCaptureResponse(capture *processordomain.Capture) captureResponse {
	return captureResponse{
		CaptureID:  capture.ID,
		OrderID:    capture.OrderID,
		Status:     string(capture.Status),
		Amount:     money.Format(capture.Gross),
		Currency:   capture.Currency,
		CreateTime: formatTime(capture.CreatedAt),
		PayerEmail: capture.PayerEmail,
	}
}

func toRefundResponse(refund processordomain.RefundRecord) refundResponse {
	return refundResponse{
		RefundID:   refund.ID,
		CaptureID:  refund.CaptureID,
		Status:     refund.Status,
		Amount:     money.Format(refund.Amount),
		Currency:   refund.Currency,
		CreateTime: formatTime(refund.CreatedAt),
	}
}

func toRefundResponses(refunds []processordomain.RefundRecord) []refundResponse {
	out := make([]refundResponse, 0, len(refunds))
	for _, refund := range refunds {
		out = append(out, toRefundResponse(refund))
	}
	return out
}

func toRefundStateResponse(state *reconciledomain.RefundState) *refundStateResponse {
	if state == nil {
		return nil
	}
	sources := make([]string, 0, len(state.Sources))
	for _, source := range state.Sources {
		sources = append(sources, string(source))
	}
	return &refundStateResponse{
		CaptureID:      state.CaptureID,
		OrderID:        state.OrderID,
		Gross:          money.Format(state.Gross),
		Currency:       state.Currency,
		TotalRefunded:  money.Format(state.TotalRefunded),
		Remaining:      money.Format(state.Remaining),
		Status:         string(state.Status),
		CaptureStatus:  state.CaptureStatus,
		Sources:        sources,
		Actionable:     state.Actionable(money.Epsilon),
		Degraded:       state.Degraded,
		DegradedReason: state.DegradedReason,
		Refunds:        toRefundResponses(state.Refunds),
		ReconciledAt:   formatTime(state.ReconciledAt),
	}
}

func toConsoleRows(rows []consoledomain.Row) []consoleRowResponse {
	out := make([]consoleRowResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, consoleRowResponse{
			Kind:              string(row.Kind),
			TransactionID:     row.TransactionID,
			CaptureID:         row.CaptureID,
			OrderID:           row.OrderID,
			Amount:            money.Format(row.Amount),
			Currency:          row.Currency,
			TransactionStatus: row.TransactionStatus,
			PayerEmail:        row.PayerEmail,
			CreateTime:        formatTime(row.CreatedAt),
			Source:            string(row.Source),
			RefundStatus:      string(row.RefundStatus),
			Actionable:        row.Actionable,
			State:             toRefundStateResponse(row.State),
			Error:             row.Error,
		})
	}
	return out
}

func toPendingResponses(items []consoledomain.PendingItem) []pendingResponse {
	out := make([]pendingResponse, 0, len(items))
	for _, item := range items {
		out = append(out, pendingResponse{
			CaptureID:      item.CaptureID,
			Currency:       item.Currency,
			LocalTotal:     money.Format(item.LocalTotal),
			ProcessorTotal: money.Format(item.ProcessorTotal),
			Difference:     money.Format(item.Difference),
			LedgerCount:    item.LedgerCount,
			Degraded:       item.Degraded,
		})
	}
	return out
}

func toLedgerResponses(entries []refunddomain.LedgerEntry) []ledgerEntryResponse {
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, ledgerEntryResponse{
			RefundID:   entry.RefundID,
			CaptureID:  entry.CaptureID,
			Amount:     money.Format(entry.Amount),
			Currency:   entry.Currency,
			Status:     entry.Status,
			Actor:      entry.Actor,
			DebugID:    entry.DebugID,
			CreateTime: formatTime(entry.CreatedAt),
		})
	}
	return out
}

func toCheckoutRecords(records []checkoutdomain.CheckoutRecord) []checkoutRecordResponse {
	out := make([]checkoutRecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, checkoutRecordResponse{
			OrderID:    record.OrderID,
			CaptureID:  record.CaptureID,
			SKU:        record.SKU,
			Name:       record.Name,
			Amount:     money.Format(record.Amount),
			Currency:   record.Currency,
			Status:     record.Status,
			CreateTime: formatTime(record.CreatedAt),
		})
	}
	return out
}

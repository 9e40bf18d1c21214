package domain

import (
	"time"

	"github.com/shopspring/decimal"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
)

// FeedFallback is what the reporting feed knows about one capture.
type FeedFallback struct {
	OrderID   string
	Gross     decimal.Decimal
	Currency  string
	Refunded  decimal.Decimal
	CreatedAt time.Time
}

// FeedIndex groups reporting rows by capture so each sale can be matched
// with its refunds without rescanning the page.
type FeedIndex struct {
	sales   map[string]processordomain.TransactionRow
	refunds map[string]decimal.Decimal
}

func NewFeedIndex(rows []processordomain.TransactionRow) *FeedIndex {
	idx := &FeedIndex{
		sales:   make(map[string]processordomain.TransactionRow),
		refunds: make(map[string]decimal.Decimal),
	}
	for _, row := range rows {
		if row.IsRefund() {
			ref := row.ReferenceID
			if ref == "" {
				continue
			}
			idx.refunds[ref] = idx.refunds[ref].Add(row.Amount.Abs())
			continue
		}
		if row.TransactionID != "" {
			idx.sales[row.TransactionID] = row
		}
	}
	return idx
}

// Fallback returns the feed view of captureID, or nil when the feed has no
// row for it. Refund rows may reference either the capture or its order.
func (idx *FeedIndex) Fallback(captureID string) *FeedFallback {
	if idx == nil || captureID == "" {
		return nil
	}
	fb := &FeedFallback{}
	matched := false

	if sale, ok := idx.sales[captureID]; ok {
		matched = true
		fb.OrderID = sale.OrderID()
		fb.Gross = sale.Amount.Abs()
		fb.Currency = sale.Currency
		fb.CreatedAt = sale.CreatedAt
	}
	if sum, ok := idx.refunds[captureID]; ok {
		matched = true
		fb.Refunded = fb.Refunded.Add(sum)
	}
	if fb.OrderID != "" && fb.OrderID != captureID {
		if sum, ok := idx.refunds[fb.OrderID]; ok {
			matched = true
			fb.Refunded = fb.Refunded.Add(sum)
		}
	}
	if !matched {
		return nil
	}
	return fb
}

// HasSale reports whether the page carries the sale row of captureID.
func (idx *FeedIndex) HasSale(captureID string) bool {
	if idx == nil {
		return false
	}
	_, ok := idx.sales[captureID]
	return ok
}

package service

import (
	"time"

	"github.com/shopspring/decimal"
)

// watermark is the largest refunded total seen for a capture. Reconciled
// totals never drop below it.
type watermark struct {
	Total    decimal.Decimal
	Gross    decimal.Decimal
	Currency string
	Terminal bool
	// Pending holds refunds issued here that the itemized list has not shown yet.
	Pending map[string]decimal.Decimal
	// Listed holds refund ids the itemized list has already reported.
	Listed    map[string]struct{}
	UpdatedAt time.Time
}

func (w watermark) clone() watermark {
	next := w
	next.Pending = make(map[string]decimal.Decimal, len(w.Pending))
	for id, amount := range w.Pending {
		next.Pending[id] = amount
	}
	next.Listed = make(map[string]struct{}, len(w.Listed))
	for id := range w.Listed {
		next.Listed[id] = struct{}{}
	}
	return next
}

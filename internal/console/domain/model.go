package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
)

var ErrInvalidKind = errors.New("invalid_kind")

type Kind string

const (
	KindSale   Kind = "SALE"
	KindRefund Kind = "REFUND"
)

// ParseKind reads a row kind; blank selects sales.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", KindSale:
		return KindSale, nil
	case KindRefund:
		return KindRefund, nil
	}
	return "", ErrInvalidKind
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

type Filter struct {
	Kind  Kind
	Limit int
	Start time.Time
	End   time.Time
}

// Row is one line of the operator console.
type Row struct {
	Kind              Kind
	TransactionID     string
	CaptureID         string
	OrderID           string
	Amount            decimal.Decimal
	Currency          string
	TransactionStatus string
	PayerEmail        string
	CreatedAt         time.Time
	Source            reconciledomain.Source
	State             *reconciledomain.RefundState
	RefundStatus      reconciledomain.Status
	Actionable        bool
	Error             string
}

// PendingItem is a capture whose locally issued refunds are not yet
// reflected by the processor.
type PendingItem struct {
	CaptureID      string
	Currency       string
	LocalTotal     decimal.Decimal
	ProcessorTotal decimal.Decimal
	Difference     decimal.Decimal
	LedgerCount    int
	Degraded       bool
}

type Service interface {
	ListRows(ctx context.Context, filter Filter) ([]Row, error)
	Pending(ctx context.Context) ([]PendingItem, error)
}

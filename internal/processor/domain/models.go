package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CaptureStatus string

const (
	CaptureStatusPending           CaptureStatus = "PENDING"
	CaptureStatusCompleted         CaptureStatus = "COMPLETED"
	CaptureStatusPartiallyRefunded CaptureStatus = "PARTIALLY_REFUNDED"
	CaptureStatusRefunded          CaptureStatus = "REFUNDED"
	CaptureStatusDenied            CaptureStatus = "DENIED"
	CaptureStatusUnknown           CaptureStatus = "UNKNOWN"
)

// NormalizeCaptureStatus maps processor status strings onto the known set.
func NormalizeCaptureStatus(raw string) CaptureStatus {
	switch status := CaptureStatus(strings.ToUpper(strings.TrimSpace(raw))); status {
	case CaptureStatusPending,
		CaptureStatusCompleted,
		CaptureStatusPartiallyRefunded,
		CaptureStatusRefunded,
		CaptureStatusDenied:
		return status
	default:
		return CaptureStatusUnknown
	}
}

// Capture is a completed charge as reported by a live lookup.
type Capture struct {
	ID         string
	OrderID    string
	Gross      decimal.Decimal
	Currency   string
	Status     CaptureStatus
	CreatedAt  time.Time
	PayerEmail string
	RefundLink string
	DebugID    string
	Raw        json.RawMessage
}

// RefundRecord is one refund against a capture. Amount is always positive.
type RefundRecord struct {
	ID        string
	CaptureID string
	Amount    decimal.Decimal
	Currency  string
	Status    string
	CreatedAt time.Time
	DebugID   string
	Raw       json.RawMessage
}

// Counts reports whether the refund moves money. Failed and cancelled
// refunds are listed by the processor but never settle.
func (r RefundRecord) Counts() bool {
	switch strings.ToUpper(strings.TrimSpace(r.Status)) {
	case "FAILED", "CANCELLED":
		return false
	default:
		return true
	}
}

// CaptureRefunds is the itemized refund list of a capture together with the
// capture it was resolved from. Capture is nil when the processor does not
// know the capture yet.
type CaptureRefunds struct {
	CaptureID string
	Capture   *Capture
	Refunds   []RefundRecord
	DebugID   string
}

// Sum adds the itemized refund amounts.
func (r *CaptureRefunds) Sum() decimal.Decimal {
	total := decimal.Zero
	if r == nil {
		return total
	}
	for _, refund := range r.Refunds {
		if !refund.Counts() {
			continue
		}
		total = total.Add(refund.Amount.Abs())
	}
	return total
}

type Address struct {
	Line1       string `json:"address_line_1,omitempty"`
	Line2       string `json:"address_line_2,omitempty"`
	City        string `json:"admin_area_2,omitempty"`
	Region      string `json:"admin_area_1,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// Normalized trims every field and upper-cases the region code.
func (a Address) Normalized() Address {
	return Address{
		Line1:       strings.TrimSpace(a.Line1),
		Line2:       strings.TrimSpace(a.Line2),
		City:        strings.TrimSpace(a.City),
		Region:      strings.ToUpper(strings.TrimSpace(a.Region)),
		PostalCode:  strings.TrimSpace(a.PostalCode),
		CountryCode: strings.ToUpper(strings.TrimSpace(a.CountryCode)),
	}
}

// Complete reports whether the address carries the minimum the processor
// needs to accept it as a shipping address.
func (a Address) Complete() bool {
	return strings.TrimSpace(a.Line1) != "" &&
		strings.TrimSpace(a.City) != "" &&
		len(strings.TrimSpace(a.Region)) == 2 &&
		strings.TrimSpace(a.PostalCode) != "" &&
		strings.TrimSpace(a.CountryCode) != ""
}

type BuyerInfo struct {
	FullName string  `json:"fullName,omitempty"`
	Email    string  `json:"email,omitempty"`
	Address  Address `json:"address"`
}

type CreateOrderRequest struct {
	Currency string
	Amount   decimal.Decimal
	SKU      string
	Name     string
	Buyer    *BuyerInfo
}

type Shipping struct {
	FullName string   `json:"fullName,omitempty"`
	Address  *Address `json:"address,omitempty"`
}

type Order struct {
	ID       string
	Status   string
	Shipping *Shipping
	DebugID  string
	Raw      json.RawMessage
}

type PatchOrderRequest struct {
	OrderID   string
	Currency  string
	ItemTotal decimal.Decimal
	Shipping  decimal.Decimal
}

type PatchResult struct {
	OrderID string
	Total   decimal.Decimal
	DebugID string
}

type CaptureResult struct {
	OrderID   string
	Status    string
	CaptureID string
	Gross     decimal.Decimal
	Currency  string
	DebugID   string
	Raw       json.RawMessage
}

type IssueRefundRequest struct {
	CaptureID string
	// Amount nil requests a full refund.
	Amount         *decimal.Decimal
	Currency       string
	IdempotencyKey string
}

type TransactionQuery struct {
	Start    time.Time
	End      time.Time
	PageSize int
	Page     int
}

// TransactionRow is a normalized reporting-feed row. Sales carry a positive
// amount, refunds a negative one.
type TransactionRow struct {
	TransactionID   string
	ReferenceID     string
	ReferenceIDType string
	Status          string
	Amount          decimal.Decimal
	Currency        string
	CreatedAt       time.Time
	PayerEmail      string
	EventCode       string
	Raw             json.RawMessage
}

func (r TransactionRow) IsRefund() bool {
	return r.Amount.IsNegative()
}

// CaptureID is the capture a row belongs to: the row itself for a sale, the
// referenced original transaction for a refund.
func (r TransactionRow) CaptureID() string {
	if r.IsRefund() {
		return r.ReferenceID
	}
	return r.TransactionID
}

// OrderID is only known for sale rows referencing an order.
func (r TransactionRow) OrderID() string {
	if r.IsRefund() {
		return ""
	}
	if r.ReferenceIDType == "" || strings.EqualFold(r.ReferenceIDType, "ODR") {
		return r.ReferenceID
	}
	return ""
}

type TransactionPage struct {
	Rows       []TransactionRow
	Start      time.Time
	End        time.Time
	TotalItems int
	TotalPages int
	DebugID    string
}

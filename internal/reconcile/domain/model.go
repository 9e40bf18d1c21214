package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
)

type Status string

const (
	StatusNotRefunded       Status = "NOT_REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
	StatusRefunded          Status = "REFUNDED"
	StatusUnknown           Status = "UNKNOWN"
)

func (s Status) rank() int {
	switch s {
	case StatusRefunded:
		return 2
	case StatusPartiallyRefunded:
		return 1
	default:
		return 0
	}
}

// Escalate returns the further of the two refund progressions.
func (s Status) Escalate(other Status) Status {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// Classify labels a refunded total against the gross amount.
func Classify(total, gross, eps decimal.Decimal) Status {
	switch {
	case total.LessThanOrEqual(eps):
		return StatusNotRefunded
	case total.GreaterThanOrEqual(gross.Sub(eps)):
		return StatusRefunded
	default:
		return StatusPartiallyRefunded
	}
}

// ExplicitStatus maps a processor status string onto a refund progression.
// Only the two refunded labels count; everything else reports false.
func ExplicitStatus(raw string) (Status, bool) {
	switch processordomain.NormalizeCaptureStatus(raw) {
	case processordomain.CaptureStatusRefunded:
		return StatusRefunded, true
	case processordomain.CaptureStatusPartiallyRefunded:
		return StatusPartiallyRefunded, true
	}
	return "", false
}

type Source string

const (
	SourceLiveLookup    Source = "live_lookup"
	SourceEventSnapshot Source = "event_snapshot"
	SourceReport        Source = "report"
	SourceOptimistic    Source = "optimistic"
	SourceHighWaterMark Source = "high_water_mark"
)

// RefundState is the reconciled refund position of one capture.
type RefundState struct {
	CaptureID      string
	OrderID        string
	Gross          decimal.Decimal
	Currency       string
	TotalRefunded  decimal.Decimal
	Remaining      decimal.Decimal
	Status         Status
	CaptureStatus  string
	Sources        []Source
	Degraded       bool
	DegradedReason string
	Refunds        []processordomain.RefundRecord
	CreatedAt      time.Time
	ReconciledAt   time.Time
	DebugID        string
}

// Actionable reports whether another refund can still be requested.
func (s *RefundState) Actionable(eps decimal.Decimal) bool {
	if s == nil || s.Status == StatusUnknown {
		return false
	}
	return s.Remaining.GreaterThan(eps)
}

func (s *RefundState) HasSource(source Source) bool {
	if s == nil {
		return false
	}
	for _, candidate := range s.Sources {
		if candidate == source {
			return true
		}
	}
	return false
}

type Engine interface {
	// Reconcile merges every refund source for the capture. feed may be nil.
	Reconcile(ctx context.Context, captureID string, feed *FeedFallback) (*RefundState, error)
	// Observe folds a refund this process just issued into the capture's view.
	// refundedBefore is the total the issuance was checked against.
	Observe(ctx context.Context, captureID string, refund processordomain.RefundRecord, refundedBefore decimal.Decimal)
	// MarkTerminal records that the processor considers the capture fully refunded.
	MarkTerminal(ctx context.Context, captureID string)
	// Sweep evicts expired high-water marks.
	Sweep(now time.Time) int
}

// WithRefund projects the state after a refund of amount is applied.
func (s *RefundState) WithRefund(refund processordomain.RefundRecord, eps decimal.Decimal) *RefundState {
	if s == nil {
		return nil
	}
	next := *s
	next.Refunds = append(append([]processordomain.RefundRecord{}, s.Refunds...), refund)
	next.Sources = append(append([]Source{}, s.Sources...), SourceOptimistic)
	next.TotalRefunded = s.TotalRefunded.Add(refund.Amount.Abs())
	if next.Gross.IsPositive() {
		next.Remaining = decimal.Max(decimal.Zero, next.Gross.Sub(next.TotalRefunded))
		next.Status = Classify(next.TotalRefunded, next.Gross, eps).Escalate(s.Status)
		if next.Status == StatusRefunded {
			next.Remaining = decimal.Zero
		}
	}
	return &next
}

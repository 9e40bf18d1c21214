package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
	"gorm.io/gorm"
)

// LedgerEntry is a refund issued through this service.
type LedgerEntry struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	RefundID  string          `json:"refund_id" gorm:"type:text;not null;uniqueIndex:ux_refund_ledger_refund_id"`
	CaptureID string          `json:"capture_id" gorm:"type:text;not null;index:ix_refund_ledger_capture_id"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency  string          `json:"currency" gorm:"type:varchar(3);not null"`
	Status    string          `json:"status" gorm:"type:text;not null"`
	Actor     string          `json:"actor" gorm:"type:text;not null;default:''"`
	DebugID   string          `json:"debug_id" gorm:"type:text;not null;default:''"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "refund_ledger" }

// CaptureTotal is the ledger sum of one capture.
type CaptureTotal struct {
	CaptureID string
	Currency  string
	Total     decimal.Decimal
	Count     int
}

type Request struct {
	CaptureID string
	// Amount is the raw operator input; nil or blank refunds the remaining balance.
	Amount *string
	Actor  string
}

type Result struct {
	Refund  processordomain.RefundRecord
	State   *reconciledomain.RefundState
	DebugID string
}

type Service interface {
	RequestRefund(ctx context.Context, req Request) (*Result, error)
	ListLedger(ctx context.Context, captureID string) ([]LedgerEntry, error)
	LedgerTotals(ctx context.Context) ([]CaptureTotal, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	ListByCapture(ctx context.Context, db *gorm.DB, captureID string) ([]LedgerEntry, error)
	SumByCapture(ctx context.Context, db *gorm.DB) ([]CaptureTotal, error)
}

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CheckoutRecord is a buyer checkout that reached capture.
type CheckoutRecord struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrderID   string          `json:"order_id" gorm:"type:text;not null"`
	CaptureID string          `json:"capture_id" gorm:"type:text;not null;uniqueIndex:ux_checkout_records_capture_id"`
	SKU       string          `json:"sku" gorm:"column:sku;type:text;not null;default:''"`
	Name      string          `json:"name" gorm:"type:text;not null;default:''"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null;default:0"`
	Currency  string          `json:"currency" gorm:"type:varchar(3);not null"`
	Status    string          `json:"status" gorm:"type:text;not null"`
	BuyerInfo datatypes.JSON  `json:"buyer_info,omitempty" gorm:"column:buyer_info"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null;index:ix_checkout_records_created_at"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null"`
}

func (CheckoutRecord) TableName() string { return "checkout_records" }

type CreateOrderRequest struct {
	Currency string
	Amount   string
	SKU      string
	Name     string
	Buyer    *processordomain.BuyerInfo
}

type PatchOrderRequest struct {
	OrderID       string
	Currency      string
	ItemTotal     string
	ShippingValue string
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*processordomain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*processordomain.Order, error)
	PatchOrder(ctx context.Context, req PatchOrderRequest) (*processordomain.PatchResult, error)
	CaptureOrder(ctx context.Context, orderID string) (*processordomain.CaptureResult, error)
	ListLocal(ctx context.Context, limit int) ([]CheckoutRecord, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *CheckoutRecord) (bool, error)
	List(ctx context.Context, db *gorm.DB, limit int) ([]CheckoutRecord, error)
}

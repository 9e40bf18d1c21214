package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paydesk/internal/cache"
	"github.com/smallbiznis/paydesk/internal/checkout/domain"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/money"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultCurrency = "USD"
	defaultAmount   = "10.00"
	pendingTTL      = 24 * time.Hour
	defaultLimit    = 50
	maxLimit        = 500
)

// pendingOrder keeps what the buyer chose until the order is captured.
type pendingOrder struct {
	SKU      string
	Name     string
	Amount   decimal.Decimal
	Currency string
	Buyer    *processordomain.BuyerInfo
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Gateway processordomain.Gateway
	Repo    domain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	gateway processordomain.Gateway
	repo    domain.Repository
	pending cache.Cache[string, pendingOrder]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("checkout.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		gateway: p.Gateway,
		repo:    p.Repo,
		pending: cache.NewTTLCache[string, pendingOrder](p.Clock),
	}
}

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*processordomain.Order, error) {
	currency := defaultCurrency
	if strings.TrimSpace(req.Currency) != "" {
		code, err := money.NormalizeCurrency(req.Currency)
		if err != nil {
			return nil, err
		}
		currency = code
	}
	rawAmount := req.Amount
	if strings.TrimSpace(rawAmount) == "" {
		rawAmount = defaultAmount
	}
	amount, err := money.ParseAmount(rawAmount)
	if err != nil {
		return nil, err
	}

	order, err := s.gateway.CreateOrder(ctx, processordomain.CreateOrderRequest{
		Currency: currency,
		Amount:   amount,
		SKU:      strings.TrimSpace(req.SKU),
		Name:     strings.TrimSpace(req.Name),
		Buyer:    req.Buyer,
	})
	if err != nil {
		s.log.Warn("create order failed", zap.String("debug_id", processordomain.DebugIDOf(err)), zap.Error(err))
		return nil, err
	}

	s.pending.Set(order.ID, pendingOrder{
		SKU:      strings.TrimSpace(req.SKU),
		Name:     strings.TrimSpace(req.Name),
		Amount:   amount,
		Currency: currency,
		Buyer:    req.Buyer,
	}, pendingTTL)

	s.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("amount", money.Format(amount)),
		zap.String("currency", currency),
		zap.Bool("shipping", order.Shipping != nil),
	)
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*processordomain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrInvalidOrderID
	}
	return s.gateway.GetOrder(ctx, orderID)
}

// PatchOrder sets the final order amount once shipping is known.
func (s *Service) PatchOrder(ctx context.Context, req domain.PatchOrderRequest) (*processordomain.PatchResult, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, domain.ErrInvalidOrderID
	}
	if strings.TrimSpace(req.ItemTotal) == "" || strings.TrimSpace(req.ShippingValue) == "" {
		return nil, domain.ErrMissingAmounts
	}
	itemTotal, err := money.ParseAmount(req.ItemTotal)
	if err != nil {
		return nil, fmt.Errorf("item total: %w", err)
	}
	shipping, err := money.ParseNonNegative(req.ShippingValue)
	if err != nil {
		return nil, fmt.Errorf("shipping value: %w", err)
	}
	currency := money.CurrencyOr(req.Currency, defaultCurrency)

	result, err := s.gateway.PatchOrderAmount(ctx, processordomain.PatchOrderRequest{
		OrderID:   orderID,
		Currency:  currency,
		ItemTotal: itemTotal,
		Shipping:  shipping,
	})
	if err != nil {
		s.log.Warn("patch order failed",
			zap.String("order_id", orderID),
			zap.String("debug_id", processordomain.DebugIDOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	s.pending.Update(orderID, pendingTTL, func(current pendingOrder, found bool) pendingOrder {
		current.Amount = result.Total
		current.Currency = currency
		return current
	})
	return result, nil
}

// CaptureOrder captures the approved order and records it locally.
func (s *Service) CaptureOrder(ctx context.Context, orderID string) (*processordomain.CaptureResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrInvalidOrderID
	}

	result, err := s.gateway.CaptureOrder(ctx, orderID)
	if err != nil {
		s.log.Warn("capture order failed",
			zap.String("order_id", orderID),
			zap.String("debug_id", processordomain.DebugIDOf(err)),
			zap.Error(err),
		)
		return nil, err
	}
	if result.CaptureID == "" {
		s.log.Warn("capture returned no capture id", zap.String("order_id", orderID), zap.String("status", result.Status))
		return result, nil
	}

	if err := s.record(ctx, orderID, result); err != nil {
		s.log.Error("failed to record checkout",
			zap.String("order_id", orderID),
			zap.String("capture_id", result.CaptureID),
			zap.Error(err),
		)
	}
	s.log.Info("order captured",
		zap.String("order_id", orderID),
		zap.String("capture_id", result.CaptureID),
		zap.String("status", result.Status),
	)
	return result, nil
}

func (s *Service) record(ctx context.Context, orderID string, result *processordomain.CaptureResult) error {
	meta, _ := s.pending.Get(orderID)

	amount := result.Gross
	if !amount.IsPositive() {
		amount = meta.Amount
	}
	currency := result.Currency
	if currency == "" {
		currency = meta.Currency
	}

	var buyer datatypes.JSON
	if meta.Buyer != nil {
		raw, err := json.Marshal(meta.Buyer)
		if err != nil {
			return err
		}
		buyer = datatypes.JSON(raw)
	}

	now := s.clock.Now()
	record := &domain.CheckoutRecord{
		ID:        s.genID.Generate(),
		OrderID:   orderID,
		CaptureID: result.CaptureID,
		SKU:       meta.SKU,
		Name:      meta.Name,
		Amount:    amount.Round(2),
		Currency:  money.CurrencyOr(currency, defaultCurrency),
		Status:    result.Status,
		BuyerInfo: buyer,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inserted, err := s.repo.Insert(ctx, s.db, record)
	if err != nil {
		return err
	}
	if inserted {
		s.pending.Delete(orderID)
	}
	return nil
}

func (s *Service) ListLocal(ctx context.Context, limit int) ([]domain.CheckoutRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return s.repo.List(ctx, s.db, limit)
}

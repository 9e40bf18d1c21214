package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/money"
	obsmetrics "github.com/smallbiznis/paydesk/internal/observability/metrics"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
	"github.com/smallbiznis/paydesk/internal/refund/domain"
	"github.com/smallbiznis/paydesk/internal/refund/lock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lockPrefix = "paydesk:refund-lock:"
	// lockUpstreamCalls bounds the processor round trips made under the lock.
	lockUpstreamCalls = 4
	lockMargin        = 5 * time.Second
	defaultTimeout    = 10 * time.Second
)

// lockTTLFor keeps the issuance lock held for the slowest path through the
// gate at the given upstream timeout.
func lockTTLFor(upstreamTimeout time.Duration) time.Duration {
	if upstreamTimeout <= 0 {
		upstreamTimeout = defaultTimeout
	}
	return lockUpstreamCalls*upstreamTimeout + lockMargin
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Gateway    processordomain.Gateway
	Engine     reconciledomain.Engine
	Locker     lock.Locker
	Repo       domain.Repository
	Config     *config.ReconcileConfigHolder
	AppConfig  config.Config       `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	gateway    processordomain.Gateway
	engine     reconciledomain.Engine
	locker     lock.Locker
	repo       domain.Repository
	config     *config.ReconcileConfigHolder
	lockTTL    time.Duration
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("refund.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		gateway:    p.Gateway,
		engine:     p.Engine,
		locker:     p.Locker,
		repo:       p.Repo,
		config:     p.Config,
		lockTTL:    lockTTLFor(p.AppConfig.PayPal.UpstreamTimeout),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) epsilon() decimal.Decimal {
	if s.config == nil {
		return money.Epsilon
	}
	return s.config.Get().EpsilonValue()
}

// RequestRefund checks the amount against the reconciled remaining balance
// and issues the refund. Issuance for one capture is serialized.
func (s *Service) RequestRefund(ctx context.Context, req domain.Request) (*domain.Result, error) {
	captureID := strings.TrimSpace(req.CaptureID)
	if captureID == "" {
		return nil, domain.ErrInvalidCaptureID
	}

	var requested *decimal.Decimal
	if req.Amount != nil && strings.TrimSpace(*req.Amount) != "" {
		amount, err := money.ParseAmount(*req.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, *req.Amount)
		}
		requested = &amount
	}

	log := s.log.With(zap.String("capture_id", captureID), zap.String("actor", req.Actor))
	if requested != nil {
		log = log.With(zap.String("amount", money.Format(*requested)))
	}

	key := lockPrefix + captureID
	token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire refund lock: %w", err)
	}
	if !ok {
		s.obsMetrics.RecordRefund(ctx, "in_progress")
		return nil, domain.ErrRefundInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn("failed to release refund lock", zap.Error(err))
		}
	}()

	eps := s.epsilon()
	state, err := s.engine.Reconcile(ctx, captureID, nil)
	if err != nil {
		if state == nil || !errors.Is(err, reconciledomain.ErrDegraded) {
			s.obsMetrics.RecordRefund(ctx, "unavailable")
			return nil, err
		}
		log.Warn("checking refund against degraded state", zap.Error(err))
	}

	if !state.Remaining.GreaterThan(eps) {
		s.obsMetrics.RecordRefund(ctx, "already_refunded")
		log.Info("refund rejected, capture fully refunded")
		return nil, processordomain.ErrAlreadyFullyRefunded
	}
	if requested != nil && money.Exceeds(*requested, state.Remaining, eps) {
		s.obsMetrics.RecordRefund(ctx, "exceeds_remaining")
		log.Info("refund rejected, exceeds remaining", zap.String("remaining", money.Format(state.Remaining)))
		return nil, fmt.Errorf("%w: requested %s, remaining %s",
			domain.ErrExceedsRemaining, money.Format(*requested), money.Format(state.Remaining))
	}

	refund, err := s.gateway.IssueRefund(ctx, processordomain.IssueRefundRequest{
		CaptureID: captureID,
		Amount:    requested,
		Currency:  state.Currency,
	})
	if err != nil {
		if errors.Is(err, processordomain.ErrAlreadyFullyRefunded) {
			s.engine.MarkTerminal(ctx, captureID)
			s.obsMetrics.RecordRefund(ctx, "already_refunded")
		} else {
			s.obsMetrics.RecordRefund(ctx, "failed")
		}
		log.Error("refund failed",
			zap.String("debug_id", processordomain.DebugIDOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	issued := *refund
	if issued.CaptureID == "" {
		issued.CaptureID = captureID
	}
	issued.Amount = issued.Amount.Abs()
	if !issued.Amount.IsPositive() {
		if requested != nil {
			issued.Amount = *requested
		} else {
			issued.Amount = state.Remaining
		}
	}
	if issued.Currency == "" {
		issued.Currency = state.Currency
	}
	if issued.CreatedAt.IsZero() {
		issued.CreatedAt = s.clock.Now()
	}

	s.engine.Observe(ctx, captureID, issued, state.TotalRefunded)
	s.record(ctx, log, issued, req.Actor)
	s.obsMetrics.RecordRefund(ctx, "issued")

	log.Info("refund issued",
		zap.String("refund_id", issued.ID),
		zap.String("refunded", money.Format(issued.Amount)),
		zap.String("debug_id", issued.DebugID),
	)
	return &domain.Result{
		Refund:  issued,
		State:   state.WithRefund(issued, eps),
		DebugID: issued.DebugID,
	}, nil
}

// record writes the ledger row. The refund already exists upstream, so a
// failed write is logged rather than returned.
func (s *Service) record(ctx context.Context, log *zap.Logger, refund processordomain.RefundRecord, actor string) {
	if s.db == nil || s.repo == nil {
		return
	}
	refundID := refund.ID
	if refundID == "" {
		refundID = "local-" + s.genID.Generate().String()
	}
	status := refund.Status
	if status == "" {
		status = "PENDING"
	}
	entry := &domain.LedgerEntry{
		ID:        s.genID.Generate(),
		RefundID:  refundID,
		CaptureID: refund.CaptureID,
		Amount:    refund.Amount.Round(2),
		Currency:  money.CurrencyOr(refund.Currency, "USD"),
		Status:    status,
		Actor:     actor,
		DebugID:   refund.DebugID,
		CreatedAt: refund.CreatedAt,
	}
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		log.Error("failed to write refund ledger", zap.String("refund_id", refundID), zap.Error(err))
	}
}

func (s *Service) ListLedger(ctx context.Context, captureID string) ([]domain.LedgerEntry, error) {
	captureID = strings.TrimSpace(captureID)
	if captureID == "" {
		return nil, domain.ErrInvalidCaptureID
	}
	return s.repo.ListByCapture(ctx, s.db, captureID)
}

func (s *Service) LedgerTotals(ctx context.Context) ([]domain.CaptureTotal, error) {
	return s.repo.SumByCapture(ctx, s.db)
}

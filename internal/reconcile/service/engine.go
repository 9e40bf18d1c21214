package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paydesk/internal/cache"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	ingestdomain "github.com/smallbiznis/paydesk/internal/ingest/domain"
	"github.com/smallbiznis/paydesk/internal/money"
	obsmetrics "github.com/smallbiznis/paydesk/internal/observability/metrics"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	"github.com/smallbiznis/paydesk/internal/reconcile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Gateway    processordomain.Gateway
	Snapshots  ingestdomain.SnapshotStore
	Config     *config.ReconcileConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Engine struct {
	log        *zap.Logger
	clock      clock.Clock
	gateway    processordomain.Gateway
	snapshots  ingestdomain.SnapshotStore
	config     *config.ReconcileConfigHolder
	watermarks cache.Cache[string, watermark]
	obsMetrics *obsmetrics.Metrics
}

func NewEngine(p Params) domain.Engine {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		log:        p.Log.Named("reconcile.engine"),
		clock:      clk,
		gateway:    p.Gateway,
		snapshots:  p.Snapshots,
		config:     p.Config,
		watermarks: cache.NewTTLCache[string, watermark](clk),
		obsMetrics: p.ObsMetrics,
	}
}

// evidence collects what each source said before the merge.
type evidence struct {
	gross     decimal.Decimal
	currency  string
	orderID   string
	createdAt time.Time

	candidate decimal.Decimal
	itemized  decimal.Decimal
	explicit  domain.Status
	sources   []domain.Source
	refunds   []processordomain.RefundRecord
	seenIDs   []string
	debugID   string

	captureStatus string
	upstreamErr   error
}

func (ev *evidence) offer(total decimal.Decimal, source domain.Source) {
	if !total.IsPositive() {
		return
	}
	ev.addSource(source)
	if total.GreaterThan(ev.candidate) {
		ev.candidate = total
	}
}

func (ev *evidence) addSource(source domain.Source) {
	for _, existing := range ev.sources {
		if existing == source {
			return
		}
	}
	ev.sources = append(ev.sources, source)
}

func (ev *evidence) offerGross(gross decimal.Decimal, currency string) {
	if ev.gross.IsPositive() || !gross.IsPositive() {
		return
	}
	ev.gross = gross.Abs()
	if currency != "" {
		ev.currency = currency
	}
}

func (ev *evidence) offerStatus(raw string) {
	if status, ok := domain.ExplicitStatus(raw); ok && ev.explicit == "" {
		ev.explicit = status
	}
}

func (e *Engine) settings() (decimal.Decimal, time.Duration) {
	if e.config == nil {
		defaults := config.DefaultReconcileConfig()
		return defaults.EpsilonValue(), defaults.WatermarkTTL
	}
	cfg := e.config.Get()
	return cfg.EpsilonValue(), cfg.WatermarkTTL
}

// Reconcile runs the live lookup, the event snapshots and the feed fallback
// and merges them so the largest refunded total wins.
func (e *Engine) Reconcile(ctx context.Context, captureID string, feed *domain.FeedFallback) (*domain.RefundState, error) {
	captureID = strings.TrimSpace(captureID)
	if captureID == "" {
		return nil, domain.ErrInvalidCaptureID
	}
	eps, ttl := e.settings()
	now := e.clock.Now()
	log := e.log.With(zap.String("capture_id", captureID))

	ev := &evidence{}
	failures := 0

	live, err := e.gateway.ListCaptureRefunds(ctx, captureID)
	if err != nil && !errors.Is(err, processordomain.ErrNotFound) {
		ev.upstreamErr = err
		failures++
		log.Warn("live refund lookup failed",
			zap.String("debug_id", processordomain.DebugIDOf(err)),
			zap.Error(err),
		)
	}
	if live != nil {
		ev.debugID = live.DebugID
		if capture := live.Capture; capture != nil {
			ev.offerGross(capture.Gross, capture.Currency)
			ev.orderID = capture.OrderID
			ev.createdAt = capture.CreatedAt
			ev.captureStatus = string(capture.Status)
			ev.offerStatus(string(capture.Status))
			ev.addSource(domain.SourceLiveLookup)
		}
		for _, refund := range live.Refunds {
			ev.seenIDs = append(ev.seenIDs, refund.ID)
			if refund.Counts() {
				ev.refunds = append(ev.refunds, refund)
			}
		}
		ev.itemized = live.Sum()
		ev.offer(ev.itemized, domain.SourceLiveLookup)

		// Terminal status can show up before the refund list does.
		listed := err == nil
		if listed && live.Capture != nil && live.Capture.Status == processordomain.CaptureStatusRefunded && len(ev.refunds) == 0 {
			ev.offer(live.Capture.Gross.Abs(), domain.SourceLiveLookup)
		}
	}

	e.foldSnapshots(ctx, log, captureID, ev, &failures)

	if feed != nil {
		ev.addSource(domain.SourceReport)
		ev.offer(feed.Refunded, domain.SourceReport)
		ev.offerGross(feed.Gross, feed.Currency)
		if ev.orderID == "" {
			ev.orderID = feed.OrderID
		}
		if ev.createdAt.IsZero() {
			ev.createdAt = feed.CreatedAt
		}
	}

	if ev.explicit == domain.StatusRefunded && ev.gross.IsPositive() {
		ev.offer(ev.gross, sourceOf(ev))
	}

	seen := ev.candidate
	mark := e.watermarks.Update(captureID, ttl, func(current watermark, found bool) watermark {
		next := current.clone()
		next.Total = money.Max(current.Total, ev.candidate)
		if ev.gross.IsPositive() {
			next.Gross = ev.gross
			next.Currency = ev.currency
		}
		for _, id := range ev.seenIDs {
			if id == "" {
				continue
			}
			delete(next.Pending, id)
			next.Listed[id] = struct{}{}
		}
		next.UpdatedAt = now
		return next
	})

	ev.offerGross(mark.Gross, mark.Currency)
	total := mark.Total
	if total.GreaterThan(seen) {
		ev.addSource(domain.SourceHighWaterMark)
	}
	if len(mark.Pending) > 0 {
		ev.addSource(domain.SourceOptimistic)
	}

	state := &domain.RefundState{
		CaptureID:     captureID,
		OrderID:       ev.orderID,
		Currency:      money.CurrencyOr(ev.currency, "USD"),
		CaptureStatus: ev.captureStatus,
		Sources:       ev.sources,
		Refunds:       ev.refunds,
		CreatedAt:     ev.createdAt,
		ReconciledAt:  now,
		DebugID:       ev.debugID,
	}
	if state.Sources == nil {
		state.Sources = []domain.Source{}
	}

	if !ev.gross.IsPositive() {
		state.Status = domain.StatusUnknown
		state.TotalRefunded = total
		state.Degraded = true
		state.DegradedReason = "gross amount unavailable"
		if ev.upstreamErr != nil {
			state.DegradedReason = ev.upstreamErr.Error()
		}
		e.obsMetrics.RecordReconciliation(ctx, "unavailable", string(state.Status))
		log.Warn("reconciliation unavailable", zap.Int("failed_sources", failures))
		if ev.upstreamErr != nil {
			return state, fmt.Errorf("%w: %w", domain.ErrReconciliationUnavailable, ev.upstreamErr)
		}
		return state, domain.ErrReconciliationUnavailable
	}

	if mark.Terminal {
		total = money.Max(total, ev.gross)
	}
	state.Gross = ev.gross
	state.TotalRefunded = total
	state.Remaining = money.FloorZero(ev.gross.Sub(total))
	state.Status = domain.Classify(total, ev.gross, eps).Escalate(ev.explicit)
	if mark.Terminal {
		state.Status = domain.StatusRefunded
		state.Remaining = decimal.Zero
	}
	if state.Status == domain.StatusRefunded && state.Remaining.LessThanOrEqual(eps) {
		state.Remaining = decimal.Zero
	}
	state.Refunds = withSynthesized(state, ev.itemized)

	if ev.upstreamErr != nil {
		state.Degraded = true
		state.DegradedReason = ev.upstreamErr.Error()
		e.obsMetrics.RecordReconciliation(ctx, "degraded", string(state.Status))
		return state, fmt.Errorf("%w: %w", domain.ErrDegraded, ev.upstreamErr)
	}

	e.obsMetrics.RecordReconciliation(ctx, "ok", string(state.Status))
	log.Debug("reconciled",
		zap.String("total_refunded", money.Format(state.TotalRefunded)),
		zap.String("remaining", money.Format(state.Remaining)),
		zap.String("status", string(state.Status)),
	)
	return state, nil
}

func (e *Engine) foldSnapshots(ctx context.Context, log *zap.Logger, captureID string, ev *evidence, failures *int) {
	if e.snapshots == nil {
		return
	}

	refund, err := e.snapshots.GetRefund(ctx, captureID)
	if err != nil {
		*failures++
		log.Warn("refund snapshot read failed", zap.Error(err))
	} else if refund != nil {
		ev.addSource(domain.SourceEventSnapshot)
		ev.offer(refund.Total, domain.SourceEventSnapshot)
		ev.offerStatus(refund.Status)
		if ev.currency == "" {
			ev.currency = refund.Currency
		}
	}

	capture, err := e.snapshots.GetCapture(ctx, captureID)
	if err != nil {
		*failures++
		log.Warn("capture snapshot read failed", zap.Error(err))
		return
	}
	if capture == nil {
		return
	}
	ev.addSource(domain.SourceEventSnapshot)
	ev.offerGross(capture.Amount, capture.Currency)
	ev.offerStatus(capture.Status)
	if ev.orderID == "" {
		ev.orderID = capture.OrderID
	}
	if ev.createdAt.IsZero() {
		ev.createdAt = capture.CreatedAt
	}
}

func sourceOf(ev *evidence) domain.Source {
	if ev.captureStatus != "" {
		return domain.SourceLiveLookup
	}
	return domain.SourceEventSnapshot
}

// withSynthesized appends a derived record for any refunded amount the
// itemized list does not account for.
func withSynthesized(state *domain.RefundState, itemized decimal.Decimal) []processordomain.RefundRecord {
	refunds := state.Refunds
	if refunds == nil {
		refunds = []processordomain.RefundRecord{}
	}
	gap := state.TotalRefunded.Sub(itemized)
	if !gap.IsPositive() {
		return refunds
	}
	return append(refunds, processordomain.RefundRecord{
		CaptureID: state.CaptureID,
		Amount:    gap,
		Currency:  state.Currency,
		Status:    string(state.Status),
		CreatedAt: state.ReconciledAt,
	})
}

// Observe raises the capture's high-water mark to refundedBefore plus a refund
// issued here. The refund stays pending until the itemized list reports its
// id, and a refund already listed is not folded again.
func (e *Engine) Observe(ctx context.Context, captureID string, refund processordomain.RefundRecord, refundedBefore decimal.Decimal) {
	captureID = strings.TrimSpace(captureID)
	amount := refund.Amount.Abs()
	if captureID == "" || !amount.IsPositive() {
		return
	}
	_, ttl := e.settings()
	now := e.clock.Now()
	refundID := refund.ID
	if refundID == "" {
		refundID = "local-" + ulid.Make().String()
	}

	mark := e.watermarks.Update(captureID, ttl, func(current watermark, found bool) watermark {
		next := current.clone()
		if _, dup := next.Pending[refundID]; dup {
			return next
		}
		if _, listed := next.Listed[refundID]; listed {
			return next
		}
		next.Pending[refundID] = amount
		next.Total = money.Max(current.Total, refundedBefore.Abs().Add(amount))
		if next.Gross.IsPositive() && next.Total.GreaterThan(next.Gross) {
			next.Total = next.Gross
		}
		if next.Currency == "" {
			next.Currency = refund.Currency
		}
		next.UpdatedAt = now
		return next
	})
	e.log.Info("observed issued refund",
		zap.String("capture_id", captureID),
		zap.String("refund_id", refund.ID),
		zap.String("amount", money.Format(amount)),
		zap.String("total_refunded", money.Format(mark.Total)),
	)
}

func (e *Engine) MarkTerminal(ctx context.Context, captureID string) {
	captureID = strings.TrimSpace(captureID)
	if captureID == "" {
		return
	}
	_, ttl := e.settings()
	now := e.clock.Now()
	e.watermarks.Update(captureID, ttl, func(current watermark, found bool) watermark {
		next := current.clone()
		next.Terminal = true
		if next.Gross.IsPositive() {
			next.Total = money.Max(next.Total, next.Gross)
		}
		next.UpdatedAt = now
		return next
	})
	e.log.Info("capture marked fully refunded", zap.String("capture_id", captureID))
}

func (e *Engine) Sweep(now time.Time) int {
	return e.watermarks.Sweep(now)
}

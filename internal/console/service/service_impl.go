package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/console/domain"
	ingestdomain "github.com/smallbiznis/paydesk/internal/ingest/domain"
	"github.com/smallbiznis/paydesk/internal/money"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
	refunddomain "github.com/smallbiznis/paydesk/internal/refund/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxFeedPages bounds how much of the reporting feed one listing reads.
const maxFeedPages = 5

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Config  *config.ReconcileConfigHolder
	Gateway processordomain.Gateway
	Engine  reconciledomain.Engine
	Ingest  ingestdomain.Service
	Refunds refunddomain.Service
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	config  *config.ReconcileConfigHolder
	gateway processordomain.Gateway
	engine  reconciledomain.Engine
	ingest  ingestdomain.Service
	refunds refunddomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		log:     p.Log.Named("console.service"),
		clock:   p.Clock,
		config:  p.Config,
		gateway: p.Gateway,
		engine:  p.Engine,
		ingest:  p.Ingest,
		refunds: p.Refunds,
	}
}

func (s *Service) settings() config.ReconcileConfig {
	if s.config == nil {
		return config.DefaultReconcileConfig()
	}
	return s.config.Get()
}

func (s *Service) ListRows(ctx context.Context, filter domain.Filter) ([]domain.Row, error) {
	kind, err := domain.ParseKind(string(filter.Kind))
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = domain.DefaultLimit
	}
	if limit > domain.MaxLimit {
		limit = domain.MaxLimit
	}

	feed, feedErr := s.loadFeed(ctx, filter.Start, filter.End)
	if feedErr != nil {
		s.log.Warn("reporting feed unavailable",
			zap.String("debug_id", processordomain.DebugIDOf(feedErr)),
			zap.Error(feedErr),
		)
	}

	if kind == domain.KindRefund {
		if feedErr != nil {
			return nil, feedErr
		}
		rows := refundRows(feed)
		sortNewestFirst(rows)
		return truncate(rows, limit), nil
	}

	rows := saleRows(feed)
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		seen[row.CaptureID] = struct{}{}
	}

	snapshots, err := s.ingest.ListCaptureSnapshots(ctx)
	if err != nil {
		s.log.Warn("capture snapshots unavailable", zap.Error(err))
		if feedErr != nil {
			return nil, feedErr
		}
	}
	for _, snap := range snapshots {
		if _, ok := seen[snap.CaptureID]; ok {
			continue
		}
		seen[snap.CaptureID] = struct{}{}
		rows = append(rows, domain.Row{
			Kind:              domain.KindSale,
			TransactionID:     snap.CaptureID,
			CaptureID:         snap.CaptureID,
			OrderID:           snap.OrderID,
			Amount:            snap.Amount,
			Currency:          snap.Currency,
			TransactionStatus: snap.Status,
			CreatedAt:         snap.CreatedAt,
			Source:            reconciledomain.SourceEventSnapshot,
		})
	}
	if feedErr != nil && len(rows) == 0 {
		return nil, feedErr
	}

	sortNewestFirst(rows)
	rows = truncate(rows, limit)
	s.reconcileRows(ctx, rows, reconciledomain.NewFeedIndex(feed))
	return rows, nil
}

// reconcileRows fills the refund state of each sale row. A failing row is
// annotated instead of failing the listing.
func (s *Service) reconcileRows(ctx context.Context, rows []domain.Row, index *reconciledomain.FeedIndex) {
	cfg := s.settings()
	eps := cfg.EpsilonValue()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.ConsoleConcurrency))
	for i := range rows {
		row := &rows[i]
		g.Go(func() error {
			state, err := s.engine.Reconcile(gctx, row.CaptureID, index.Fallback(row.CaptureID))
			switch {
			case err == nil:
				row.State = state
				row.RefundStatus = state.Status
				row.Actionable = state.Actionable(eps)
			case state != nil && errors.Is(err, reconciledomain.ErrDegraded):
				row.State = state
				row.RefundStatus = state.Status
				row.Actionable = state.Actionable(eps)
				row.Error = err.Error()
			default:
				row.State = state
				row.RefundStatus = reconciledomain.StatusUnknown
				row.Actionable = false
				row.Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) loadFeed(ctx context.Context, start, end time.Time) ([]processordomain.TransactionRow, error) {
	cfg := s.settings()
	if end.IsZero() {
		end = s.clock.Now()
	}
	if start.IsZero() {
		start = end.Add(-cfg.ReportLookback)
	}

	var rows []processordomain.TransactionRow
	for page := 1; page <= maxFeedPages; page++ {
		result, err := s.gateway.ListTransactions(ctx, processordomain.TransactionQuery{
			Start:    start,
			End:      end,
			PageSize: cfg.ReportPageSize,
			Page:     page,
		})
		if err != nil {
			return rows, err
		}
		rows = append(rows, result.Rows...)
		if page >= result.TotalPages {
			break
		}
	}
	return rows, nil
}

func saleRows(feed []processordomain.TransactionRow) []domain.Row {
	rows := make([]domain.Row, 0, len(feed))
	for _, tx := range feed {
		if tx.IsRefund() || !tx.Amount.IsPositive() || tx.TransactionID == "" {
			continue
		}
		rows = append(rows, domain.Row{
			Kind:              domain.KindSale,
			TransactionID:     tx.TransactionID,
			CaptureID:         tx.CaptureID(),
			OrderID:           tx.OrderID(),
			Amount:            tx.Amount,
			Currency:          tx.Currency,
			TransactionStatus: tx.Status,
			PayerEmail:        tx.PayerEmail,
			CreatedAt:         tx.CreatedAt,
			Source:            reconciledomain.SourceReport,
		})
	}
	return rows
}

func refundRows(feed []processordomain.TransactionRow) []domain.Row {
	rows := make([]domain.Row, 0)
	for _, tx := range feed {
		if !tx.IsRefund() {
			continue
		}
		rows = append(rows, domain.Row{
			Kind:              domain.KindRefund,
			TransactionID:     tx.TransactionID,
			CaptureID:         tx.CaptureID(),
			Amount:            tx.Amount,
			Currency:          tx.Currency,
			TransactionStatus: tx.Status,
			PayerEmail:        tx.PayerEmail,
			CreatedAt:         tx.CreatedAt,
			Source:            reconciledomain.SourceReport,
		})
	}
	return rows
}

func sortNewestFirst(rows []domain.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return strings.Compare(rows[i].TransactionID, rows[j].TransactionID) < 0
	})
}

func truncate(rows []domain.Row, limit int) []domain.Row {
	if len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// Pending lists captures whose ledger total is ahead of every processor
// side source by more than the tolerance.
func (s *Service) Pending(ctx context.Context) ([]domain.PendingItem, error) {
	totals, err := s.refunds.LedgerTotals(ctx)
	if err != nil {
		return nil, err
	}
	if len(totals) == 0 {
		return []domain.PendingItem{}, nil
	}

	cfg := s.settings()
	eps := cfg.EpsilonValue()

	feed, feedErr := s.loadFeed(ctx, time.Time{}, time.Time{})
	if feedErr != nil {
		s.log.Warn("reporting feed unavailable for pending view", zap.Error(feedErr))
	}
	index := reconciledomain.NewFeedIndex(feed)

	items := make([]*domain.PendingItem, len(totals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.ConsoleConcurrency))
	for i, total := range totals {
		g.Go(func() error {
			items[i] = s.pendingItem(gctx, total, index, eps)
			return nil
		})
	}
	_ = g.Wait()

	pending := make([]domain.PendingItem, 0, len(items))
	for _, item := range items {
		if item != nil {
			pending = append(pending, *item)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CaptureID < pending[j].CaptureID
	})
	return pending, nil
}

func (s *Service) pendingItem(ctx context.Context, total refunddomain.CaptureTotal, index *reconciledomain.FeedIndex, eps decimal.Decimal) *domain.PendingItem {
	processor := decimal.Zero
	degraded := false

	live, err := s.gateway.ListCaptureRefunds(ctx, total.CaptureID)
	if err != nil && !errors.Is(err, processordomain.ErrNotFound) {
		degraded = true
		s.log.Debug("live refund lookup failed",
			zap.String("capture_id", total.CaptureID),
			zap.Error(err),
		)
	}
	if live != nil {
		processor = money.Max(processor, live.Sum())
		if live.Capture != nil && live.Capture.Status == processordomain.CaptureStatusRefunded {
			processor = money.Max(processor, live.Capture.Gross.Abs())
		}
	}

	if snap, err := s.ingest.GetRefundSnapshot(ctx, total.CaptureID); err != nil {
		degraded = true
	} else if snap != nil {
		processor = money.Max(processor, snap.Total)
	}

	if fb := index.Fallback(total.CaptureID); fb != nil {
		processor = money.Max(processor, fb.Refunded)
	}

	difference := total.Total.Sub(processor)
	if !difference.GreaterThan(eps) {
		return nil
	}
	return &domain.PendingItem{
		CaptureID:      total.CaptureID,
		Currency:       money.CurrencyOr(total.Currency, "USD"),
		LocalTotal:     total.Total,
		ProcessorTotal: processor,
		Difference:     difference,
		LedgerCount:    total.Count,
		Degraded:       degraded,
	}
}

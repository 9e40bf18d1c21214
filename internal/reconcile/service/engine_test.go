package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	ingestdomain "github.com/smallbiznis/paydesk/internal/ingest/domain"
	"github.com/smallbiznis/paydesk/internal/ingest/store"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	"github.com/smallbiznis/paydesk/internal/processor/processortest"
	"github.com/smallbiznis/paydesk/internal/reconcile/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type engineFixture struct {
	engine    domain.Engine
	gateway   *processortest.Gateway
	snapshots *store.MemoryStore
	clock     *clock.FakeClock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	gateway := &processortest.Gateway{}
	snapshots := store.NewMemoryStore(72*time.Hour, clk)
	engine := NewEngine(Params{
		Log:       zap.NewNop(),
		Clock:     clk,
		Gateway:   gateway,
		Snapshots: snapshots,
		Config:    config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig()),
	})
	return &engineFixture{engine: engine, gateway: gateway, snapshots: snapshots, clock: clk}
}

func liveCapture(status processordomain.CaptureStatus, gross string, refunds ...processordomain.RefundRecord) *processordomain.CaptureRefunds {
	return &processordomain.CaptureRefunds{
		CaptureID: "C1",
		Capture: &processordomain.Capture{
			ID:       "C1",
			OrderID:  "O1",
			Gross:    d(gross),
			Currency: "USD",
			Status:   status,
		},
		Refunds: refunds,
	}
}

func refund(id, amount string) processordomain.RefundRecord {
	return processordomain.RefundRecord{ID: id, CaptureID: "C1", Amount: d(amount), Currency: "USD", Status: "COMPLETED"}
}

func TestReconcileNoRefunds(t *testing.T) {
	f := newEngineFixture(t)
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusCompleted, "50.00"), nil)

	state, err := f.engine.Reconcile(context.Background(), "C1", nil)
	require.NoError(t, err)
	assert.True(t, state.TotalRefunded.IsZero())
	assert.True(t, state.Remaining.Equal(d("50.00")))
	assert.Equal(t, domain.StatusNotRefunded, state.Status)
	assert.Equal(t, "O1", state.OrderID)
	assert.False(t, state.Degraded)
	assert.Empty(t, state.Refunds)
}

func TestReconcileItemizedRefund(t *testing.T) {
	f := newEngineFixture(t)
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusPartiallyRefunded, "50.00", refund("R1", "20.00")), nil)

	state, err := f.engine.Reconcile(context.Background(), "C1", nil)
	require.NoError(t, err)
	assert.True(t, state.TotalRefunded.Equal(d("20.00")))
	assert.True(t, state.Remaining.Equal(d("30.00")))
	assert.Equal(t, domain.StatusPartiallyRefunded, state.Status)
	assert.True(t, state.HasSource(domain.SourceLiveLookup))
	require.Len(t, state.Refunds, 1)
	assert.Equal(t, "R1", state.Refunds[0].ID)
}

func TestReconcileTerminalStatusWithoutItems(t *testing.T) {
	f := newEngineFixture(t)
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusRefunded, "50.00"), nil)

	state, err := f.engine.Reconcile(context.Background(), "C1", nil)
	require.NoError(t, err)
	assert.True(t, state.TotalRefunded.Equal(d("50.00")))
	assert.True(t, state.Remaining.IsZero())
	assert.Equal(t, domain.StatusRefunded, state.Status)
	require.Len(t, state.Refunds, 1)
	assert.Empty(t, state.Refunds[0].ID)
	assert.False(t, state.Actionable(d("0.01")))
}

func TestReconcileSnapshotAheadOfList(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusPartiallyRefunded, "50.00", refund("R1", "20.00")), nil)
	require.NoError(t, f.snapshots.PutRefund(ctx, ingestdomain.RefundSnapshot{
		CaptureID: "C1",
		Total:     d("50.00"),
		Currency:  "USD",
		Status:    "REFUNDED",
	}))

	state, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	assert.True(t, state.TotalRefunded.Equal(d("50.00")))
	assert.True(t, state.Remaining.IsZero())
	assert.Equal(t, domain.StatusRefunded, state.Status)
	assert.True(t, state.HasSource(domain.SourceEventSnapshot))
}

func TestReconcileFeedFallback(t *testing.T) {
	f := newEngineFixture(t)
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusCompleted, "50.00"), nil)

	state, err := f.engine.Reconcile(context.Background(), "C1", &domain.FeedFallback{
		Gross:    d("50.00"),
		Currency: "USD",
		Refunded: d("12.50"),
	})
	require.NoError(t, err)
	assert.True(t, state.TotalRefunded.Equal(d("12.50")))
	assert.True(t, state.Remaining.Equal(d("37.50")))
	assert.True(t, state.HasSource(domain.SourceReport))
}

func TestReconcileCaptureNotVisibleUsesFeed(t *testing.T) {
	f := newEngineFixture(t)
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(&processordomain.CaptureRefunds{CaptureID: "C1"}, nil)

	state, err := f.engine.Reconcile(context.Background(), "C1", &domain.FeedFallback{
		OrderID:  "O1",
		Gross:    d("40.00"),
		Currency: "USD",
		Refunded: d("10.00"),
	})
	require.NoError(t, err)
	assert.False(t, state.Degraded)
	assert.True(t, state.Gross.Equal(d("40.00")))
	assert.True(t, state.Remaining.Equal(d("30.00")))
	assert.Equal(t, domain.StatusPartiallyRefunded, state.Status)
}

func TestReconcileUpstreamFailureIsDegraded(t *testing.T) {
	f := newEngineFixture(t)
	upstream := &processordomain.UpstreamError{Op: "captures.get", StatusCode: 500, DebugID: "dbg-1"}
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return((*processordomain.CaptureRefunds)(nil), upstream)

	state, err := f.engine.Reconcile(context.Background(), "C1", &domain.FeedFallback{
		Gross:    d("50.00"),
		Currency: "USD",
		Refunded: d("5.00"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDegraded))
	assert.True(t, errors.Is(err, processordomain.ErrUpstream))
	assert.Equal(t, "dbg-1", processordomain.DebugIDOf(err))
	require.NotNil(t, state)
	assert.True(t, state.Degraded)
	assert.True(t, state.Remaining.Equal(d("45.00")))
}

func TestReconcileUnavailableWithoutGross(t *testing.T) {
	f := newEngineFixture(t)
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return((*processordomain.CaptureRefunds)(nil), processordomain.ErrUpstreamTimeout)

	state, err := f.engine.Reconcile(context.Background(), "C1", nil)
	assert.True(t, errors.Is(err, domain.ErrReconciliationUnavailable))
	assert.True(t, errors.Is(err, processordomain.ErrUpstreamTimeout))
	require.NotNil(t, state)
	assert.Equal(t, domain.StatusUnknown, state.Status)
}

func TestReconcileRejectsBlankCapture(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Reconcile(context.Background(), " ", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCaptureID)
}

func TestReconcileNeverDecreases(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusPartiallyRefunded, "50.00", refund("R1", "30.00")), nil).Once()
	first, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	assert.True(t, first.TotalRefunded.Equal(d("30.00")))

	// A lagging replica answers with an empty list.
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusCompleted, "50.00"), nil).Once()
	second, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	assert.True(t, second.TotalRefunded.Equal(d("30.00")))
	assert.True(t, second.Remaining.Equal(d("20.00")))
	assert.True(t, second.HasSource(domain.SourceHighWaterMark))
}

func TestReconcileMonotonicAcrossSourceOrder(t *testing.T) {
	truth := []string{"0", "10.00", "10.00", "25.00", "25.00", "40.00", "50.00"}
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 20; round++ {
		f := newEngineFixture(t)
		ctx := context.Background()
		previous := decimal.Zero

		for _, value := range truth {
			actual := d(value)
			// One source reports the truth; the others may lag at zero.
			var listed []processordomain.RefundRecord
			var feed *domain.FeedFallback
			switch rng.Intn(3) {
			case 0:
				if actual.IsPositive() {
					listed = []processordomain.RefundRecord{refund("R", value)}
				}
			case 1:
				require.NoError(t, f.snapshots.PutRefund(ctx, ingestdomain.RefundSnapshot{CaptureID: "C1", Total: actual, Currency: "USD"}))
			default:
				feed = &domain.FeedFallback{Gross: d("50.00"), Currency: "USD", Refunded: actual}
			}
			f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
				Return(liveCapture(processordomain.CaptureStatusCompleted, "50.00", listed...), nil).Once()

			state, err := f.engine.Reconcile(ctx, "C1", feed)
			require.NoError(t, err)
			assert.False(t, state.TotalRefunded.LessThan(previous), "round %d: %s < %s", round, state.TotalRefunded, previous)
			assert.False(t, state.Remaining.IsNegative())
			previous = state.TotalRefunded
		}
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusPartiallyRefunded, "50.00", refund("R1", "20.00")), nil)

	first, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	second, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	assert.True(t, first.TotalRefunded.Equal(second.TotalRefunded))
	assert.True(t, first.Remaining.Equal(second.Remaining))
	assert.True(t, first.Gross.Equal(second.Gross))
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Sources, second.Sources)
	assert.Equal(t, first.Degraded, second.Degraded)
	assert.Len(t, second.Refunds, len(first.Refunds))
}

func TestObserveFoldsIssuedRefund(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusPartiallyRefunded, "50.00", refund("R1", "20.00")), nil).Once()
	_, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)

	f.engine.Observe(ctx, "C1", refund("R2", "10.00"), d("20.00"))

	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusPartiallyRefunded, "50.00", refund("R1", "20.00")), nil).Once()
	state, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	assert.True(t, state.TotalRefunded.Equal(d("30.00")))
	assert.True(t, state.Remaining.Equal(d("20.00")))
	assert.True(t, state.HasSource(domain.SourceOptimistic))

	// Once listed, the refund is no longer pending and is not counted twice.
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusPartiallyRefunded, "50.00", refund("R1", "20.00"), refund("R2", "10.00")), nil).Once()
	state, err = f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	assert.True(t, state.TotalRefunded.Equal(d("30.00")))
	assert.False(t, state.HasSource(domain.SourceOptimistic))
}

func TestObserveSkipsRefundAlreadyListed(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusPartiallyRefunded, "50.00", refund("R1", "20.00"), refund("R2", "10.00")), nil)

	_, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)

	// The issuance was checked before R2 showed up in the list.
	f.engine.Observe(ctx, "C1", refund("R2", "10.00"), d("20.00"))

	state, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	assert.True(t, state.TotalRefunded.Equal(d("30.00")), state.TotalRefunded.String())
	assert.True(t, state.Remaining.Equal(d("20.00")), state.Remaining.String())
	assert.Equal(t, domain.StatusPartiallyRefunded, state.Status)
	assert.False(t, state.HasSource(domain.SourceOptimistic))
}

func TestObserveDoesNotStackOnSnapshotTotal(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusPartiallyRefunded, "50.00", refund("R1", "20.00")), nil)
	require.NoError(t, f.snapshots.PutRefund(ctx, ingestdomain.RefundSnapshot{CaptureID: "C1", Total: d("30.00"), Currency: "USD"}))

	state, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	require.True(t, state.TotalRefunded.Equal(d("30.00")))

	// The snapshot already carries R2, which has no id there.
	f.engine.Observe(ctx, "C1", refund("R2", "10.00"), d("20.00"))

	state, err = f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	assert.True(t, state.TotalRefunded.Equal(d("30.00")), state.TotalRefunded.String())
	assert.True(t, state.Remaining.Equal(d("20.00")), state.Remaining.String())
}

func TestMarkTerminalForcesRefunded(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusCompleted, "50.00"), nil)

	_, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	f.engine.MarkTerminal(ctx, "C1")

	state, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, state.Status)
	assert.True(t, state.Remaining.IsZero())
}

func TestExplicitPartialStatusKeepsRemaining(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusPartiallyRefunded, "50.00"), nil)

	state, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyRefunded, state.Status)
	assert.True(t, state.Remaining.Equal(d("50.00")))
}

func TestSweepEvictsWatermarks(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C1").
		Return(liveCapture(processordomain.CaptureStatusCompleted, "50.00"), nil)
	_, err := f.engine.Reconcile(ctx, "C1", nil)
	require.NoError(t, err)

	assert.Zero(t, f.engine.Sweep(f.clock.Now()))
	f.clock.Advance(31 * 24 * time.Hour)
	assert.Equal(t, 1, f.engine.Sweep(f.clock.Now()))
}

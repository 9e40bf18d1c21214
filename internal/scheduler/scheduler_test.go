package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paydesk/internal/clock"
	ingestdomain "github.com/smallbiznis/paydesk/internal/ingest/domain"
	"github.com/smallbiznis/paydesk/internal/ingest/store"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	"github.com/smallbiznis/paydesk/internal/processor/processortest"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sweepEngine struct {
	reconciledomain.Engine
	swept   []time.Time
	evicted int
}

func (e *sweepEngine) Sweep(now time.Time) int {
	e.swept = append(e.swept, now)
	return e.evicted
}

type fixture struct {
	sched   *Scheduler
	clock   *clock.FakeClock
	store   *store.MemoryStore
	engine  *sweepEngine
	gateway *processortest.Gateway
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	snapshots := store.NewMemoryStore(time.Hour, clk)
	engine := &sweepEngine{}
	gateway := &processortest.Gateway{}

	sched, err := New(Params{
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Snapshots: snapshots,
		Engine:    engine,
		Gateway:   gateway,
		Config:    cfg,
	})
	require.NoError(t, err)
	return &fixture{sched: sched, clock: clk, store: snapshots, engine: engine, gateway: gateway}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSweepJobEvictsExpiredEntries(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.store.PutCapture(ctx, ingestdomain.CaptureSnapshot{CaptureID: "C1", Amount: decimal.RequireFromString("10.00")}))
	require.NoError(t, f.store.PutRefund(ctx, ingestdomain.RefundSnapshot{CaptureID: "C1", Total: decimal.RequireFromString("4.00")}))
	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.store.PutCapture(ctx, ingestdomain.CaptureSnapshot{CaptureID: "C2", Amount: decimal.RequireFromString("5.00")}))
	f.engine.evicted = 3

	require.NoError(t, f.sched.SweepJob(ctx))

	captures, err := f.store.ListCaptures(ctx)
	require.NoError(t, err)
	require.Len(t, captures, 1)
	assert.Equal(t, "C2", captures[0].CaptureID)
	refunds, err := f.store.ListRefunds(ctx)
	require.NoError(t, err)
	assert.Empty(t, refunds)

	require.Len(t, f.engine.swept, 1)
	assert.True(t, f.engine.swept[0].Equal(f.clock.Now()))
}

func TestWarmupJobReadsFeedWindow(t *testing.T) {
	f := setup(t, Config{WarmupEnabled: true, WarmupWindow: 6 * time.Hour})
	now := f.clock.Now()

	f.gateway.On("ListTransactions", mock.Anything, mock.MatchedBy(func(q processordomain.TransactionQuery) bool {
		return q.End.Equal(now) && q.Start.Equal(now.Add(-6*time.Hour)) && q.Page == 1
	})).Return(&processordomain.TransactionPage{Rows: []processordomain.TransactionRow{
		{TransactionID: "T1", CreatedAt: now.Add(-3 * time.Hour)},
		{TransactionID: "T2", CreatedAt: now.Add(-90 * time.Minute)},
	}}, nil)

	require.NoError(t, f.sched.WarmupJob(context.Background()))
	f.gateway.AssertExpectations(t)
}

func TestRunOnceReportsWarmupFailure(t *testing.T) {
	f := setup(t, Config{WarmupEnabled: true})
	upstream := &processordomain.UpstreamError{StatusCode: 503, Op: "list_transactions"}
	f.gateway.On("ListTransactions", mock.Anything, mock.Anything).Return(nil, upstream)

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, processordomain.ErrUpstream)
	assert.Contains(t, err.Error(), JobReportWarmup)
	assert.Len(t, f.engine.swept, 1)
}

func TestRunOnceSkipsDisabledWarmup(t *testing.T) {
	f := setup(t, Config{})
	f.sched.cfg.WarmupEnabled = false

	require.NoError(t, f.sched.RunOnce(context.Background()))
	f.gateway.AssertNotCalled(t, "ListTransactions", mock.Anything, mock.Anything)
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	f := setup(t, Config{JobTimeout: 5 * time.Millisecond})

	err := f.sched.runJob(context.Background(), "slow_job", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, err)

	err = f.sched.runJob(context.Background(), "failing_job", func(ctx context.Context) error {
		return errors.New("boom")
	})
	assert.EqualError(t, err, "failing_job: boom")
}

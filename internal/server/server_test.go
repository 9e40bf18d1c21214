package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paydesk/internal/authorization"
	checkoutdomain "github.com/smallbiznis/paydesk/internal/checkout/domain"
	"github.com/smallbiznis/paydesk/internal/config"
	consoledomain "github.com/smallbiznis/paydesk/internal/console/domain"
	ingestdomain "github.com/smallbiznis/paydesk/internal/ingest/domain"
	"github.com/smallbiznis/paydesk/internal/observability"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	"github.com/smallbiznis/paydesk/internal/processor/processortest"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
	refunddomain "github.com/smallbiznis/paydesk/internal/refund/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	viewerKey   = "viewer-key"
	operatorKey = "operator-key"
)

// keyAuthz resolves the two fixed test keys and allows operators everything
// and viewers only reads.
type keyAuthz struct{}

func (keyAuthz) Authenticate(ctx context.Context, key string) (authorization.Principal, error) {
	switch key {
	case viewerKey:
		return authorization.Principal{Subject: "admin:viewer", Role: authorization.RoleViewer}, nil
	case operatorKey:
		return authorization.Principal{Subject: "admin:operator", Role: authorization.RoleOperator}, nil
	}
	return authorization.Principal{}, authorization.ErrUnauthorized
}

func (keyAuthz) Authorize(ctx context.Context, principal authorization.Principal, object, action string) error {
	if action == authorization.ActionIssue && principal.Role != authorization.RoleOperator {
		return authorization.ErrForbidden
	}
	return nil
}

type refundServiceMock struct {
	mock.Mock
}

func (m *refundServiceMock) RequestRefund(ctx context.Context, req refunddomain.Request) (*refunddomain.Result, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*refunddomain.Result)
	return result, args.Error(1)
}

func (m *refundServiceMock) ListLedger(ctx context.Context, captureID string) ([]refunddomain.LedgerEntry, error) {
	args := m.Called(ctx, captureID)
	entries, _ := args.Get(0).([]refunddomain.LedgerEntry)
	return entries, args.Error(1)
}

func (m *refundServiceMock) LedgerTotals(ctx context.Context) ([]refunddomain.CaptureTotal, error) {
	args := m.Called(ctx)
	totals, _ := args.Get(0).([]refunddomain.CaptureTotal)
	return totals, args.Error(1)
}

type ingestServiceMock struct {
	mock.Mock
}

func (m *ingestServiceMock) Ingest(ctx context.Context, rawBody []byte, headers http.Header) (*ingestdomain.Result, error) {
	args := m.Called(ctx, rawBody, headers)
	result, _ := args.Get(0).(*ingestdomain.Result)
	return result, args.Error(1)
}

func (m *ingestServiceMock) GetCaptureSnapshot(ctx context.Context, captureID string) (*ingestdomain.CaptureSnapshot, error) {
	args := m.Called(ctx, captureID)
	snapshot, _ := args.Get(0).(*ingestdomain.CaptureSnapshot)
	return snapshot, args.Error(1)
}

func (m *ingestServiceMock) GetRefundSnapshot(ctx context.Context, captureID string) (*ingestdomain.RefundSnapshot, error) {
	args := m.Called(ctx, captureID)
	snapshot, _ := args.Get(0).(*ingestdomain.RefundSnapshot)
	return snapshot, args.Error(1)
}

func (m *ingestServiceMock) ListCaptureSnapshots(ctx context.Context) ([]ingestdomain.CaptureSnapshot, error) {
	args := m.Called(ctx)
	snapshots, _ := args.Get(0).([]ingestdomain.CaptureSnapshot)
	return snapshots, args.Error(1)
}

func (m *ingestServiceMock) ListRefundSnapshots(ctx context.Context) ([]ingestdomain.RefundSnapshot, error) {
	args := m.Called(ctx)
	snapshots, _ := args.Get(0).([]ingestdomain.RefundSnapshot)
	return snapshots, args.Error(1)
}

type checkoutServiceMock struct {
	checkoutdomain.Service
	mock.Mock
}

func (m *checkoutServiceMock) CreateOrder(ctx context.Context, req checkoutdomain.CreateOrderRequest) (*processordomain.Order, error) {
	args := m.Called(ctx, req)
	order, _ := args.Get(0).(*processordomain.Order)
	return order, args.Error(1)
}

func (m *checkoutServiceMock) PatchOrder(ctx context.Context, req checkoutdomain.PatchOrderRequest) (*processordomain.PatchResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*processordomain.PatchResult)
	return result, args.Error(1)
}

type stateEngine struct {
	reconciledomain.Engine
	state *reconciledomain.RefundState
	err   error
}

func (e *stateEngine) Reconcile(ctx context.Context, captureID string, feed *reconciledomain.FeedFallback) (*reconciledomain.RefundState, error) {
	return e.state, e.err
}

type fixture struct {
	server   *Server
	gateway  *processortest.Gateway
	refunds  *refundServiceMock
	ingest   *ingestServiceMock
	checkout *checkoutServiceMock
	engine   *stateEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		gateway:  &processortest.Gateway{},
		refunds:  &refundServiceMock{},
		ingest:   &ingestServiceMock{},
		checkout: &checkoutServiceMock{},
		engine:   &stateEngine{},
	}
	f.server = NewServer(ServerParams{
		Gin:         NewEngine(observability.Config{}, nil),
		Cfg:         config.Config{Environment: "test"},
		Log:         zap.NewNop(),
		Gateway:     f.gateway,
		IngestSvc:   f.ingest,
		Engine:      f.engine,
		RefundSvc:   f.refunds,
		ConsoleSvc:  consoledomain.Service(nil),
		CheckoutSvc: f.checkout,
		AuthzSvc:    keyAuthz{},
	})
	return f
}

func (f *fixture) do(method, path, key string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderAdminKey, key)
	}
	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestAdminRoutesRequireKey(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/admin/captures/C1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)

	rec = f.do(http.MethodGet, "/api/admin/captures/C1", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.gateway.AssertNotCalled(t, "GetCapture", mock.Anything, mock.Anything)
}

func TestViewerCannotIssueRefund(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/admin/refunds", viewerKey, []byte(`{"captureId":"C1"}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	f.refunds.AssertNotCalled(t, "RequestRefund", mock.Anything, mock.Anything)
}

func TestIssueRefundValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "missing capture", body: `{"amount":"1.00"}`, field: "captureId"},
		{name: "null amount", body: `{"captureId":"C1","amount":null}`, field: "amount"},
		{name: "boolean amount", body: `{"captureId":"C1","amount":true}`, field: "amount"},
		{name: "malformed body", body: `{`, field: "request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, "/api/admin/refunds", operatorKey, []byte(tt.body))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			payload := decodeError(t, rec)
			assert.Equal(t, "validation_error", payload.Type)
			require.NotEmpty(t, payload.Errors)
			assert.Equal(t, tt.field, payload.Errors[0].Field)
			f.refunds.AssertNotCalled(t, "RequestRefund", mock.Anything, mock.Anything)
		})
	}
}

func TestIssueRefundPassesAmountAndActor(t *testing.T) {
	f := newFixture(t)
	f.refunds.On("RequestRefund", mock.Anything, mock.MatchedBy(func(req refunddomain.Request) bool {
		return req.CaptureID == "C1" && req.Amount != nil && *req.Amount == "2.5" && req.Actor == "admin:operator"
	})).Return(&refunddomain.Result{
		Refund: processordomain.RefundRecord{
			ID:       "R1",
			Amount:   decimal.RequireFromString("2.50"),
			Currency: "USD",
			Status:   "COMPLETED",
		},
		DebugID: "dbg-1",
	}, nil)

	rec := f.do(http.MethodPost, "/api/admin/refunds", operatorKey, []byte(`{"captureId":"C1","amount":2.5}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		RefundID string         `json:"refundId"`
		DebugID  string         `json:"debugId"`
		Refund   refundResponse `json:"refund"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "R1", body.RefundID)
	assert.Equal(t, "dbg-1", body.DebugID)
	assert.Equal(t, "2.50", body.Refund.Amount)
	f.refunds.AssertExpectations(t)
}

func TestIssueRefundErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		errType string
		debugID string
	}{
		{
			name:    "exceeds remaining",
			err:     fmt.Errorf("%w: requested 9.00, remaining 4.00", refunddomain.ErrExceedsRemaining),
			status:  http.StatusUnprocessableEntity,
			errType: "exceeds_remaining",
		},
		{
			name:    "already refunded",
			err:     &processordomain.UpstreamError{Op: "issue_refund", StatusCode: 422, Issue: processordomain.IssueCaptureFullyRefunded, DebugID: "dbg-9"},
			status:  http.StatusConflict,
			errType: "already_fully_refunded",
			debugID: "dbg-9",
		},
		{
			name:    "in progress",
			err:     refunddomain.ErrRefundInProgress,
			status:  http.StatusConflict,
			errType: "refund_in_progress",
		},
		{
			name:    "upstream failure",
			err:     &processordomain.UpstreamError{Op: "issue_refund", StatusCode: 500, DebugID: "dbg-5"},
			status:  http.StatusBadGateway,
			errType: "upstream_error",
			debugID: "dbg-5",
		},
		{
			name:    "unavailable",
			err:     reconciledomain.ErrReconciliationUnavailable,
			status:  http.StatusServiceUnavailable,
			errType: "reconciliation_unavailable",
		},
		{
			name:    "invalid amount",
			err:     fmt.Errorf("%w: %q", refunddomain.ErrInvalidAmount, "1.234"),
			status:  http.StatusBadRequest,
			errType: "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.refunds.On("RequestRefund", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := f.do(http.MethodPost, "/api/admin/refunds", operatorKey, []byte(`{"captureId":"C1","amount":"9.00"}`))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			payload := decodeError(t, rec)
			assert.Equal(t, tt.errType, payload.Type)
			assert.Equal(t, tt.debugID, payload.DebugID)
		})
	}
}

func TestReconcileServesDegradedState(t *testing.T) {
	f := newFixture(t)
	f.engine.state = &reconciledomain.RefundState{
		CaptureID:     "C1",
		Gross:         decimal.RequireFromString("10.00"),
		Currency:      "USD",
		TotalRefunded: decimal.RequireFromString("4.00"),
		Remaining:     decimal.RequireFromString("6.00"),
		Status:        reconciledomain.StatusPartiallyRefunded,
		Degraded:      true,
	}
	f.engine.err = reconciledomain.ErrDegraded

	rec := f.do(http.MethodGet, "/api/admin/reconcile/C1", viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data refundStateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "6.00", body.Data.Remaining)
	assert.True(t, body.Data.Degraded)
	assert.True(t, body.Data.Actionable)
}

func TestListCaptureRefundsNotFoundIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("ListCaptureRefunds", mock.Anything, "C404").
		Return(nil, &processordomain.UpstreamError{Op: "list_refunds", StatusCode: 404, DebugID: "dbg-4"})

	rec := f.do(http.MethodGet, "/api/admin/captures/C404/refunds", viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Refunds []refundResponse `json:"refunds"`
		DebugID string           `json:"debugId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Refunds)
	assert.Equal(t, "dbg-4", body.DebugID)
}

func TestWebhookAcknowledgesUnverified(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)
	f.ingest.On("Ingest", mock.Anything, payload, mock.Anything).Return(&ingestdomain.Result{
		Accepted: true,
		Outcome:  ingestdomain.OutcomeNotVerified,
		EventID:  "WH-1",
	}, nil)

	rec := f.do(http.MethodPost, "/api/webhooks/paypal", "", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	var result ingestdomain.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Accepted)
	assert.Equal(t, ingestdomain.OutcomeNotVerified, result.Outcome)
}

func TestWebhookUnconfiguredVerificationFails(t *testing.T) {
	f := newFixture(t)
	f.ingest.On("Ingest", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, processordomain.ErrVerificationUnconfigured)

	rec := f.do(http.MethodPost, "/api/webhooks/paypal", "", []byte(`{}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Type)
}

func TestSnapshotReadMissingIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.ingest.On("GetRefundSnapshot", mock.Anything, "C1").Return(nil, nil)

	rec := f.do(http.MethodGet, "/api/admin/webhooks/refunds/C1", viewerKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOrderAcceptsEmptyBody(t *testing.T) {
	f := newFixture(t)
	f.checkout.On("CreateOrder", mock.Anything, checkoutdomain.CreateOrderRequest{}).
		Return(&processordomain.Order{ID: "O1", Status: "CREATED", DebugID: "dbg-o"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", http.NoBody)
	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		OrderID string `json:"orderID"`
		DebugID string `json:"debugId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "O1", body.OrderID)
	assert.Equal(t, "dbg-o", body.DebugID)
}

func TestCreateOrderRejectsBadAmount(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/orders", "", []byte(`{"amount":"10.999","currency":"USD"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.NotEmpty(t, payload.Errors)
	assert.Equal(t, "amount", payload.Errors[0].Field)
	assert.Equal(t, "invalid_amount", payload.Errors[0].Code)
	f.checkout.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestPatchOrderRequiresAmounts(t *testing.T) {
	f := newFixture(t)
	f.checkout.On("PatchOrder", mock.Anything, mock.Anything).Return(nil, checkoutdomain.ErrMissingAmounts)

	rec := f.do(http.MethodPatch, "/api/orders/O1", "", []byte(`{"itemTotal":"10.00"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.NotEmpty(t, payload.Errors)
	assert.Equal(t, "missing_amounts", payload.Errors[0].Code)
}

func TestUnknownRouteIsJSONNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

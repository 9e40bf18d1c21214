// Package processortest provides a testify mock of the processor gateway.
package processortest

import (
	"context"
	"net/http"

	"github.com/smallbiznis/paydesk/internal/processor/domain"
	"github.com/stretchr/testify/mock"
)

type Gateway struct {
	mock.Mock
}

var _ domain.Gateway = (*Gateway)(nil)

func (m *Gateway) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	args := m.Called(ctx, req)
	return orNil[domain.Order](args.Get(0)), args.Error(1)
}

func (m *Gateway) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	return orNil[domain.Order](args.Get(0)), args.Error(1)
}

func (m *Gateway) PatchOrderAmount(ctx context.Context, req domain.PatchOrderRequest) (*domain.PatchResult, error) {
	args := m.Called(ctx, req)
	return orNil[domain.PatchResult](args.Get(0)), args.Error(1)
}

func (m *Gateway) CaptureOrder(ctx context.Context, orderID string) (*domain.CaptureResult, error) {
	args := m.Called(ctx, orderID)
	return orNil[domain.CaptureResult](args.Get(0)), args.Error(1)
}

func (m *Gateway) GetCapture(ctx context.Context, captureID string) (*domain.Capture, error) {
	args := m.Called(ctx, captureID)
	return orNil[domain.Capture](args.Get(0)), args.Error(1)
}

func (m *Gateway) ListCaptureRefunds(ctx context.Context, captureID string) (*domain.CaptureRefunds, error) {
	args := m.Called(ctx, captureID)
	return orNil[domain.CaptureRefunds](args.Get(0)), args.Error(1)
}

func (m *Gateway) IssueRefund(ctx context.Context, req domain.IssueRefundRequest) (*domain.RefundRecord, error) {
	args := m.Called(ctx, req)
	return orNil[domain.RefundRecord](args.Get(0)), args.Error(1)
}

func (m *Gateway) GetRefund(ctx context.Context, refundID string) (*domain.RefundRecord, error) {
	args := m.Called(ctx, refundID)
	return orNil[domain.RefundRecord](args.Get(0)), args.Error(1)
}

func (m *Gateway) ListTransactions(ctx context.Context, query domain.TransactionQuery) (*domain.TransactionPage, error) {
	args := m.Called(ctx, query)
	return orNil[domain.TransactionPage](args.Get(0)), args.Error(1)
}

func (m *Gateway) VerifyEventSignature(ctx context.Context, headers http.Header, rawBody []byte) (bool, error) {
	args := m.Called(ctx, headers, rawBody)
	return args.Bool(0), args.Error(1)
}

func orNil[T any](v any) *T {
	if v == nil {
		return nil
	}
	return v.(*T)
}

package domain

import (
	"context"
	"net/http"
)

// Gateway is the typed contract of the payment processor. Implementations
// own token handling and bound every call with a timeout.
type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	PatchOrderAmount(ctx context.Context, req PatchOrderRequest) (*PatchResult, error)
	CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error)

	GetCapture(ctx context.Context, captureID string) (*Capture, error)
	ListCaptureRefunds(ctx context.Context, captureID string) (*CaptureRefunds, error)
	IssueRefund(ctx context.Context, req IssueRefundRequest) (*RefundRecord, error)
	GetRefund(ctx context.Context, refundID string) (*RefundRecord, error)

	ListTransactions(ctx context.Context, query TransactionQuery) (*TransactionPage, error)

	// VerifyEventSignature reports whether a notification was signed by the
	// processor for the configured webhook.
	VerifyEventSignature(ctx context.Context, headers http.Header, rawBody []byte) (bool, error)
}

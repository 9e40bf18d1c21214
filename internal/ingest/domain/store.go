package domain

import (
	"context"
	"time"
)

// SnapshotStore keeps the capture and refund slots keyed by capture id.
// Writes replace the previous entry; entries expire after the store TTL.
// Get methods return nil when no live entry exists.
type SnapshotStore interface {
	PutCapture(ctx context.Context, snapshot CaptureSnapshot) error
	GetCapture(ctx context.Context, captureID string) (*CaptureSnapshot, error)
	ListCaptures(ctx context.Context) ([]CaptureSnapshot, error)

	PutRefund(ctx context.Context, snapshot RefundSnapshot) error
	GetRefund(ctx context.Context, captureID string) (*RefundSnapshot, error)
	ListRefunds(ctx context.Context) ([]RefundSnapshot, error)

	// Sweep evicts entries that expired before now and reports how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

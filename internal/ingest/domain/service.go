package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Ingest(ctx context.Context, rawBody []byte, headers http.Header) (*Result, error)

	GetCaptureSnapshot(ctx context.Context, captureID string) (*CaptureSnapshot, error)
	GetRefundSnapshot(ctx context.Context, captureID string) (*RefundSnapshot, error)
	ListCaptureSnapshots(ctx context.Context) ([]CaptureSnapshot, error)
	ListRefundSnapshots(ctx context.Context) ([]RefundSnapshot, error)
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, eventID string) (*WebhookEvent, error)
	MarkOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string) error
}

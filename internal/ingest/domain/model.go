package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	EventCaptureCompleted         = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied            = "PAYMENT.CAPTURE.DENIED"
	EventCaptureRefunded          = "PAYMENT.CAPTURE.REFUNDED"
	EventCapturePartiallyRefunded = "PAYMENT.CAPTURE.PARTIALLY_REFUNDED"
)

// Ingest outcomes, also stored on the event log.
const (
	OutcomeReceived       = "received"
	OutcomeInvalidJSON    = "invalid_json"
	OutcomeMissingHeaders = "missing_headers"
	OutcomeNotVerified    = "not_verified"
	OutcomeDuplicate      = "duplicate"
	OutcomeCaptureStored  = "capture_stored"
	OutcomeRefundStored   = "refund_stored"
	OutcomeRefundDegraded = "refund_degraded"
	OutcomeIgnored        = "ignored"
)

// CaptureSnapshot is the latest capture notification seen for a capture.
type CaptureSnapshot struct {
	CaptureID string          `json:"captureId"`
	OrderID   string          `json:"orderID,omitempty"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	EventID   string          `json:"eventId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// RefundSnapshot is the cumulative refund total recorded for a capture at the
// time of its latest refund notification.
type RefundSnapshot struct {
	CaptureID string          `json:"captureId"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	RefundID  string          `json:"refundId,omitempty"`
	EventID   string          `json:"eventId,omitempty"`
	Degraded  bool            `json:"degraded"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// WebhookEvent is one verified notification in the event log.
type WebhookEvent struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventID    string         `json:"event_id" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_event_id"`
	EventType  string         `json:"event_type" gorm:"type:text;not null"`
	CaptureID  string         `json:"capture_id" gorm:"type:text;not null;default:'';index:ix_webhook_events_capture_id"`
	Outcome    string         `json:"outcome" gorm:"type:text;not null"`
	Payload    datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt time.Time      `json:"received_at" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// Result describes what happened to one delivered notification.
type Result struct {
	Accepted            bool     `json:"ok"`
	Verified            bool     `json:"verified"`
	SkippedVerification bool     `json:"skippedVerification,omitempty"`
	Missing             []string `json:"missing,omitempty"`
	Outcome             string   `json:"outcome"`
	EventID             string   `json:"eventId,omitempty"`
	EventType           string   `json:"eventType,omitempty"`
	CaptureID           string   `json:"captureId,omitempty"`
}

package domain

import "errors"

var (
	ErrInvalidCaptureID = errors.New("invalid_capture_id")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrExceedsRemaining = errors.New("exceeds_remaining")
	ErrRefundInProgress = errors.New("refund_in_progress")
)

package domain

import "errors"

var (
	ErrInvalidCaptureID = errors.New("invalid_capture_id")
	// ErrDegraded accompanies a RefundState that was computed without one of
	// its upstream sources.
	ErrDegraded = errors.New("reconciliation_degraded")
	// ErrReconciliationUnavailable means no source could say what the
	// capture was worth.
	ErrReconciliationUnavailable = errors.New("reconciliation_unavailable")
)

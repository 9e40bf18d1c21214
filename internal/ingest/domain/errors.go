package domain

import "errors"

var (
	ErrInvalidCaptureID  = errors.New("invalid_capture_id")
	ErrUnknownStoreKind  = errors.New("unknown_snapshot_store")
	ErrStoreNotAvailable = errors.New("snapshot_store_not_available")
)

package domain

import "errors"

var (
	ErrInvalidOrderID = errors.New("invalid_order_id")
	ErrMissingAmounts = errors.New("missing_amounts")
)

package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound                 = errors.New("not_found")
	ErrAlreadyFullyRefunded     = errors.New("already_fully_refunded")
	ErrUpstreamTimeout          = errors.New("upstream_timeout")
	ErrUpstream                 = errors.New("upstream_error")
	ErrInvalidRequest           = errors.New("invalid_request")
	ErrSignatureHeadersMissing  = errors.New("signature_headers_missing")
	ErrVerificationUnconfigured = errors.New("verification_unconfigured")
)

// IssueCaptureFullyRefunded is the processor issue code returned when a
// refund targets a capture with nothing left to refund.
const IssueCaptureFullyRefunded = "CAPTURE_FULLY_REFUNDED"

// UpstreamError is a non-2xx answer from the processor.
type UpstreamError struct {
	Op         string
	StatusCode int
	DebugID    string
	Issue      string
	RawBody    []byte
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "processor %s: status %d", e.Op, e.StatusCode)
	if e.Issue != "" {
		fmt.Fprintf(&b, " issue %s", e.Issue)
	}
	if e.DebugID != "" {
		fmt.Fprintf(&b, " debug_id %s", e.DebugID)
	}
	return b.String()
}

// Unwrap classifies the failure so callers can match with errors.Is.
func (e *UpstreamError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case strings.EqualFold(e.Issue, IssueCaptureFullyRefunded):
		return ErrAlreadyFullyRefunded
	default:
		return ErrUpstream
	}
}

// DebugIDOf returns the processor debug id carried by err, if any.
func DebugIDOf(err error) string {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.DebugID
	}
	return ""
}

// StatusCodeOf returns the processor HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode
	}
	return 0
}

package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paydesk/internal/authorization"
	checkoutdomain "github.com/smallbiznis/paydesk/internal/checkout/domain"
	consoledomain "github.com/smallbiznis/paydesk/internal/console/domain"
	ingestdomain "github.com/smallbiznis/paydesk/internal/ingest/domain"
	"github.com/smallbiznis/paydesk/internal/money"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
	refunddomain "github.com/smallbiznis/paydesk/internal/refund/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	DebugID string            `json:"debug_id,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
	debugID := processordomain.DebugIDOf(err)

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var upstreamErr *processordomain.UpstreamError
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, processordomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
			DebugID: debugID,
		}
	case errors.Is(err, processordomain.ErrAlreadyFullyRefunded):
		return http.StatusConflict, errorPayload{
			Type:    "already_fully_refunded",
			Message: "capture is already fully refunded",
			DebugID: debugID,
		}
	case errors.Is(err, refunddomain.ErrRefundInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "refund_in_progress",
			Message: "another refund for this capture is in progress",
		}
	case errors.Is(err, refunddomain.ErrExceedsRemaining):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "exceeds_remaining",
			Message: "requested amount exceeds the refundable balance",
		}
	case errors.Is(err, reconciledomain.ErrReconciliationUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "reconciliation_unavailable",
			Message: "refund state could not be determined",
			DebugID: debugID,
		}
	case errors.Is(err, processordomain.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "upstream_timeout",
			Message: "payment processor timed out",
			DebugID: debugID,
		}
	case errors.As(err, &upstreamErr):
		status := http.StatusBadGateway
		if upstreamErr.StatusCode >= 400 && upstreamErr.StatusCode < 500 {
			status = upstreamErr.StatusCode
		}
		message := "payment processor error"
		if upstreamErr.Issue != "" {
			message = upstreamErr.Issue
		}
		return status, errorPayload{
			Type:    "upstream_error",
			Message: message,
			DebugID: debugID,
		}
	case errors.Is(err, processordomain.ErrUpstream):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: "payment processor error",
			DebugID: debugID,
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, processordomain.ErrInvalidRequest),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrInvalidCurrency),
		errors.Is(err, refunddomain.ErrInvalidCaptureID),
		errors.Is(err, refunddomain.ErrInvalidAmount),
		errors.Is(err, reconciledomain.ErrInvalidCaptureID),
		errors.Is(err, ingestdomain.ErrInvalidCaptureID),
		errors.Is(err, checkoutdomain.ErrInvalidOrderID),
		errors.Is(err, checkoutdomain.ErrMissingAmounts),
		errors.Is(err, consoledomain.ErrInvalidKind):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, processordomain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, refunddomain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, money.ErrInvalidCurrency):
		return "invalid_currency"
	case errors.Is(err, refunddomain.ErrInvalidCaptureID),
		errors.Is(err, reconciledomain.ErrInvalidCaptureID),
		errors.Is(err, ingestdomain.ErrInvalidCaptureID):
		return "invalid_capture_id"
	case errors.Is(err, checkoutdomain.ErrInvalidOrderID):
		return "invalid_order_id"
	case errors.Is(err, checkoutdomain.ErrMissingAmounts):
		return "missing_amounts"
	case errors.Is(err, consoledomain.ErrInvalidKind):
		return "invalid_kind"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "missing_amounts":
		return "itemTotal"
	case "invalid_capture_id":
		return "captureId"
	case "invalid_order_id":
		return "orderID"
	}
	return strings.TrimPrefix(code, "invalid_")
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_amount":
		return "amount must be a positive decimal with at most two fraction digits"
	case "missing_amounts":
		return "itemTotal and shippingValue are required"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog returns the error type and code written on the
// request log line.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError {
		return "server", code
	}
	return "client", code
}

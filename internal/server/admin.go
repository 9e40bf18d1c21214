package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	consoledomain "github.com/smallbiznis/paydesk/internal/console/domain"
	"github.com/smallbiznis/paydesk/internal/money"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
	refunddomain "github.com/smallbiznis/paydesk/internal/refund/domain"
	"go.uber.org/zap"
)

type issueRefundRequest struct {
	CaptureID string `json:"captureId" binding:"required"`
	// Amount accepts a JSON string or number. Absent refunds the remaining balance.
	Amount json.RawMessage `json:"amount"`
}

// amount returns the raw amount text. A JSON null is rejected so that a
// cleared form field is never read as a full refund.
func (r issueRefundRequest) amount() (*string, error) {
	raw := bytes.TrimSpace(r.Amount)
	if len(raw) == 0 {
		return nil, nil
	}
	if bytes.Equal(raw, []byte("null")) {
		return nil, newValidationError("amount", "invalid_amount", "amount must not be null")
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, newValidationError("amount", "invalid_amount", "amount must be a decimal string")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
		return &text, nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return nil, newValidationError("amount", "invalid_amount", "amount must be a decimal")
	}
	text := number.String()
	return &text, nil
}

func (s *Server) ListTransactions(c *gin.Context) {
	start, err := parseOptionalTime(c.Query("start"), false)
	if err != nil {
		AbortWithError(c, newValidationError("start", "invalid_start", "invalid start"))
		return
	}
	end, err := parseOptionalTime(c.Query("end"), true)
	if err != nil {
		AbortWithError(c, newValidationError("end", "invalid_end", "invalid end"))
		return
	}
	pageSize, err := limitParam(c.Query("pageSize"), "pageSize")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	query := processordomain.TransactionQuery{PageSize: pageSize, Page: 1}
	if start != nil {
		query.Start = *start
	}
	if end != nil {
		query.End = *end
	}

	page, err := s.gateway.ListTransactions(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	transactions := make([]transactionResponse, 0, len(page.Rows))
	for _, row := range page.Rows {
		transactions = append(transactions, toTransactionResponse(row))
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"count":        len(transactions),
		"transactions": transactions,
		"start":        formatTime(page.Start),
		"end":          formatTime(page.End),
		"totalPages":   page.TotalPages,
		"debugId":      page.DebugID,
	})
}

func (s *Server) GetCapture(c *gin.Context) {
	capture, err := s.gateway.GetCapture(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"debugId": capture.DebugID,
		"capture": toCaptureResponse(capture),
	})
}

// ListCaptureRefunds returns the itemized refunds of a capture. A capture the
// processor does not know yet lists no refunds.
func (s *Server) ListCaptureRefunds(c *gin.Context) {
	captureID := strings.TrimSpace(c.Param("id"))
	result, err := s.gateway.ListCaptureRefunds(c.Request.Context(), captureID)
	if errors.Is(err, processordomain.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"captureId": captureID,
			"refunds":   []refundResponse{},
			"debugId":   processordomain.DebugIDOf(err),
		})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	body := gin.H{
		"ok":        true,
		"captureId": captureID,
		"refunds":   toRefundResponses(result.Refunds),
		"total":     money.Format(result.Sum()),
		"debugId":   result.DebugID,
	}
	if result.Capture != nil {
		body["captureStatus"] = string(result.Capture.Status)
		body["captureAmount"] = money.Format(result.Capture.Gross)
		body["captureCurrency"] = result.Capture.Currency
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) GetRefund(c *gin.Context) {
	refundID := strings.TrimSpace(c.Param("id"))
	if refundID == "" {
		AbortWithError(c, newValidationError("refundId", "invalid_refund_id", "refund id is required"))
		return
	}
	refund, err := s.gateway.GetRefund(c.Request.Context(), refundID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"debugId": refund.DebugID,
		"refund":  toRefundResponse(*refund),
	})
}

// IssueRefund runs the refund gate for the authenticated operator.
func (s *Server) IssueRefund(c *gin.Context) {
	var req issueRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	amount, err := req.amount()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.refundSvc.RequestRefund(c.Request.Context(), refunddomain.Request{
		CaptureID: req.CaptureID,
		Amount:    amount,
		Actor:     actorName(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"debugId":  result.DebugID,
		"refundId": result.Refund.ID,
		"refund":   toRefundResponse(result.Refund),
		"state":    toRefundStateResponse(result.State),
	})
}

// ReconcileCapture returns the merged refund state. A degraded state is
// still returned with its flag set.
func (s *Server) ReconcileCapture(c *gin.Context) {
	state, err := s.engineSvc.Reconcile(c.Request.Context(), c.Param("id"), nil)
	if err != nil {
		if state == nil || !errors.Is(err, reconciledomain.ErrDegraded) {
			AbortWithError(c, err)
			return
		}
		s.log.Warn("serving degraded refund state",
			zap.String("capture_id", state.CaptureID),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"debugId": state.DebugID,
		"data":    toRefundStateResponse(state),
	})
}

func (s *Server) ListConsoleRows(c *gin.Context) {
	kind, err := consoledomain.ParseKind(c.Query("kind"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := limitParam(c.Query("limit"), "limit")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	filter := consoledomain.Filter{Kind: kind, Limit: limit}
	if start, err := parseOptionalTime(c.Query("start"), false); err != nil {
		AbortWithError(c, newValidationError("start", "invalid_start", "invalid start"))
		return
	} else if start != nil {
		filter.Start = *start
	}
	if end, err := parseOptionalTime(c.Query("end"), true); err != nil {
		AbortWithError(c, newValidationError("end", "invalid_end", "invalid end"))
		return
	} else if end != nil {
		filter.End = *end
	}

	rows, err := s.consoleSvc.ListRows(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"kind":  string(kind),
		"count": len(rows),
		"data":  toConsoleRows(rows),
	})
}

func (s *Server) ListPendingReconciliation(c *gin.Context) {
	items, err := s.consoleSvc.Pending(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"count": len(items),
		"data":  toPendingResponses(items),
	})
}

func (s *Server) ListRefundLedger(c *gin.Context) {
	entries, err := s.refundSvc.ListLedger(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"data": toLedgerResponses(entries),
	})
}

package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	ingestdomain "github.com/smallbiznis/paydesk/internal/ingest/domain"
	"go.uber.org/zap"
)

// maxWebhookBody bounds what is read before signature verification.
const maxWebhookBody = 1 << 20

// HandlePayPalWebhook hands the raw body to ingest before any JSON parsing so
// the signature is checked against the exact delivered bytes. Everything but
// a missing verification setup or a storage failure answers 200.
func (s *Server) HandlePayPalWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.log.Warn("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusOK, ingestdomain.Result{Accepted: true, Outcome: ingestdomain.OutcomeInvalidJSON})
		return
	}

	result, err := s.ingestSvc.Ingest(c.Request.Context(), rawBody, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ListCaptureSnapshots(c *gin.Context) {
	snapshots, err := s.ingestSvc.ListCaptureSnapshots(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if snapshots == nil {
		snapshots = []ingestdomain.CaptureSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(snapshots), "data": snapshots})
}

func (s *Server) GetCaptureSnapshot(c *gin.Context) {
	snapshot, err := s.ingestSvc.GetCaptureSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if snapshot == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": snapshot})
}

func (s *Server) ListRefundSnapshots(c *gin.Context) {
	snapshots, err := s.ingestSvc.ListRefundSnapshots(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if snapshots == nil {
		snapshots = []ingestdomain.RefundSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(snapshots), "data": snapshots})
}

func (s *Server) GetRefundSnapshot(c *gin.Context) {
	snapshot, err := s.ingestSvc.GetRefundSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if snapshot == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": snapshot})
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListLocalTransactions lists checkouts recorded by this service, newest first.
func (s *Server) ListLocalTransactions(c *gin.Context) {
	limit, err := limitParam(c.Query("limit"), "limit")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records, err := s.checkoutSvc.ListLocal(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"count":        len(records),
		"transactions": toCheckoutRecords(records),
	})
}

package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/paydesk/internal/checkout/domain"
	"github.com/smallbiznis/paydesk/internal/money"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
)

type createOrderRequest struct {
	Currency  string                     `json:"currency" binding:"omitempty,currency"`
	Amount    string                     `json:"amount" binding:"omitempty,money"`
	SKU       string                     `json:"sku" binding:"max=127"`
	Name      string                     `json:"name" binding:"max=127"`
	BuyerInfo *processordomain.BuyerInfo `json:"buyerInfo"`
}

type patchOrderRequest struct {
	Currency      string `json:"currency" binding:"omitempty,currency"`
	ItemTotal     string `json:"itemTotal"`
	ShippingValue string `json:"shippingValue"`
}

// CreateOrder starts a buyer checkout. An empty body selects the default
// product price.
func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, bindError(err))
		return
	}

	order, err := s.checkoutSvc.CreateOrder(c.Request.Context(), checkoutdomain.CreateOrderRequest{
		Currency: req.Currency,
		Amount:   req.Amount,
		SKU:      req.SKU,
		Name:     req.Name,
		Buyer:    req.BuyerInfo,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"orderID": order.ID,
		"status":  order.Status,
		"debugId": order.DebugID,
		"meta": gin.H{
			"sku":  req.SKU,
			"name": req.Name,
		},
	})
}

func (s *Server) GetOrder(c *gin.Context) {
	order, err := s.checkoutSvc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var address *processordomain.Address
	if order.Shipping != nil {
		address = order.Shipping.Address
	}
	c.JSON(http.StatusOK, gin.H{
		"debugId":  order.DebugID,
		"order":    gin.H{"id": order.ID, "status": order.Status},
		"shipping": order.Shipping,
		"address":  address,
	})
}

// PatchOrder sets the final amount once shipping has been priced.
func (s *Server) PatchOrder(c *gin.Context) {
	var req patchOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			AbortWithError(c, checkoutdomain.ErrMissingAmounts)
			return
		}
		AbortWithError(c, bindError(err))
		return
	}

	result, err := s.checkoutSvc.PatchOrder(c.Request.Context(), checkoutdomain.PatchOrderRequest{
		OrderID:       c.Param("id"),
		Currency:      req.Currency,
		ItemTotal:     req.ItemTotal,
		ShippingValue: req.ShippingValue,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"debugId": result.DebugID,
		"orderID": result.OrderID,
		"total":   money.Format(result.Total),
	})
}

func (s *Server) CaptureOrder(c *gin.Context) {
	result, err := s.checkoutSvc.CaptureOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"debugId":   result.DebugID,
		"orderID":   result.OrderID,
		"status":    result.Status,
		"captureId": result.CaptureID,
	})
}

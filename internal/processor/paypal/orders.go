package paypal

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paydesk/internal/money"
	"github.com/smallbiznis/paydesk/internal/processor/domain"
)

const (
	referenceID     = "default"
	defaultItemName = "Demo Item"
	amountPatchPath = "/purchase_units/@reference_id=='default'/amount"
)

type moneyBody struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type breakdownBody struct {
	ItemTotal *moneyBody `json:"item_total,omitempty"`
	Shipping  *moneyBody `json:"shipping,omitempty"`
}

type amountBody struct {
	CurrencyCode string         `json:"currency_code"`
	Value        string         `json:"value"`
	Breakdown    *breakdownBody `json:"breakdown,omitempty"`
}

type itemBody struct {
	Name       string    `json:"name"`
	SKU        string    `json:"sku,omitempty"`
	Quantity   string    `json:"quantity"`
	UnitAmount moneyBody `json:"unit_amount"`
}

type nameBody struct {
	FullName string `json:"full_name,omitempty"`
}

type shippingBody struct {
	Name    *nameBody       `json:"name,omitempty"`
	Address *domain.Address `json:"address,omitempty"`
}

type purchaseUnitBody struct {
	ReferenceID string        `json:"reference_id"`
	Amount      amountBody    `json:"amount"`
	Items       []itemBody    `json:"items,omitempty"`
	Shipping    *shippingBody `json:"shipping,omitempty"`
}

type payerBody struct {
	EmailAddress string `json:"email_address,omitempty"`
}

type createOrderBody struct {
	Intent        string             `json:"intent"`
	PurchaseUnits []purchaseUnitBody `json:"purchase_units"`
	Payer         *payerBody         `json:"payer,omitempty"`
}

type orderPayload struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Shipping    *struct {
			Name    *nameBody       `json:"name"`
			Address *domain.Address `json:"address"`
		} `json:"shipping"`
		Payments struct {
			Captures []capturePayload `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type patchOp struct {
	Op    string     `json:"op"`
	Path  string     `json:"path"`
	Value amountBody `json:"value"`
}

func newMoneyBody(currency string, value decimal.Decimal) moneyBody {
	return moneyBody{CurrencyCode: currency, Value: money.Format(value)}
}

// buildCreateOrder assembles the order body. Buyer info that does not carry
// a complete address only contributes the payer email.
func buildCreateOrder(req domain.CreateOrderRequest) createOrderBody {
	currency := money.CurrencyOr(req.Currency, "USD")
	value := newMoneyBody(currency, req.Amount)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultItemName
	}

	unit := purchaseUnitBody{
		ReferenceID: referenceID,
		Amount: amountBody{
			CurrencyCode: currency,
			Value:        value.Value,
			Breakdown:    &breakdownBody{ItemTotal: &value},
		},
		Items: []itemBody{{
			Name:       name,
			SKU:        strings.TrimSpace(req.SKU),
			Quantity:   "1",
			UnitAmount: value,
		}},
	}

	body := createOrderBody{Intent: "CAPTURE"}
	if buyer := req.Buyer; buyer != nil {
		address := buyer.Address.Normalized()
		if address.Complete() {
			shipping := &shippingBody{Address: &address}
			if fullName := strings.TrimSpace(buyer.FullName); fullName != "" {
				shipping.Name = &nameBody{FullName: fullName}
			}
			unit.Shipping = shipping
		}
		if email := strings.TrimSpace(buyer.Email); email != "" {
			body.Payer = &payerBody{EmailAddress: email}
		}
	}
	body.PurchaseUnits = []purchaseUnitBody{unit}
	return body
}

func (c *Client) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidRequest
	}

	var payload orderPayload
	resp, err := c.do(ctx, call{
		op:     "orders.create",
		method: http.MethodPost,
		target: "/v2/checkout/orders",
		body:   buildCreateOrder(req),
		headers: map[string]string{
			headerRequestID: c.newRequestID(),
		},
		out: &payload,
	})
	if err != nil {
		return nil, err
	}
	return toOrder(payload, resp), nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrInvalidRequest
	}

	var payload orderPayload
	resp, err := c.do(ctx, call{
		op:     "orders.get",
		method: http.MethodGet,
		target: "/v2/checkout/orders/" + url.PathEscape(orderID),
		out:    &payload,
	})
	if err != nil {
		return nil, err
	}
	return toOrder(payload, resp), nil
}

// PatchOrderAmount replaces the order amount with item total plus shipping.
func (c *Client) PatchOrderAmount(ctx context.Context, req domain.PatchOrderRequest) (*domain.PatchResult, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" || req.ItemTotal.IsNegative() || req.Shipping.IsNegative() {
		return nil, domain.ErrInvalidRequest
	}

	currency := money.CurrencyOr(req.Currency, "USD")
	itemTotal := newMoneyBody(currency, req.ItemTotal)
	shipping := newMoneyBody(currency, req.Shipping)
	total := req.ItemTotal.Round(2).Add(req.Shipping.Round(2))

	resp, err := c.do(ctx, call{
		op:     "orders.patch",
		method: http.MethodPatch,
		target: "/v2/checkout/orders/" + url.PathEscape(orderID),
		body: []patchOp{{
			Op:   "replace",
			Path: amountPatchPath,
			Value: amountBody{
				CurrencyCode: currency,
				Value:        money.Format(total),
				Breakdown:    &breakdownBody{ItemTotal: &itemTotal, Shipping: &shipping},
			},
		}},
	})
	if err != nil {
		return nil, err
	}
	return &domain.PatchResult{OrderID: orderID, Total: total, DebugID: resp.debugID}, nil
}

func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*domain.CaptureResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrInvalidRequest
	}

	var payload orderPayload
	resp, err := c.do(ctx, call{
		op:     "orders.capture",
		method: http.MethodPost,
		target: "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture",
		headers: map[string]string{
			headerRequestID: c.newRequestID(),
		},
		out: &payload,
	})
	if err != nil {
		return nil, err
	}

	result := &domain.CaptureResult{
		OrderID: payload.ID,
		Status:  payload.Status,
		DebugID: resp.debugID,
		Raw:     resp.body,
	}
	if result.OrderID == "" {
		result.OrderID = orderID
	}
	for _, unit := range payload.PurchaseUnits {
		if len(unit.Payments.Captures) == 0 {
			continue
		}
		first := unit.Payments.Captures[0]
		result.CaptureID = first.ID
		result.Gross, _ = money.Parse(first.Amount.Value)
		result.Currency = money.CurrencyOr(first.Amount.CurrencyCode, "")
		break
	}
	return result, nil
}

func toOrder(payload orderPayload, resp *response) *domain.Order {
	order := &domain.Order{
		ID:      payload.ID,
		Status:  payload.Status,
		DebugID: resp.debugID,
		Raw:     resp.body,
	}
	if len(payload.PurchaseUnits) > 0 && payload.PurchaseUnits[0].Shipping != nil {
		shipping := payload.PurchaseUnits[0].Shipping
		order.Shipping = &domain.Shipping{Address: shipping.Address}
		if shipping.Name != nil {
			order.Shipping.FullName = shipping.Name.FullName
		}
	}
	return order
}

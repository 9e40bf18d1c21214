package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/processor/domain"
	"go.uber.org/zap"
)

type fakePayPal struct {
	*httptest.Server
	mux        *http.ServeMux
	tokenCalls atomic.Int32

	mu      sync.Mutex
	body    []byte
	headers http.Header
}

func newFakePayPal(t *testing.T) *fakePayPal {
	t.Helper()
	f := &fakePayPal{mux: http.NewServeMux()}
	f.mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})
	})
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/oauth2/token" {
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.body = body
			f.headers = r.Header.Clone()
			f.mu.Unlock()
		}
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakePayPal) lastBody() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.body
}

func (f *fakePayPal) lastHeaders() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers
}

func (f *fakePayPal) client(opts ...Option) *Client {
	cfg := config.PayPalConfig{
		ClientID:        "client",
		Secret:          "secret",
		BaseURL:         f.URL,
		WebhookID:       "WH-1",
		UpstreamTimeout: time.Second,
	}
	return NewClient(cfg, zap.NewNop(), nil, opts...)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Paypal-Debug-Id", "dbg-test")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestTokenIsCachedUntilExpiry(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("/v2/checkout/orders/O1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "O1", "status": "CREATED"})
	})

	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client := f.client(WithClock(clk))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.GetOrder(ctx, "O1"); err != nil {
			t.Fatalf("get order: %v", err)
		}
	}
	if got := f.tokenCalls.Load(); got != 1 {
		t.Fatalf("expected 1 token call, got %d", got)
	}

	clk.Advance(3600*time.Second - 30*time.Second)
	if _, err := client.GetOrder(ctx, "O1"); err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got := f.tokenCalls.Load(); got != 2 {
		t.Fatalf("expected token refresh inside the safety margin, got %d calls", got)
	}
}

func TestCreateOrderForwardsCompleteAddressOnly(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": "ORDER-1", "status": "CREATED"})
	})
	client := f.client()

	order, err := client.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Currency: "usd",
		Amount:   decimal.RequireFromString("10"),
		SKU:      "SKU-1",
		Name:     "Mug",
		Buyer: &domain.BuyerInfo{
			FullName: "Ada Buyer",
			Email:    "ada@example.com",
			Address: domain.Address{
				Line1: "1 Main St", City: "San Jose", Region: "ca", PostalCode: "95131", CountryCode: "us",
			},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID != "ORDER-1" || order.DebugID != "dbg-test" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if f.lastHeaders().Get(headerRequestID) == "" {
		t.Fatalf("expected request id header")
	}

	var body createOrderBody
	if err := json.Unmarshal(f.lastBody(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	unit := body.PurchaseUnits[0]
	if body.Intent != "CAPTURE" || unit.ReferenceID != "default" {
		t.Fatalf("unexpected order body: %s", f.lastBody())
	}
	if unit.Amount.Value != "10.00" || unit.Amount.CurrencyCode != "USD" || unit.Amount.Breakdown.ItemTotal.Value != "10.00" {
		t.Fatalf("unexpected amount: %+v", unit.Amount)
	}
	if unit.Items[0].Name != "Mug" || unit.Items[0].SKU != "SKU-1" || unit.Items[0].Quantity != "1" {
		t.Fatalf("unexpected item: %+v", unit.Items[0])
	}
	if unit.Shipping == nil || unit.Shipping.Address.Region != "CA" || unit.Shipping.Address.CountryCode != "US" {
		t.Fatalf("expected normalized shipping address, got %+v", unit.Shipping)
	}
	if body.Payer == nil || body.Payer.EmailAddress != "ada@example.com" {
		t.Fatalf("expected payer email")
	}

	partial := buildCreateOrder(domain.CreateOrderRequest{
		Currency: "USD",
		Amount:   decimal.RequireFromString("10.00"),
		Buyer:    &domain.BuyerInfo{Address: domain.Address{Line1: "1 Main St"}},
	})
	if partial.PurchaseUnits[0].Shipping != nil || partial.Payer != nil {
		t.Fatalf("partial buyer info must be dropped: %+v", partial)
	}
	if partial.PurchaseUnits[0].Items[0].Name != defaultItemName {
		t.Fatalf("expected default item name")
	}
}

func TestPatchOrderAmountReplacesBreakdown(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("/v2/checkout/orders/O1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Paypal-Debug-Id", "dbg-patch")
		w.WriteHeader(http.StatusNoContent)
	})
	client := f.client()

	result, err := client.PatchOrderAmount(context.Background(), domain.PatchOrderRequest{
		OrderID:   "O1",
		Currency:  "USD",
		ItemTotal: decimal.RequireFromString("10.00"),
		Shipping:  decimal.RequireFromString("4.99"),
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if result.Total.StringFixed(2) != "14.99" || result.DebugID != "dbg-patch" {
		t.Fatalf("unexpected result: %+v", result)
	}

	var ops []patchOp
	if err := json.Unmarshal(f.lastBody(), &ops); err != nil {
		t.Fatalf("decode patch: %v", err)
	}
	if len(ops) != 1 || ops[0].Op != "replace" || ops[0].Path != amountPatchPath {
		t.Fatalf("unexpected patch ops: %s", f.lastBody())
	}
	if ops[0].Value.Value != "14.99" || ops[0].Value.Breakdown.Shipping.Value != "4.99" {
		t.Fatalf("unexpected patch amount: %+v", ops[0].Value)
	}
}

func TestGetCaptureNotFound(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("/v2/payments/captures/MISSING", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"name": "RESOURCE_NOT_FOUND", "debug_id": "body-dbg"})
	})
	client := f.client()

	_, err := client.GetCapture(context.Background(), "MISSING")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if domain.DebugIDOf(err) != "dbg-test" {
		t.Fatalf("expected header debug id, got %q", domain.DebugIDOf(err))
	}

	refunds, err := client.ListCaptureRefunds(context.Background(), "MISSING")
	if err != nil {
		t.Fatalf("unknown capture should list empty: %v", err)
	}
	if refunds.Capture != nil || len(refunds.Refunds) != 0 {
		t.Fatalf("unexpected refunds: %+v", refunds)
	}
}

func TestListCaptureRefundsFollowsLink(t *testing.T) {
	f := newFakePayPal(t)
	var refundStatus atomic.Int32
	refundStatus.Store(http.StatusOK)

	f.mux.HandleFunc("/v2/payments/captures/C1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":          "C1",
			"status":      "PARTIALLY_REFUNDED",
			"amount":      map[string]string{"currency_code": "USD", "value": "50.00"},
			"create_time": "2026-01-02T10:00:00Z",
			"links": []map[string]string{
				{"rel": "self", "href": f.URL + "/v2/payments/captures/C1", "method": "GET"},
				{"rel": "refund", "href": f.URL + "/v2/payments/captures/C1/refund", "method": "POST"},
			},
			"supplementary_data": map[string]any{"related_ids": map[string]string{"order_id": "O1"}},
		})
	})
	f.mux.HandleFunc("/v2/payments/captures/C1/refund", func(w http.ResponseWriter, r *http.Request) {
		status := int(refundStatus.Load())
		if status != http.StatusOK {
			writeJSON(w, status, map[string]any{"name": "ERR"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"refunds": []map[string]any{
			{"id": "R1", "status": "COMPLETED", "amount": map[string]string{"currency_code": "USD", "value": "20.00"}},
		}})
	})
	client := f.client()
	ctx := context.Background()

	refunds, err := client.ListCaptureRefunds(ctx, "C1")
	if err != nil {
		t.Fatalf("list refunds: %v", err)
	}
	if refunds.Capture == nil || refunds.Capture.Status != domain.CaptureStatusPartiallyRefunded || refunds.Capture.OrderID != "O1" {
		t.Fatalf("unexpected capture: %+v", refunds.Capture)
	}
	if !refunds.Capture.Gross.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("unexpected gross: %s", refunds.Capture.Gross)
	}
	if len(refunds.Refunds) != 1 || refunds.Refunds[0].ID != "R1" || refunds.Refunds[0].CaptureID != "C1" {
		t.Fatalf("unexpected refunds: %+v", refunds.Refunds)
	}

	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity} {
		refundStatus.Store(int32(status))
		refunds, err := client.ListCaptureRefunds(ctx, "C1")
		if err != nil || len(refunds.Refunds) != 0 || refunds.Capture == nil {
			t.Fatalf("status %d should list empty, got %+v (%v)", status, refunds, err)
		}
	}

	refundStatus.Store(http.StatusInternalServerError)
	refunds, err = client.ListCaptureRefunds(ctx, "C1")
	if !errors.Is(err, domain.ErrUpstream) || domain.StatusCodeOf(err) != http.StatusInternalServerError {
		t.Fatalf("expected upstream 500, got %v", err)
	}
	if refunds == nil || refunds.Capture == nil {
		t.Fatalf("capture should survive a failed listing")
	}
}

func TestNormalizeRefundListShapes(t *testing.T) {
	item := `{"id":"R1","status":"COMPLETED","amount":{"currency_code":"USD","value":"-5.00"}}`
	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "refunds array", body: `{"refunds":[` + item + `]}`, want: 1},
		{name: "nested refunds", body: `{"refunds":{"refunds":[` + item + `,` + item + `]}}`, want: 2},
		{name: "nested items", body: `{"refunds":{"items":[` + item + `]}}`, want: 1},
		{name: "items", body: `{"items":[` + item + `]}`, want: 1},
		{name: "bare array", body: `[` + item + `]`, want: 1},
		{name: "unknown object", body: `{"id":"R1"}`, want: 0},
		{name: "empty", body: ``, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records, err := normalizeRefundList("C1", []byte(tc.body))
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if len(records) != tc.want {
				t.Fatalf("expected %d records, got %d", tc.want, len(records))
			}
			for _, record := range records {
				if record.Amount.StringFixed(2) != "5.00" || record.CaptureID != "C1" {
					t.Fatalf("unexpected record: %+v", record)
				}
			}
		})
	}

	if _, err := normalizeRefundList("C1", []byte(`"nope"`)); !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream for scalar payload, got %v", err)
	}
}

func TestIssueRefund(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("/v2/payments/captures/C1/refund", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":     "R9",
			"status": "COMPLETED",
			"amount": map[string]string{"currency_code": "USD", "value": "12.50"},
		})
	})
	f.mux.HandleFunc("/v2/payments/captures/C2/refund", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"name":    "UNPROCESSABLE_ENTITY",
			"details": []map[string]string{{"issue": "CAPTURE_FULLY_REFUNDED"}},
		})
	})
	client := f.client(WithRequestIDs(func() string { return "01TESTULID" }))
	ctx := context.Background()

	amount := decimal.RequireFromString("12.5")
	refund, err := client.IssueRefund(ctx, domain.IssueRefundRequest{CaptureID: "C1", Amount: &amount, Currency: "USD"})
	if err != nil {
		t.Fatalf("issue refund: %v", err)
	}
	if refund.ID != "R9" || refund.CaptureID != "C1" || refund.Amount.StringFixed(2) != "12.50" || refund.DebugID != "dbg-test" {
		t.Fatalf("unexpected refund: %+v", refund)
	}
	if f.lastHeaders().Get(headerRequestID) != "01TESTULID" {
		t.Fatalf("expected idempotency header, got %q", f.lastHeaders().Get(headerRequestID))
	}
	var body refundRequestBody
	if err := json.Unmarshal(f.lastBody(), &body); err != nil || body.Amount == nil || body.Amount.Value != "12.50" {
		t.Fatalf("unexpected refund body: %s", f.lastBody())
	}

	_, err = client.IssueRefund(ctx, domain.IssueRefundRequest{CaptureID: "C2", IdempotencyKey: "key-2"})
	if !errors.Is(err, domain.ErrAlreadyFullyRefunded) {
		t.Fatalf("expected ErrAlreadyFullyRefunded, got %v", err)
	}
	if string(f.lastBody()) != "{}" {
		t.Fatalf("full refund should not send an amount, got %s", f.lastBody())
	}
	if f.lastHeaders().Get(headerRequestID) != "key-2" {
		t.Fatalf("expected caller idempotency key")
	}
}

func TestGetRefundResolvesCaptureFromUpLink(t *testing.T) {
	f := newFakePayPal(t)
	f.mux.HandleFunc("/v2/payments/refunds/R1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     "R1",
			"status": "COMPLETED",
			"amount": map[string]string{"currency_code": "USD", "value": "7.00"},
			"links":  []map[string]string{{"rel": "up", "href": f.URL + "/v2/payments/captures/C7"}},
		})
	})
	client := f.client()

	refund, err := client.GetRefund(context.Background(), "R1")
	if err != nil {
		t.Fatalf("get refund: %v", err)
	}
	if refund.CaptureID != "C7" || refund.Amount.StringFixed(2) != "7.00" {
		t.Fatalf("unexpected refund: %+v", refund)
	}
}

func TestListTransactionsNormalizesRows(t *testing.T) {
	f := newFakePayPal(t)
	var query atomic.Value
	f.mux.HandleFunc("/v1/reporting/transactions", func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query())
		writeJSON(w, http.StatusOK, map[string]any{
			"transaction_details": []map[string]any{
				{
					"transaction_info": map[string]any{
						"transaction_id":              "C1",
						"paypal_reference_id":         "O1",
						"paypal_reference_id_type":    "ODR",
						"transaction_event_code":      "T0006",
						"transaction_initiation_date": "2026-01-02T10:00:00+0000",
						"transaction_status":          "S",
						"transaction_amount":          map[string]string{"currency_code": "USD", "value": "50.00"},
					},
					"payer_info": map[string]string{"email_address": "buyer@example.com"},
				},
				{
					"transaction_info": map[string]any{
						"transaction_id":              "R1",
						"paypal_reference_id":         "C1",
						"paypal_reference_id_type":    "TXN",
						"transaction_event_code":      "T1107",
						"transaction_initiation_date": "2026-01-03T10:00:00+0000",
						"transaction_status":          "S",
						"transaction_amount":          map[string]string{"currency_code": "USD", "value": "-20.00"},
					},
				},
			},
			"total_items": 2,
			"total_pages": 1,
		})
	})
	client := f.client()

	start := time.Date(2026, 1, 1, 0, 0, 0, 500, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	page, err := client.ListTransactions(context.Background(), domain.TransactionQuery{Start: start, End: end, PageSize: 9999})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}

	values := query.Load().(url.Values)
	if values["start_date"][0] != "2026-01-01T00:00:00Z" || values["end_date"][0] != "2026-01-31T00:00:00Z" {
		t.Fatalf("unexpected dates: %v", values)
	}
	if values["page_size"][0] != "500" || values["fields"][0] != "all" {
		t.Fatalf("unexpected paging: %v", values)
	}

	if len(page.Rows) != 2 || page.DebugID != "dbg-test" {
		t.Fatalf("unexpected page: %+v", page)
	}
	sale, refund := page.Rows[0], page.Rows[1]
	if sale.CaptureID() != "C1" || sale.OrderID() != "O1" || sale.PayerEmail != "buyer@example.com" {
		t.Fatalf("unexpected sale row: %+v", sale)
	}
	if !sale.CreatedAt.Equal(time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected sale time: %s", sale.CreatedAt)
	}
	if !refund.IsRefund() || refund.CaptureID() != "C1" || refund.Amount.StringFixed(2) != "-20.00" {
		t.Fatalf("unexpected refund row: %+v", refund)
	}

	if _, err := client.ListTransactions(context.Background(), domain.TransactionQuery{Start: end, End: start}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for inverted range, got %v", err)
	}
}

func TestClampPageSize(t *testing.T) {
	cases := map[int]int{0: 200, -5: 200, 1: 1, 200: 200, 500: 500, 501: 500}
	for in, want := range cases {
		if got := ClampPageSize(in); got != want {
			t.Fatalf("ClampPageSize(%d) = %d, want %d", in, got, want)
		}
	}
}

func signedHeaders() http.Header {
	headers := http.Header{}
	headers.Set("paypal-auth-algo", "SHA256withRSA")
	headers.Set("paypal-cert-url", "https://api.sandbox.paypal.com/cert")
	headers.Set("paypal-transmission-id", "tx-1")
	headers.Set("paypal-transmission-sig", "sig")
	headers.Set("paypal-transmission-time", "2026-01-01T00:00:00Z")
	return headers
}

func TestVerifyEventSignature(t *testing.T) {
	f := newFakePayPal(t)
	var verdict atomic.Value
	verdict.Store("SUCCESS")
	f.mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"verification_status": verdict.Load().(string)})
	})
	client := f.client()
	ctx := context.Background()
	raw := []byte(`{"id":"WH-EVT-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)

	ok, err := client.VerifyEventSignature(ctx, signedHeaders(), raw)
	if err != nil || !ok {
		t.Fatalf("expected verified, got %v (%v)", ok, err)
	}
	var sent verifySignatureBody
	if err := json.Unmarshal(f.lastBody(), &sent); err != nil {
		t.Fatalf("decode verify body: %v", err)
	}
	if sent.WebhookID != "WH-1" || sent.TransmissionID != "tx-1" || string(sent.WebhookEvent) != string(raw) {
		t.Fatalf("unexpected verify body: %s", f.lastBody())
	}

	verdict.Store("FAILURE")
	ok, err = client.VerifyEventSignature(ctx, signedHeaders(), raw)
	if err != nil || ok {
		t.Fatalf("expected unverified, got %v (%v)", ok, err)
	}

	if _, err := client.VerifyEventSignature(ctx, http.Header{}, raw); !errors.Is(err, domain.ErrSignatureHeadersMissing) {
		t.Fatalf("expected ErrSignatureHeadersMissing, got %v", err)
	}

	unconfigured := NewClient(config.PayPalConfig{ClientID: "client", Secret: "secret", BaseURL: f.URL}, zap.NewNop(), nil)
	if _, err := unconfigured.VerifyEventSignature(ctx, signedHeaders(), raw); !errors.Is(err, domain.ErrVerificationUnconfigured) {
		t.Fatalf("expected ErrVerificationUnconfigured, got %v", err)
	}
}

func TestUpstreamTimeout(t *testing.T) {
	f := newFakePayPal(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.mux.HandleFunc("/v2/payments/captures/SLOW", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	client := NewClient(config.PayPalConfig{
		ClientID:        "client",
		Secret:          "secret",
		BaseURL:         f.URL,
		UpstreamTimeout: 50 * time.Millisecond,
	}, zap.NewNop(), nil)

	_, err := client.GetCapture(context.Background(), "SLOW")
	if !errors.Is(err, domain.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
}

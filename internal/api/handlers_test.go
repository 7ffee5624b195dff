package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace-orders/internal/auth"
	"github.com/example/marketplace-orders/internal/command"
	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/product"
	"github.com/example/marketplace-orders/internal/infrastructure/metrics"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/inventory"
	"github.com/example/marketplace-orders/internal/notification"
	"github.com/example/marketplace-orders/internal/provider"
	"github.com/example/marketplace-orders/internal/reconcile"
	"github.com/example/marketplace-orders/internal/referral"
)

const (
	testJWTSecret     = "test-secret-key-at-least-32-chars-long"
	testWebhookSecret = "whsec_test"
)

type testServer struct {
	router http.Handler
	jwt    *auth.JWTService
	mem    *store.Memory
	sink   *notification.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	sink := &notification.Recorder{}
	m := metrics.New(prometheus.NewRegistry())

	providers := map[string]provider.PaymentProvider{
		"cardgate": provider.NewCardgate(testWebhookSecret, "sk_test", "https://api.test", nil),
	}
	reconciler := reconcile.NewReconciler(mem, mem, sink, nil, m)
	engine := referral.NewEngine(mem, sink, 5)
	guard := inventory.NewGuard(mem)
	cfg := command.Config{TaxRatePercent: 10, ShippingFee: 500, FreeShippingThreshold: 5000}
	cmdHandler := command.NewHandler(mem, mem, guard, sink, engine, nil, cfg, m)

	jwtService := auth.NewJWTService(testJWTSecret, 15*time.Minute)
	webhooks := NewWebhookHandlers(providers, reconciler, m)
	handlers := NewHandlers(cmdHandler, mem, webhooks)

	mem.SeedProduct(&product.Product{ID: "prod-1", SellerID: "seller-1", Price: 1000, Stock: 5, Active: true})

	return &testServer{
		router: NewRouter(handlers, jwtService, m),
		jwt:    jwtService,
		mem:    mem,
		sink:   sink,
	}
}

func (s *testServer) request(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		token, _, err := s.jwt.GenerateToken(userID, userID+"@example.com", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func checkoutBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{{"product_id": "prod-1", "quantity": 2}},
		"shipping_address": map[string]string{
			"name":   "Pat Doe",
			"street": "1 Main St",
			"city":   "Springfield",
		},
		"payment_method": "cardgate",
	}
}

func (s *testServer) placeOrder(t *testing.T, buyerID string) order.Order {
	t.Helper()
	rec := s.request(t, http.MethodPost, "/checkout", buyerID, "buyer", checkoutBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var o order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	return o
}

func TestCheckout(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodPost, "/checkout", "buyer-1", "buyer", checkoutBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var o order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, "buyer-1", o.BuyerID)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, int64(2700), o.Amounts.GrandTotal)
}

func TestCheckoutUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(t, http.MethodPost, "/checkout", "", "", checkoutBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutErrorStatuses(t *testing.T) {
	s := newTestServer(t)

	t.Run("empty cart", func(t *testing.T) {
		body := checkoutBody()
		body["items"] = []map[string]any{}
		rec := s.request(t, http.MethodPost, "/checkout", "buyer-1", "buyer", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown product", func(t *testing.T) {
		body := checkoutBody()
		body["items"] = []map[string]any{{"product_id": "nope", "quantity": 1}}
		rec := s.request(t, http.MethodPost, "/checkout", "buyer-1", "buyer", body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("insufficient stock", func(t *testing.T) {
		body := checkoutBody()
		body["items"] = []map[string]any{{"product_id": "prod-1", "quantity": 100}}
		rec := s.request(t, http.MethodPost, "/checkout", "buyer-1", "buyer", body)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestGetOrderAuthorization(t *testing.T) {
	s := newTestServer(t)
	o := s.placeOrder(t, "buyer-1")

	t.Run("buyer sees own order", func(t *testing.T) {
		rec := s.request(t, http.MethodGet, "/orders/"+o.ID, "buyer-1", "buyer", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("seller on the order sees it", func(t *testing.T) {
		rec := s.request(t, http.MethodGet, "/orders/"+o.ID, "seller-1", "seller", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("admin sees it", func(t *testing.T) {
		rec := s.request(t, http.MethodGet, "/orders/"+o.ID, "someone", "admin", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		rec := s.request(t, http.MethodGet, "/orders/"+o.ID, "buyer-2", "buyer", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing order", func(t *testing.T) {
		rec := s.request(t, http.MethodGet, "/orders/nope", "buyer-1", "buyer", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListOrders(t *testing.T) {
	s := newTestServer(t)
	s.placeOrder(t, "buyer-1")

	t.Run("buyer list", func(t *testing.T) {
		rec := s.request(t, http.MethodGet, "/orders", "buyer-1", "buyer", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var list []order.Order
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		assert.Len(t, list, 1)
	})

	t.Run("seller list", func(t *testing.T) {
		rec := s.request(t, http.MethodGet, "/orders?role=seller", "seller-1", "seller", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var list []order.Order
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		assert.Len(t, list, 1)
	})

	t.Run("other buyer sees nothing", func(t *testing.T) {
		rec := s.request(t, http.MethodGet, "/orders", "buyer-2", "buyer", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})
}

func TestAdvanceOrderRoles(t *testing.T) {
	s := newTestServer(t)
	o := s.placeOrder(t, "buyer-1")

	t.Run("buyer cannot advance", func(t *testing.T) {
		rec := s.request(t, http.MethodPost, "/orders/"+o.ID+"/advance", "buyer-1", "buyer", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("seller advances", func(t *testing.T) {
		rec := s.request(t, http.MethodPost, "/orders/"+o.ID+"/advance", "seller-1", "seller", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got order.Order
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, order.StatusProcessing, got.Status)
	})
}

func TestCancelOrder(t *testing.T) {
	s := newTestServer(t)
	o := s.placeOrder(t, "buyer-1")

	t.Run("seller on the order cannot cancel", func(t *testing.T) {
		rec := s.request(t, http.MethodPost, "/orders/"+o.ID+"/cancel", "seller-1", "seller", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		rec := s.request(t, http.MethodPost, "/orders/"+o.ID+"/cancel", "buyer-2", "buyer", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("buyer cancels", func(t *testing.T) {
		rec := s.request(t, http.MethodPost, "/orders/"+o.ID+"/cancel", "buyer-1", "buyer",
			map[string]string{"reason": "changed my mind"})
		require.Equal(t, http.StatusOK, rec.Code)

		var got order.Order
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, order.StatusCancelled, got.Status)
	})

	t.Run("cancelling twice conflicts", func(t *testing.T) {
		rec := s.request(t, http.MethodPost, "/orders/"+o.ID+"/cancel", "buyer-1", "buyer", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("admin cancels", func(t *testing.T) {
		other := s.placeOrder(t, "buyer-3")
		rec := s.request(t, http.MethodPost, "/orders/"+other.ID+"/cancel", "ops-1", "admin", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing order", func(t *testing.T) {
		rec := s.request(t, http.MethodPost, "/orders/nope/cancel", "buyer-1", "buyer", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func signedWebhook(t *testing.T, orderID string) *http.Request {
	t.Helper()
	body := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "charge.succeeded",
		"created": 1700000000,
		"data": {"object": {"id": "ch_1", "order_id": %q, "amount": 2700, "currency": "usd"}}
	}`, orderID))

	ts := "1700000000"
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/cardgate", bytes.NewReader(body))
	req.Header.Set("X-Cardgate-Signature", fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return req
}

func TestWebhookCapture(t *testing.T) {
	s := newTestServer(t)
	o := s.placeOrder(t, "buyer-1")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, signedWebhook(t, o.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := s.request(t, http.MethodGet, "/orders/"+o.ID, "buyer-1", "buyer", nil)
	var updated order.Order
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &updated))
	assert.Equal(t, order.PaymentPaid, updated.PaymentStatus)
	assert.Equal(t, order.StatusProcessing, updated.Status)
}

func TestWebhookInvalidSignature(t *testing.T) {
	s := newTestServer(t)
	o := s.placeOrder(t, "buyer-1")

	req := signedWebhook(t, o.ID)
	req.Header.Set("X-Cardgate-Signature", "t=1700000000,v1=deadbeef")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Untouched order
	got := s.request(t, http.MethodGet, "/orders/"+o.ID, "buyer-1", "buyer", nil)
	var unchanged order.Order
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &unchanged))
	assert.Equal(t, order.PaymentPending, unchanged.PaymentStatus)
}

func TestWebhookUnknownProvider(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whoknows", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookUnknownEventTypeAcknowledged(t *testing.T) {
	s := newTestServer(t)

	body := []byte(`{"id": "evt_9", "type": "customer.created"}`)
	ts := "1700000000"
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/cardgate", bytes.NewReader(body))
	req.Header.Set("X-Cardgate-Signature", fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}

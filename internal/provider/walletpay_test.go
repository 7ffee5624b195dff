package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walletpaySign(secret, id, ts string, body []byte) http.Header {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id + "|" + ts + "|"))
	mac.Write(body)

	h := http.Header{}
	h.Set("Wallet-Transmission-Id", id)
	h.Set("Wallet-Transmission-Time", ts)
	h.Set("Wallet-Transmission-Sig", hex.EncodeToString(mac.Sum(nil)))
	return h
}

func TestWalletpayVerifyWebhook(t *testing.T) {
	w := NewWalletpay("wh_secret", "client", "secret", "https://api.test", nil)
	body := []byte(`{"event_id":"WH-1"}`)

	t.Run("valid signature", func(t *testing.T) {
		h := walletpaySign("wh_secret", "tx-1", "2026-01-02T03:04:05Z", body)
		assert.NoError(t, w.VerifyWebhook(body, h))
	})

	t.Run("missing headers", func(t *testing.T) {
		assert.ErrorIs(t, w.VerifyWebhook(body, http.Header{}), ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		h := walletpaySign("other", "tx-1", "2026-01-02T03:04:05Z", body)
		assert.ErrorIs(t, w.VerifyWebhook(body, h), ErrInvalidSignature)
	})

	t.Run("replayed under different transmission id", func(t *testing.T) {
		h := walletpaySign("wh_secret", "tx-1", "2026-01-02T03:04:05Z", body)
		h.Set("Wallet-Transmission-Id", "tx-2")
		assert.ErrorIs(t, w.VerifyWebhook(body, h), ErrInvalidSignature)
	})
}

func TestWalletpayParseWebhook(t *testing.T) {
	w := NewWalletpay("wh_secret", "client", "secret", "https://api.test", nil)

	t.Run("checkout approved", func(t *testing.T) {
		body := []byte(`{
			"event_id": "WH-1",
			"event_type": "CHECKOUT.ORDER.APPROVED",
			"create_time": "2026-01-02T03:04:05Z",
			"resource": {"id": "WP-ORDER-9", "custom_id": "order-1"}
		}`)
		evt, err := w.ParseWebhook(body)
		require.NoError(t, err)
		assert.Equal(t, "WH-1", evt.ProviderEventID)
		assert.Equal(t, "walletpay", evt.Provider)
		assert.Equal(t, KindCheckoutApproved, evt.Kind)
		assert.Equal(t, "order-1", evt.OrderID)
		assert.Equal(t, "WP-ORDER-9", evt.ProviderOrderID)
		assert.Empty(t, evt.ChargeID)
	})

	t.Run("capture completed", func(t *testing.T) {
		body := []byte(`{
			"event_id": "WH-2",
			"event_type": "PAYMENT.CAPTURE.COMPLETED",
			"create_time": "2026-01-02T03:04:05Z",
			"resource": {
				"id": "CAP-7",
				"custom_id": "order-1",
				"amount": {"value_minor": 2750, "currency": "usd"}
			}
		}`)
		evt, err := w.ParseWebhook(body)
		require.NoError(t, err)
		assert.Equal(t, KindCaptureSucceeded, evt.Kind)
		assert.Equal(t, "CAP-7", evt.ChargeID)
		assert.Equal(t, int64(2750), evt.Amount)
		assert.Equal(t, "USD", evt.Currency)
		assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), evt.OccurredAt)
	})

	t.Run("capture denied carries reason", func(t *testing.T) {
		body := []byte(`{
			"event_id": "WH-3",
			"event_type": "PAYMENT.CAPTURE.DENIED",
			"resource": {
				"id": "CAP-7",
				"custom_id": "order-1",
				"status_details": {"reason": "INSUFFICIENT_FUNDS"}
			}
		}`)
		evt, err := w.ParseWebhook(body)
		require.NoError(t, err)
		assert.Equal(t, KindCaptureFailed, evt.Kind)
		assert.Equal(t, "INSUFFICIENT_FUNDS", evt.FailureReason)
	})

	t.Run("order voided", func(t *testing.T) {
		body := []byte(`{
			"event_id": "WH-4",
			"event_type": "CHECKOUT.ORDER.VOIDED",
			"resource": {"id": "WP-ORDER-9", "custom_id": "order-1"}
		}`)
		evt, err := w.ParseWebhook(body)
		require.NoError(t, err)
		assert.Equal(t, KindCaptureCancelled, evt.Kind)
		assert.Equal(t, "order-1", evt.OrderID)
	})

	t.Run("unknown event type", func(t *testing.T) {
		_, err := w.ParseWebhook([]byte(`{"event_id": "WH-5", "event_type": "BILLING.PLAN.CREATED"}`))
		assert.ErrorIs(t, err, ErrUnknownEventType)
	})
}

func TestWalletpayTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		doer := &fakeDoer{}
		w := NewWalletpay("wh_secret", "client", "secret", "https://api.test", doer)

		err := w.Transfer(ctx, TransferRequest{
			OrderID:            "order-1",
			SellerID:           "seller-1",
			DestinationAccount: "seller@example.com",
			Amount:             900,
			Currency:           "USD",
			CommissionWithheld: 100,
		})
		require.NoError(t, err)

		require.Len(t, doer.requests, 1)
		req := doer.requests[0]
		assert.Equal(t, "https://api.test/v1/payments/payouts", req.URL.String())
		user, pass, ok := req.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		assert.NotEmpty(t, req.Header.Get("Wallet-Request-Id"))

		var payload struct {
			Items []struct {
				Receiver string `json:"receiver"`
				Amount   struct {
					ValueMinor int64 `json:"value_minor"`
				} `json:"amount"`
			} `json:"items"`
		}
		require.NoError(t, json.Unmarshal(doer.bodies[0], &payload))
		require.Len(t, payload.Items, 1)
		assert.Equal(t, "seller@example.com", payload.Items[0].Receiver)
		assert.Equal(t, int64(900), payload.Items[0].Amount.ValueMinor)
	})

	t.Run("rejected status", func(t *testing.T) {
		doer := &fakeDoer{status: http.StatusUnprocessableEntity}
		w := NewWalletpay("wh_secret", "client", "secret", "https://api.test", doer)

		err := w.Transfer(ctx, TransferRequest{Amount: 900, Currency: "USD"})
		assert.Error(t, err)
	})
}

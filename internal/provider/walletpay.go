package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	walletpayTransmissionID  = "Wallet-Transmission-Id"
	walletpayTransmissionTS  = "Wallet-Transmission-Time"
	walletpayTransmissionSig = "Wallet-Transmission-Sig"
)

// Walletpay adapts the alternate wallet processor. Its webhooks sign
// "<transmission-id>|<transmission-time>|<body>" with a shared secret, and
// its capture events reference our order through a custom_id passthrough.
type Walletpay struct {
	webhookSecret []byte
	clientID      string
	clientSecret  string
	baseURL       string
	client        httpDoer
}

func NewWalletpay(webhookSecret, clientID, clientSecret, baseURL string, client httpDoer) *Walletpay {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Walletpay{
		webhookSecret: []byte(webhookSecret),
		clientID:      clientID,
		clientSecret:  clientSecret,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		client:        client,
	}
}

func (w *Walletpay) Name() string { return "walletpay" }

func (w *Walletpay) VerifyWebhook(body []byte, header http.Header) error {
	id := header.Get(walletpayTransmissionID)
	ts := header.Get(walletpayTransmissionTS)
	sig := header.Get(walletpayTransmissionSig)
	if id == "" || ts == "" || sig == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, w.webhookSecret)
	fmt.Fprintf(mac, "%s|%s|", id, ts)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// walletpayEvent is the webhook payload shape.
type walletpayEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	CreateTime time.Time `json:"create_time"`
	Resource   struct {
		ID     string `json:"id"` // capture id or provider order id
		Amount struct {
			ValueMinor int64  `json:"value_minor"`
			Currency   string `json:"currency"`
		} `json:"amount"`
		CustomID      string `json:"custom_id"` // our order id
		StatusDetails struct {
			Reason string `json:"reason"`
		} `json:"status_details"`
	} `json:"resource"`
}

func (w *Walletpay) ParseWebhook(body []byte) (PaymentEvent, error) {
	var raw walletpayEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return PaymentEvent{}, fmt.Errorf("walletpay: malformed payload: %w", err)
	}

	evt := PaymentEvent{
		ProviderEventID: raw.EventID,
		Provider:        w.Name(),
		OrderID:         raw.Resource.CustomID,
		Amount:          raw.Resource.Amount.ValueMinor,
		Currency:        strings.ToUpper(raw.Resource.Amount.Currency),
		OccurredAt:      raw.CreateTime,
		FailureReason:   raw.Resource.StatusDetails.Reason,
	}

	switch raw.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		evt.Kind = KindCheckoutApproved
		evt.ProviderOrderID = raw.Resource.ID
	case "PAYMENT.CAPTURE.COMPLETED":
		evt.Kind = KindCaptureSucceeded
		evt.ChargeID = raw.Resource.ID
	case "PAYMENT.CAPTURE.DENIED":
		evt.Kind = KindCaptureFailed
		evt.ChargeID = raw.Resource.ID
	case "PAYMENT.CAPTURE.REFUNDED":
		evt.Kind = KindCaptureRefunded
		evt.ChargeID = raw.Resource.ID
	case "PAYMENT.CAPTURE.PENDING":
		evt.Kind = KindCapturePending
		evt.ChargeID = raw.Resource.ID
	case "CHECKOUT.ORDER.VOIDED":
		evt.Kind = KindCaptureCancelled
	default:
		return PaymentEvent{}, fmt.Errorf("%w: %s", ErrUnknownEventType, raw.EventType)
	}

	return evt, nil
}

// Transfer requests a payout through the payouts API.
func (w *Walletpay) Transfer(ctx context.Context, req TransferRequest) error {
	payload, err := json.Marshal(map[string]any{
		"sender_batch_header": map[string]string{
			"sender_batch_id": fmt.Sprintf("%s-%s", req.OrderID, req.SellerID),
		},
		"items": []map[string]any{{
			"receiver": req.DestinationAccount,
			"amount": map[string]any{
				"value_minor": req.Amount,
				"currency":    req.Currency,
			},
			"note": fmt.Sprintf("order %s, commission withheld %d", req.OrderID, req.CommissionWithheld),
		}},
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/v1/payments/payouts", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.SetBasicAuth(w.clientID, w.clientSecret)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Wallet-Request-Id", uuid.New().String())

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("walletpay: payout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("walletpay: payout rejected with status %d", resp.StatusCode)
	}
	return nil
}

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

const cardgateSignatureHeader = "X-Cardgate-Signature"

// Cardgate adapts the credit-card processor. Webhooks carry an HMAC-SHA256
// signature over "<timestamp>.<body>" in the X-Cardgate-Signature header,
// formatted "t=<unix>,v1=<hex>".
type Cardgate struct {
	webhookSecret []byte
	apiKey        string
	baseURL       string
	client        httpDoer
}

func NewCardgate(webhookSecret, apiKey, baseURL string, client httpDoer) *Cardgate {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Cardgate{
		webhookSecret: []byte(webhookSecret),
		apiKey:        apiKey,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		client:        client,
	}
}

func (c *Cardgate) Name() string { return "cardgate" }

func (c *Cardgate) VerifyWebhook(body []byte, header http.Header) error {
	sig := header.Get(cardgateSignatureHeader)
	if sig == "" {
		return ErrInvalidSignature
	}

	var timestamp, v1 string
	for _, part := range strings.Split(sig, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			v1 = v
		}
	}
	if timestamp == "" || v1 == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, c.webhookSecret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return ErrInvalidSignature
	}
	return nil
}

// cardgateEvent is the webhook envelope the processor delivers.
type cardgateEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID             string `json:"id"` // charge id
			OrderID        string `json:"order_id"`
			Amount         int64  `json:"amount"`
			AmountRefunded int64  `json:"amount_refunded"`
			Currency       string `json:"currency"`
			FailureMessage string `json:"failure_message"`
		} `json:"object"`
	} `json:"data"`
}

func (c *Cardgate) ParseWebhook(body []byte) (PaymentEvent, error) {
	var raw cardgateEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return PaymentEvent{}, fmt.Errorf("cardgate: malformed payload: %w", err)
	}

	var kind EventKind
	switch raw.Type {
	case "charge.succeeded":
		kind = KindCaptureSucceeded
	case "charge.failed":
		kind = KindCaptureFailed
	case "charge.refunded":
		kind = KindCaptureRefunded
	case "charge.pending":
		kind = KindCapturePending
	case "charge.cancelled":
		kind = KindCaptureCancelled
	default:
		return PaymentEvent{}, fmt.Errorf("%w: %s", ErrUnknownEventType, raw.Type)
	}

	amount := raw.Data.Object.Amount
	if kind == KindCaptureRefunded && raw.Data.Object.AmountRefunded > 0 {
		amount = raw.Data.Object.AmountRefunded
	}

	return PaymentEvent{
		ProviderEventID: raw.ID,
		Provider:        c.Name(),
		Kind:            kind,
		OrderID:         raw.Data.Object.OrderID,
		ChargeID:        raw.Data.Object.ID,
		Amount:          amount,
		Currency:        strings.ToUpper(raw.Data.Object.Currency),
		OccurredAt:      time.Unix(raw.Created, 0).UTC(),
		FailureReason:   raw.Data.Object.FailureMessage,
	}, nil
}

// Transfer requests a payout to the seller's connected account.
func (c *Cardgate) Transfer(ctx context.Context, req TransferRequest) error {
	payload, err := json.Marshal(map[string]any{
		"amount":      req.Amount,
		"currency":    req.Currency,
		"destination": req.DestinationAccount,
		"metadata": map[string]string{
			"order_id":            req.OrderID,
			"seller_id":           req.SellerID,
			"commission_withheld": fmt.Sprintf("%d", req.CommissionWithheld),
		},
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cardgate: transfer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cardgate: transfer rejected with status %d", resp.StatusCode)
	}
	return nil
}

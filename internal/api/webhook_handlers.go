package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/example/marketplace-orders/internal/infrastructure/metrics"
	"github.com/example/marketplace-orders/internal/provider"
	"github.com/example/marketplace-orders/internal/reconcile"
)

const maxWebhookBody = 1 << 20 // 1MB

// WebhookHandlers receives provider callbacks. Signature verification
// happens first; nothing touches order state before it passes. Once a
// delivery is verified, the response is an acknowledgement of receipt —
// 200 even when the referenced order does not exist.
type WebhookHandlers struct {
	providers  map[string]provider.PaymentProvider
	reconciler *reconcile.Reconciler
	metrics    *metrics.Metrics
}

func NewWebhookHandlers(providers map[string]provider.PaymentProvider, reconciler *reconcile.Reconciler, m *metrics.Metrics) *WebhookHandlers {
	return &WebhookHandlers{
		providers:  providers,
		reconciler: reconciler,
		metrics:    m,
	}
}

// Handle processes POST /webhooks/{provider}
func (h *WebhookHandlers) Handle(w http.ResponseWriter, r *http.Request) {
	name := extractPathParam(r.URL.Path, "/webhooks/")
	prov, ok := h.providers[name]
	if !ok {
		respondError(w, "unknown provider", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if err := prov.VerifyWebhook(body, r.Header); err != nil {
		// Security-relevant: somebody posted an unsigned or forged event
		h.metrics.WebhooksRejected.WithLabelValues(name).Inc()
		log.Printf("[Webhook] Rejected delivery for %s from %s: %v", name, r.RemoteAddr, err)
		respondError(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	evt, err := prov.ParseWebhook(body)
	if err != nil {
		if errors.Is(err, provider.ErrUnknownEventType) {
			// Not an error to the provider: acknowledged and dropped
			log.Printf("[Webhook] Ignoring unrecognized %s event: %v", name, err)
			h.metrics.WebhooksDropped.WithLabelValues(name).Inc()
			respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.metrics.WebhooksRejected.WithLabelValues(name).Inc()
		respondError(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if err := h.reconciler.Apply(r.Context(), evt); err != nil {
		// Internal failure (store unavailable): signal the provider to redeliver
		log.Printf("[Webhook] Failed to apply %s event %s: %v", name, evt.ProviderEventID, err)
		respondError(w, "temporarily unavailable", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

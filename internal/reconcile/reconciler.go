// Package reconcile folds verified, normalized payment-provider events into
// order state. Events may arrive out of order or more than once; correctness
// comes from per-event dedupe plus monotonic, state-conditioned transitions
// on the aggregate.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/infrastructure/metrics"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/notification"
	"github.com/example/marketplace-orders/internal/provider"
)

// Settler triggers seller payouts once an order is both paid and delivered.
type Settler interface {
	Settle(ctx context.Context, o *order.Order) error
}

type Reconciler struct {
	orders    store.OrderStore
	processed store.ProcessedEventStore
	sink      notification.Sink
	settler   Settler
	metrics   *metrics.Metrics
}

func NewReconciler(
	orders store.OrderStore,
	processed store.ProcessedEventStore,
	sink notification.Sink,
	settler Settler,
	m *metrics.Metrics,
) *Reconciler {
	return &Reconciler{
		orders:    orders,
		processed: processed,
		sink:      sink,
		settler:   settler,
		metrics:   m,
	}
}

// Apply reconciles one provider event against its order. Applying the same
// provider event id twice is a no-op the second time. A missing order is
// treated as "not applicable" and dropped, never returned as an error, so
// the provider is not driven into a redelivery loop.
func (r *Reconciler) Apply(ctx context.Context, evt provider.PaymentEvent) error {
	r.metrics.WebhooksReceived.WithLabelValues(evt.Provider, string(evt.Kind)).Inc()

	first, err := r.processed.MarkProcessed(ctx, evt.Provider, evt.ProviderEventID)
	if err != nil {
		return fmt.Errorf("dedupe check failed: %w", err)
	}
	if !first {
		r.metrics.WebhooksDuplicate.WithLabelValues(evt.Provider).Inc()
		log.Printf("[Reconciler] Duplicate event %s from %s, skipping", evt.ProviderEventID, evt.Provider)
		return nil
	}

	o, err := r.locateOrder(ctx, evt)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			r.metrics.WebhooksDropped.WithLabelValues(evt.Provider).Inc()
			log.Printf("[Reconciler] No order for event %s (%s, order=%q charge=%q), dropping",
				evt.ProviderEventID, evt.Kind, evt.OrderID, evt.ChargeID)
			return nil
		}
		r.forget(ctx, evt)
		return err
	}

	effects, changed := r.transition(o, evt)
	if !changed {
		log.Printf("[Reconciler] Event %s (%s) is stale for order %s (%s/%s), no change",
			evt.ProviderEventID, evt.Kind, o.ID, o.Status, o.PaymentStatus)
		return nil
	}

	if err := r.orders.Update(ctx, o); err != nil {
		// Undo the dedupe mark so the provider's redelivery can retry
		r.forget(ctx, evt)
		return fmt.Errorf("failed to persist order %s: %w", o.ID, err)
	}

	log.Printf("[Reconciler] Applied %s to order %s: status=%s payment=%s",
		evt.Kind, o.ID, o.Status, o.PaymentStatus)

	r.dispatch(ctx, o, effects)
	return nil
}

// locateOrder resolves the event's order: by order id when present, else by
// the provider charge reference (refunds usually carry only the charge).
func (r *Reconciler) locateOrder(ctx context.Context, evt provider.PaymentEvent) (*order.Order, error) {
	if evt.OrderID != "" {
		o, err := r.orders.Get(ctx, evt.OrderID)
		if err == nil || !errors.Is(err, order.ErrOrderNotFound) {
			return o, err
		}
	}
	if evt.ChargeID != "" {
		return r.orders.GetByChargeID(ctx, evt.ChargeID)
	}
	return nil, order.ErrOrderNotFound
}

func (r *Reconciler) transition(o *order.Order, evt provider.PaymentEvent) ([]order.Effect, bool) {
	switch evt.Kind {
	case provider.KindCaptureSucceeded:
		return o.ApplyCaptureSucceeded(evt.Provider, evt.ChargeID, evt.Amount, evt.Currency, evt.OccurredAt)
	case provider.KindCaptureFailed:
		return o.ApplyCaptureFailed(evt.FailureReason)
	case provider.KindCaptureRefunded:
		return o.ApplyCaptureRefunded(evt.Amount, evt.OccurredAt)
	case provider.KindCheckoutApproved:
		return o.ApplyCheckoutApproved(evt.ProviderOrderID)
	case provider.KindCapturePending:
		return o.ApplyCapturePending()
	case provider.KindCaptureCancelled:
		return o.ApplyCaptureCancelled()
	default:
		log.Printf("[Reconciler] Unrecognized event kind %q from %s, dropping", evt.Kind, evt.Provider)
		r.metrics.WebhooksDropped.WithLabelValues(evt.Provider).Inc()
		return nil, false
	}
}

// dispatch fires the side effects returned by the transition. Effects are
// best-effort and isolated: one failure never blocks the others and never
// rolls back the persisted state change.
func (r *Reconciler) dispatch(ctx context.Context, o *order.Order, effects []order.Effect) {
	for _, e := range effects {
		switch e.Kind {
		case order.EffectNotifyBuyer, order.EffectNotifySeller:
			if err := r.sink.Notify(ctx, e.UserID, e.Subject, e.Message); err != nil {
				log.Printf("[Reconciler] Failed to notify %s for order %s: %v", e.UserID, o.ID, err)
			}
		case order.EffectSettle:
			if r.settler == nil {
				continue
			}
			if err := r.settler.Settle(ctx, o); err != nil {
				log.Printf("[Reconciler] Settlement for order %s failed: %v", o.ID, err)
			}
		}
	}
}

func (r *Reconciler) forget(ctx context.Context, evt provider.PaymentEvent) {
	if err := r.processed.Forget(ctx, evt.Provider, evt.ProviderEventID); err != nil {
		log.Printf("[Reconciler] Failed to clear dedupe mark for %s/%s: %v",
			evt.Provider, evt.ProviderEventID, err)
	}
}

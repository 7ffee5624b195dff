package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/example/marketplace-orders/internal/api/middleware"
	"github.com/example/marketplace-orders/internal/command"
	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/product"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
)

type Handlers struct {
	cmdHandler *command.Handler
	orders     store.OrderStore
	webhooks   *WebhookHandlers
}

func NewHandlers(cmdHandler *command.Handler, orders store.OrderStore, webhooks *WebhookHandlers) *Handlers {
	return &Handlers{
		cmdHandler: cmdHandler,
		orders:     orders,
		webhooks:   webhooks,
	}
}

// Checkout creates an order from the posted cart
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	buyerID := middleware.GetUserID(r.Context())
	if buyerID == "" {
		respondError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var cmd command.PlaceOrder
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd.BuyerID = buyerID

	o, err := h.cmdHandler.PlaceOrder(r.Context(), cmd)
	if err != nil {
		respondError(w, err.Error(), checkoutStatus(err))
		return
	}

	respondJSON(w, http.StatusCreated, o)
}

// checkoutStatus maps checkout failures to HTTP statuses. The message
// already names the offending product where applicable.
func checkoutStatus(err error) int {
	switch {
	case errors.Is(err, command.ErrEmptyCart),
		errors.Is(err, command.ErrIncompleteAddress),
		errors.Is(err, command.ErrMissingPaymentMethod),
		errors.Is(err, command.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, product.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, product.ErrProductInactive),
		errors.Is(err, product.ErrInsufficientStock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GetOrders lists the caller's orders. Sellers see orders containing their
// items via ?role=seller; admins see any buyer via ?buyer_id=.
func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var (
		orders []*order.Order
		err    error
	)
	switch {
	case r.URL.Query().Get("role") == "seller":
		orders, err = h.orders.ListBySeller(ctx, userID)
	case middleware.IsAdmin(ctx) && r.URL.Query().Get("buyer_id") != "":
		orders, err = h.orders.ListByBuyer(ctx, r.URL.Query().Get("buyer_id"))
	default:
		orders, err = h.orders.ListByBuyer(ctx, userID)
	}
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) getAuthorizedOrder(w http.ResponseWriter, r *http.Request, id string) *order.Order {
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			respondError(w, "order not found", http.StatusNotFound)
		} else {
			respondError(w, err.Error(), http.StatusInternalServerError)
		}
		return nil
	}

	userID := middleware.GetUserID(r.Context())
	if o.BuyerID == userID || middleware.IsAdmin(r.Context()) {
		return o
	}
	for _, item := range o.Items {
		if item.SellerID == userID {
			return o
		}
	}
	respondError(w, "forbidden", http.StatusForbidden)
	return nil
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/orders/")
	if o := h.getAuthorizedOrder(w, r, id); o != nil {
		respondJSON(w, http.StatusOK, o)
	}
}

// AdvanceOrder moves fulfillment forward; sellers and admins only
func (h *Handlers) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/orders/"), "/advance")

	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok || (claims.Role != "seller" && claims.Role != "admin") {
		respondError(w, "forbidden", http.StatusForbidden)
		return
	}

	o, err := h.cmdHandler.AdvanceOrder(r.Context(), command.AdvanceOrder{OrderID: id})
	if err != nil {
		respondError(w, err.Error(), fulfillmentStatus(err))
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// CancelOrder cancels an order; the buyer and admins only. Sellers on the
// order may read it but not cancel it out from under the other sellers.
func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/orders/"), "/cancel")

	existing, err := h.orders.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			respondError(w, "order not found", http.StatusNotFound)
		} else {
			respondError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	if existing.BuyerID != middleware.GetUserID(r.Context()) && !middleware.IsAdmin(r.Context()) {
		respondError(w, "forbidden", http.StatusForbidden)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	o, err := h.cmdHandler.CancelOrder(r.Context(), command.CancelOrder{OrderID: id, Reason: req.Reason})
	if err != nil {
		respondError(w, err.Error(), fulfillmentStatus(err))
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func fulfillmentStatus(err error) int {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrOrderCancelled),
		errors.Is(err, order.ErrOrderDelivered):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}

package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/example/marketplace-orders/internal/api/middleware"
	"github.com/example/marketplace-orders/internal/auth"
	"github.com/example/marketplace-orders/internal/infrastructure/metrics"
)

func NewRouter(handlers *Handlers, jwtService *auth.JWTService, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	authRequired := middleware.AuthMiddleware(jwtService)

	// Checkout
	mux.Handle("/checkout", authRequired(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handlers.Checkout(w, r)
		default:
			respondError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// Orders
	mux.Handle("/orders", authRequired(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetOrders(w, r)
		default:
			respondError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	mux.Handle("/orders/", authRequired(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/advance") && r.Method == http.MethodPost:
			handlers.AdvanceOrder(w, r)
		case strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
			handlers.CancelOrder(w, r)
		case r.Method == http.MethodGet:
			handlers.GetOrder(w, r)
		default:
			respondError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// Provider webhooks are authenticated by signature, not by JWT
	mux.HandleFunc("/webhooks/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handlers.webhooks.Handle(w, r)
		default:
			respondError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return withObservability(mux, m)
}

func withObservability(next http.Handler, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[API] %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
		m.RequestLatencyMS.WithLabelValues(routeLabel(r.URL.Path)).
			Observe(float64(time.Since(start).Milliseconds()))
	})
}

// routeLabel collapses paths with embedded ids to keep label cardinality low
func routeLabel(path string) string {
	switch {
	case path == "/checkout":
		return "checkout"
	case path == "/orders":
		return "orders"
	case strings.HasPrefix(path, "/orders/"):
		return "order"
	case strings.HasPrefix(path, "/webhooks/"):
		return "webhook_" + strings.TrimPrefix(path, "/webhooks/")
	default:
		return "other"
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/marketplace-orders/internal/api"
	"github.com/example/marketplace-orders/internal/auth"
	"github.com/example/marketplace-orders/internal/command"
	"github.com/example/marketplace-orders/internal/infrastructure/kafka"
	"github.com/example/marketplace-orders/internal/infrastructure/metrics"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/inventory"
	"github.com/example/marketplace-orders/internal/notification"
	"github.com/example/marketplace-orders/internal/provider"
	"github.com/example/marketplace-orders/internal/reconcile"
	"github.com/example/marketplace-orders/internal/referral"
	"github.com/example/marketplace-orders/internal/settlement"
)

type stores struct {
	orders    store.OrderStore
	products  store.ProductStore
	referrals store.ReferralStore
	sellers   store.SellerStore
	processed store.ProcessedEventStore
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Configuration from environment variables
	addr := getEnv("LISTEN_ADDR", ":8080")
	backend := getEnv("STORE_BACKEND", "memory")
	kafkaBrokersStr := getEnv("KAFKA_BROKERS", "")
	kafkaTopic := getEnv("KAFKA_NOTIFICATIONS_TOPIC", "marketplace-notifications")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("[API] JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("[API] JWT_SECRET must be at least 32 characters long")
	}

	cardgateSecret := os.Getenv("CARDGATE_WEBHOOK_SECRET")
	walletpaySecret := os.Getenv("WALLETPAY_WEBHOOK_SECRET")
	if cardgateSecret == "" || walletpaySecret == "" {
		log.Fatal("[API] CARDGATE_WEBHOOK_SECRET and WALLETPAY_WEBHOOK_SECRET are required")
	}

	cfg := command.Config{
		TaxRatePercent:        getEnvInt64("TAX_RATE_PERCENT", 10),
		ShippingFee:           getEnvInt64("SHIPPING_FEE", 500),
		FreeShippingThreshold: getEnvInt64("FREE_SHIPPING_THRESHOLD", 5000),
	}
	commissionRate := getEnvInt64("COMMISSION_RATE_PERCENT", 10)
	rewardRate := getEnvInt64("REFERRAL_REWARD_PERCENT", 5)

	log.Println("[API] ========================================")
	log.Println("[API] Marketplace Orders")
	log.Println("[API] ========================================")
	log.Printf("[API] Store backend: %s", backend)

	st := buildStores(ctx, backend)

	// Notification sink: Kafka when brokers are configured, logs otherwise
	var sink notification.Sink = notification.LogSink{}
	if kafkaBrokersStr != "" {
		brokers := strings.Split(kafkaBrokersStr, ",")
		producer := kafka.NewProducer(brokers, kafkaTopic)
		defer producer.Close()
		sink = notification.NewKafkaSink(producer)
		log.Printf("[API] Notifications: Kafka %v topic %s", brokers, kafkaTopic)
	} else {
		log.Println("[API] Notifications: log only (KAFKA_BROKERS not set)")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	providers := map[string]provider.PaymentProvider{
		"cardgate": provider.NewCardgate(
			cardgateSecret,
			os.Getenv("CARDGATE_API_KEY"),
			getEnv("CARDGATE_API_URL", "https://api.cardgate.example.com"),
			nil,
		),
		"walletpay": provider.NewWalletpay(
			walletpaySecret,
			os.Getenv("WALLETPAY_CLIENT_ID"),
			os.Getenv("WALLETPAY_CLIENT_SECRET"),
			getEnv("WALLETPAY_API_URL", "https://api.walletpay.example.com"),
			nil,
		),
	}

	settler := settlement.NewService(st.sellers, providers, sink, commissionRate, m)
	reconciler := reconcile.NewReconciler(st.orders, st.processed, sink, settler, m)
	referralEngine := referral.NewEngine(st.referrals, sink, rewardRate)
	guard := inventory.NewGuard(st.products)
	cmdHandler := command.NewHandler(st.orders, st.products, guard, sink, referralEngine, settler, cfg, m)

	jwtService := auth.NewJWTService(jwtSecret, 15*time.Minute)
	webhooks := api.NewWebhookHandlers(providers, reconciler, m)
	handlers := api.NewHandlers(cmdHandler, st.orders, webhooks)
	router := api.NewRouter(handlers, jwtService, m)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[API] Listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[API] Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[API] Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] Shutdown error: %v", err)
	}
}

func buildStores(ctx context.Context, backend string) stores {
	switch backend {
	case "memory":
		mem := store.NewMemory()
		return stores{orders: mem, products: mem, referrals: mem, sellers: mem, processed: mem}

	case "postgres":
		db, err := store.ConnectPostgres(requireEnv("DATABASE_URL"))
		if err != nil {
			log.Fatalf("[API] Failed to connect to PostgreSQL: %v", err)
		}
		pg := store.NewPostgres(db)
		if err := pg.Init(ctx); err != nil {
			log.Fatalf("[API] Failed to initialize schema: %v", err)
		}
		log.Println("[API] Connected to PostgreSQL")
		return stores{orders: pg, products: pg, referrals: pg, sellers: pg, processed: pg}

	case "dynamo":
		// Hot write paths on DynamoDB; referral and seller records stay in
		// PostgreSQL.
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Fatalf("[API] Failed to load AWS config: %v", err)
		}
		dyn := store.NewDynamo(
			dynamodb.NewFromConfig(awsCfg),
			getEnv("DYNAMO_ORDERS_TABLE", "marketplace-orders"),
			getEnv("DYNAMO_PRODUCTS_TABLE", "marketplace-products"),
			getEnv("DYNAMO_PROCESSED_TABLE", "marketplace-processed-events"),
		)
		db, err := store.ConnectPostgres(requireEnv("DATABASE_URL"))
		if err != nil {
			log.Fatalf("[API] Failed to connect to PostgreSQL: %v", err)
		}
		pg := store.NewPostgres(db)
		if err := pg.Init(ctx); err != nil {
			log.Fatalf("[API] Failed to initialize schema: %v", err)
		}
		log.Println("[API] Connected to DynamoDB and PostgreSQL")
		return stores{orders: dyn, products: dyn, referrals: pg, sellers: pg, processed: dyn}

	default:
		log.Fatalf("[API] Unknown STORE_BACKEND %q (expected memory, postgres or dynamo)", backend)
		return stores{}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("[API] Invalid value for %s: %v", key, err)
	}
	return n
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[API] %s environment variable is required", key)
	}
	return v
}

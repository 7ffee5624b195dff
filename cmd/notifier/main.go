package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/example/marketplace-orders/internal/email"
	"github.com/example/marketplace-orders/internal/infrastructure/kafka"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/notification"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kafkaBrokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	kafkaTopic := getEnv("KAFKA_NOTIFICATIONS_TOPIC", "marketplace-notifications")
	groupID := getEnv("KAFKA_GROUP_ID", "notifier")

	smtpHost := getEnv("SMTP_HOST", "localhost")
	smtpPort := getEnv("SMTP_PORT", "1025")
	smtpFrom := getEnv("SMTP_FROM", "noreply@marketplace.example.com")

	db, err := store.ConnectPostgres(requireEnv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("[Notifier] Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()
	directory := store.NewPostgres(db)

	emailSvc := email.NewService(smtpHost, smtpPort, smtpFrom)
	handler := notification.NewHandler(emailSvc, directory)

	consumer := kafka.NewConsumer(kafkaBrokers, kafkaTopic, groupID)
	defer consumer.Close()

	log.Printf("[Notifier] Consuming %s from %v", kafkaTopic, kafkaBrokers)

	go func() {
		if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && ctx.Err() == nil {
			log.Fatalf("[Notifier] Consumer error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[Notifier] Shutting down...")
	cancel()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[Notifier] %s environment variable is required", key)
	}
	return v
}

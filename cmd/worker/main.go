package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/flightdeck/backend/internal/config"
	"github.com/flightdeck/backend/internal/database"
	"github.com/flightdeck/backend/internal/events"
	"github.com/flightdeck/backend/internal/payments"
	"github.com/flightdeck/backend/internal/services"
)

// The payout worker drains the transfer outbox on a fixed interval. It is
// safe to run more than one instance: the status-guarded claim in the
// outbox service makes each entry process at most once per attempt.
func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("stripe.secret_key", "STRIPE_SECRET_KEY")
	viper.BindEnv("stripe.timeout", "STRIPE_TIMEOUT")
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")

	db, err := database.InitDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := viper.GetString("kafka.brokers"); brokers != "" {
		kp := events.NewKafkaPublisher(strings.Split(brokers, ","))
		defer kp.Close()
		publisher = kp
	}

	stripeClient := payments.NewStripeClient()
	outboxCfg := config.LoadOutboxConfig()
	reserveCfg := config.LoadReserveConfig()

	ledgerService := services.NewLedgerService(db, redisClient, publisher)
	alertService := services.NewAlertService(db)
	reserveService := services.NewReserveService(ledgerService, stripeClient, alertService, redisClient, reserveCfg)
	outboxService := services.NewOutboxService(db, stripeClient, publisher, outboxCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(outboxCfg.PollInterval)
	defer ticker.Stop()

	log.Printf("Payout worker started (poll interval %s, batch size %d)", outboxCfg.PollInterval, outboxCfg.BatchSize)

	for {
		runCycle(ctx, outboxService, reserveService, outboxCfg)

		select {
		case <-ctx.Done():
			log.Println("Payout worker stopping...")
			os.Exit(0)
		case <-ticker.C:
		}
	}
}

func runCycle(ctx context.Context, outbox *services.OutboxService, reserve *services.ReserveService, cfg *config.OutboxConfig) {
	// Entries stuck in processing mean a worker died mid-attempt.
	if _, err := outbox.RequeueStaleProcessing(ctx, 2*cfg.ProcessTimeout); err != nil {
		log.Printf("[WORKER] Failed to requeue stale entries: %v", err)
	}

	if reserve.TransfersBlocked(ctx) {
		log.Println("[WORKER] Platform reserve critical, skipping payout cycle")
		return
	}

	due, err := outbox.DuePending(ctx, cfg.BatchSize)
	if err != nil {
		log.Printf("[WORKER] Failed to fetch pending entries: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	log.Printf("[WORKER] Processing %d due entries", len(due))
	for _, entry := range due {
		if ctx.Err() != nil {
			return
		}
		if err := outbox.ProcessOutboxEntry(ctx, entry.ID); err != nil {
			log.Printf("[WORKER] Entry %s: %v", entry.ID, err)
		}
	}
}

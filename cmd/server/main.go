package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/flightdeck/backend/docs"
	"github.com/flightdeck/backend/internal/config"
	"github.com/flightdeck/backend/internal/database"
	"github.com/flightdeck/backend/internal/events"
	"github.com/flightdeck/backend/internal/handlers"
	mW "github.com/flightdeck/backend/internal/middleware"
	"github.com/flightdeck/backend/internal/payments"
	"github.com/flightdeck/backend/internal/services"
)

// @title Flight School Ledger API
// @version 1.0
// @description Double-entry ledger and instructor payout API for flight school operations
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.SetEnvPrefix("")

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
	viper.BindEnv("stripe.webhook_secret", "STRIPE_WEBHOOK_SECRET")
	viper.BindEnv("stripe.timeout", "STRIPE_TIMEOUT")
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Flight School Ledger API"
	docs.SwaggerInfo.Description = "Double-entry ledger and instructor payout API for flight school operations"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

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
		log.Printf("Kafka publisher enabled (%s)", brokers)
	}

	stripeClient := payments.NewStripeClient()

	reserveCfg := config.LoadReserveConfig()
	creditCfg := config.LoadCreditConfig()
	outboxCfg := config.LoadOutboxConfig()

	ledgerService := services.NewLedgerService(db, redisClient, publisher)
	alertService := services.NewAlertService(db)
	creditService := services.NewCreditLimitService(db, ledgerService, alertService, creditCfg)
	reserveService := services.NewReserveService(ledgerService, stripeClient, alertService, redisClient, reserveCfg)
	reconciliationService := services.NewReconciliationService(db, ledgerService, stripeClient, alertService)
	outboxService := services.NewOutboxService(db, stripeClient, publisher, outboxCfg)
	billingService := services.NewBillingService(db, ledgerService, outboxService, outboxCfg)
	adjustmentService := services.NewAdjustmentService(ledgerService, outboxService, outboxCfg)

	ledgerHandler := handlers.NewLedgerHandler(ledgerService)
	billingHandler := handlers.NewBillingHandler(billingService, adjustmentService, outboxService, creditService)
	monitoringHandler := handlers.NewMonitoringHandler(reserveService, alertService, reconciliationService)
	webhookHandler := handlers.NewWebhookHandler(outboxService, adjustmentService)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Webhooks are authenticated by signature, not bearer token
	r.Post("/webhooks/stripe", webhookHandler.HandleStripeWebhook)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/journals", ledgerHandler.PostJournal)
			r.Get("/journals/{id}", ledgerHandler.GetJournal)
			r.Get("/balances/platform", ledgerHandler.GetPlatformBalance)
			r.Get("/wallets/{id}/balance", ledgerHandler.GetWalletBalance)
			r.Get("/wallets/{id}/entries", ledgerHandler.GetWalletEntries)

			r.Post("/flights/{id}/billing", billingHandler.BillFlightCompletion)
			r.Post("/flights/{id}/adjust", billingHandler.AdjustFlightSession)
			r.Post("/transfers/enqueue", billingHandler.EnqueueTransfer)

			r.Post("/credit-limits/check", billingHandler.CheckCreditLimit)
			r.Get("/credit-limits/near", billingHandler.GetStudentsNearCreditLimit)
			r.Get("/credit-limits/{id}/escalation", billingHandler.GetEscalationEligibility)

			r.Get("/reserve", monitoringHandler.GetReserveStatus)
			r.Get("/alerts", monitoringHandler.GetAlerts)
			r.Post("/alerts/{id}/acknowledge", monitoringHandler.AcknowledgeAlert)
			r.Post("/reconciliations/run", monitoringHandler.RunReconciliation)
			r.Post("/reconciliations/wallets", monitoringHandler.ReconcileWallets)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/config"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/handlers"
	authMiddleware "github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/middleware"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	db, err := services.InitDB(cfg.DatabaseURL, !cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Optional Redis cache for earnings summaries
	var cache *services.RedisCache
	if cfg.RedisURL != "" {
		cache, err = services.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Printf("WARN: Redis unavailable, earnings will not be cached: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	// Optional Kafka publisher for payment events
	var events services.EventPublisher = services.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := services.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Printf("WARN: Kafka unavailable, payment events disabled: %v", err)
		} else {
			events = publisher
		}
	}
	defer events.Close()

	deps := handlers.Dependencies{
		IntaSendSecret:    cfg.IntaSend.WebhookSecret,
		MidtransServerKey: cfg.Midtrans.ServerKey,
	}

	// Firebase verifies tutor and admin tokens on the read APIs
	authClient, err := services.InitFirebase(ctx, cfg.FirebaseCredentialsPath)
	if err != nil {
		log.Printf("Warning: Firebase initialization failed: %v", err)
		log.Println("Read APIs will answer 503 until valid credentials are provided")
	} else {
		deps.Verifier = authClient
	}

	providers := []services.CheckoutProvider{services.NewIntaSendService(cfg.IntaSend, cfg.ProviderTimeout)}
	if cfg.MidtransEnabled() {
		providers = append(providers, services.NewMidtransService(cfg.Midtrans, cfg.ProviderTimeout))
	}

	store := services.NewPaymentStore(db)
	earnings := services.NewEarningsService(store, cache)

	deps.Checkout = services.NewCheckoutService(providers...)
	deps.Webhooks = services.NewWebhookProcessor(store, events, earnings)
	deps.Store = store
	deps.Earnings = earnings

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(authMiddleware.CORS(cfg.AllowedOrigins))

	handlers.RegisterRoutes(e, deps)

	go func() {
		log.Printf("Server starting on port %s (gateways: %v)", cfg.Port, deps.Checkout.Gateways())
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: Graceful shutdown failed: %v", err)
	}
}

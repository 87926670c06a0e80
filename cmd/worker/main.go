package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/config"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/services"
	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/tasks"
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

	db, err := services.InitDB(cfg.DatabaseURL, !cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down worker...")
		cancel()
	}()

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

	var cache *services.RedisCache
	if cfg.RedisURL != "" {
		if cache, err = services.NewRedisCache(cfg.RedisURL); err != nil {
			log.Printf("WARN: Redis unavailable: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	store := services.NewPaymentStore(db)
	processor := services.NewWebhookProcessor(store, events, services.NewEarningsService(store, cache))

	// Initialize Task Registry
	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, tasks.Dependencies{
		Store:                store,
		Enroller:             processor,
		ReconcileMaxAttempts: cfg.ReconcileMaxAttempts,
	})

	// a claim must outlive at least two ticks before another worker takes it
	lease := 2 * cfg.WorkerInterval
	if lease < tasks.DefaultClaimLease {
		lease = tasks.DefaultClaimLease
	}

	if err := tasks.ScheduleDefaults(ctx, db, cfg.ReconcileRule, lease); err != nil {
		log.Fatalf("Failed to schedule default tasks: %v", err)
	}

	runner := tasks.NewRunner(db, registry, lease)
	log.Printf("Worker started with tasks %v, polling every %s", registry.Names(), cfg.WorkerInterval)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	processScheduledTasks(ctx, runner)
	for {
		select {
		case <-ticker.C:
			processScheduledTasks(ctx, runner)
		case <-ctx.Done():
			return
		}
	}
}

func processScheduledTasks(ctx context.Context, runner *tasks.Runner) {
	log.Println("Checking for pending tasks...")
	if _, err := runner.ProcessDue(ctx); err != nil && ctx.Err() == nil {
		log.Printf("ERROR: %v", err)
	}
}

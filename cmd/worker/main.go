package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/storyraise/newsletter-service/internal/config"
	"github.com/storyraise/newsletter-service/internal/newsletter"
	"github.com/storyraise/newsletter-service/internal/worker"
)

// Standalone scheduler process. Polls for due scheduled campaigns and
// executes their delivery. Safe to run alongside the API server and other
// worker replicas; claiming is atomic.
func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("Database ping failed: %v", err)
	}

	store := newsletter.NewStore(db)

	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
	}

	transport := worker.NewSESTransport(cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
	personalizer := newsletter.NewPersonalizer(cfg.Unsubscribe.BaseURL, cfg.Unsubscribe.Secret)
	limiter := worker.NewRateLimiter(redisClient, cfg.Delivery.RatePerSecond)

	orchestrator := worker.NewOrchestrator(store, transport, personalizer, limiter, worker.OrchestratorConfig{
		FromName:      cfg.SES.FromName,
		FromEmail:     cfg.SES.FromEmail,
		Workers:       cfg.Delivery.Workers,
		SendTimeout:   cfg.Delivery.SendTimeout(),
		AppendRetries: cfg.Delivery.EventAppendRetries,
	})

	scheduler := worker.NewScheduler(store, orchestrator, redisClient,
		cfg.Scheduler.PollInterval(), cfg.Scheduler.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("Shutting down scheduler...")
		cancel()
	}()

	scheduler.Run(ctx)
	db.Close()
}

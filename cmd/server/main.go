package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/storyraise/newsletter-service/internal/api"
	"github.com/storyraise/newsletter-service/internal/config"
	"github.com/storyraise/newsletter-service/internal/newsletter"
	"github.com/storyraise/newsletter-service/internal/snapshot"
	"github.com/storyraise/newsletter-service/internal/worker"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	if err := checkPortAvailable(cfg.Server.GetHost(), cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("Database ping failed: %v", err)
	}

	if err := newsletter.EnsureSchema(context.Background(), db); err != nil {
		log.Fatalf("Schema bootstrap failed: %v", err)
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

	var transport worker.Transport = worker.NewSESTransport(
		cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)

	personalizer := newsletter.NewPersonalizer(cfg.Unsubscribe.BaseURL, cfg.Unsubscribe.Secret)
	limiter := worker.NewRateLimiter(redisClient, cfg.Delivery.RatePerSecond)

	orchestrator := worker.NewOrchestrator(store, transport, personalizer, limiter, worker.OrchestratorConfig{
		FromName:      cfg.SES.FromName,
		FromEmail:     cfg.SES.FromEmail,
		Workers:       cfg.Delivery.Workers,
		SendTimeout:   cfg.Delivery.SendTimeout(),
		AppendRetries: cfg.Delivery.EventAppendRetries,
	})

	archiver, err := buildArchiver(cfg.Snapshot)
	if err != nil {
		log.Fatalf("Failed to initialize snapshot archive: %v", err)
	}

	handlers := api.NewHandlers(store, orchestrator, personalizer, archiver)
	server := api.NewServer(cfg.Server, handlers)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	db.Close()
}

func buildArchiver(cfg config.SnapshotConfig) (snapshot.Archiver, error) {
	if cfg.Type == "s3" && cfg.S3Bucket != "" {
		return snapshot.NewS3Archiver(context.Background(), cfg.S3Bucket, cfg.S3Region)
	}
	return snapshot.NewLocalArchiver(cfg.LocalPath)
}

// checkPortAvailable verifies the target port is free before startup so a
// duplicate instance fails fast instead of half-starting.
func checkPortAvailable(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

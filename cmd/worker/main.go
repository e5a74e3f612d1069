package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"hostel/internal/config"
	"hostel/internal/fees"
	"hostel/internal/notify"
	"hostel/internal/queue"
	"hostel/internal/store"
)

// Worker consumes queue jobs: it runs the overdue-fee sweep and posts the
// result to the operations webhook.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var jobs queue.Queue
	if cfg.QueueBackend == "memory" {
		jobs = queue.NewInMemory(64)
	} else {
		jobs = queue.NewRedisQueue(redisClient.Client, "hostel:jobs")
	}

	ledger := fees.NewLedger(fees.NewRepository(db.Client))
	hooks := notify.New(cfg.WebhookURL, cfg.WebhookSkip)

	if !cfg.WebhookSkip {
		if err := hooks.Health(ctx); err != nil {
			log.Printf("WARNING: webhook not available: %v", err)
			log.Println("Worker will retry delivery as jobs arrive")
		} else {
			log.Println("Webhook connected")
		}
	}

	messages, err := jobs.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for jobs...")
	for msg := range messages {
		if msg.Type != queue.TypeFeeSweep {
			continue
		}

		moved, err := ledger.SweepOverdue(ctx)
		if err != nil {
			log.Printf("fee sweep failed: %v", err)
			continue
		}
		log.Printf("fee sweep done, %d fees moved to overdue", moved)

		if err := hooks.SweepCompleted(ctx, moved); err != nil {
			log.Printf("webhook notify failed: %v", err)
		}
	}

	log.Println("worker stopped")
}

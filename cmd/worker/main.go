package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"classattend/internal/config"
	"classattend/internal/notify"
	"classattend/internal/queue"
	"classattend/internal/store"
)

// Worker consumes redemption events off the queue and delivers them to the
// configured webhook so dashboards can refresh.
func main() {
	_ = godotenv.Load()
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

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classattend:events")
	}

	webhook := notify.New(cfg.WebhookURL)
	if !webhook.Enabled() {
		log.Println("NOTIFY_WEBHOOK_URL not set; events will be logged only")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != notify.EventRecorded {
			continue
		}

		var evt notify.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad event payload: %v", err)
			continue
		}

		log.Printf("attendance recorded: record=%s course=%s student=%s", evt.RecordID, evt.CourseID, evt.StudentID)

		if err := webhook.Deliver(ctx, evt); err != nil {
			log.Printf("webhook delivery failed for %s: %v", evt.RecordID, err)
		}
	}

	log.Println("worker stopped")
}

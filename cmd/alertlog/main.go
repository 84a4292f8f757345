package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/safewalk/internal/database"
	"github.com/smukkama/safewalk/internal/logger"
	"github.com/smukkama/safewalk/internal/queue"
	"github.com/smukkama/safewalk/pkg/config"
	"go.uber.org/zap"
)

const (
	consumerGroup = "safewalk-alertlog"
	batchSize     = 100
	flushInterval = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.MustNew(cfg.Log.Level, cfg.Log.Format, "safewalk-alertlog")
	defer log.Sync()

	log.Info("Starting alert log writer...")
	db, err := database.Connect(cfg.Database.ConnectionString(), log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, consumerGroup)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := queue.NewBatchWriter(consumer, db, batchSize, flushInterval, log)
	writer.Start(ctx)

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := consumer.Stats()
				log.Info("Consumer statistics",
					zap.Int64("messages", stats.Messages),
					zap.Int64("bytes", stats.Bytes),
					zap.Int64("errors", stats.Errors),
					zap.Int64("lag", stats.Lag))
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Alert log writer is running",
		zap.String("topic", cfg.Kafka.TopicAlerts),
		zap.String("group", consumerGroup),
		zap.Int("batch_size", batchSize),
		zap.Duration("flush_interval", flushInterval))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down gracefully...")
	writer.Stop()
	log.Info("Alert log writer stopped")
}

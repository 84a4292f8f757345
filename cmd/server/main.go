package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/smukkama/safewalk/internal/alert"
	"github.com/smukkama/safewalk/internal/api"
	"github.com/smukkama/safewalk/internal/connection"
	"github.com/smukkama/safewalk/internal/contacts"
	"github.com/smukkama/safewalk/internal/database"
	"github.com/smukkama/safewalk/internal/engine"
	"github.com/smukkama/safewalk/internal/ingest"
	"github.com/smukkama/safewalk/internal/logger"
	"github.com/smukkama/safewalk/internal/notification"
	"github.com/smukkama/safewalk/internal/queue"
	"github.com/smukkama/safewalk/internal/server"
	"github.com/smukkama/safewalk/internal/settings"
	"github.com/smukkama/safewalk/internal/store"
	"github.com/smukkama/safewalk/internal/timer"
	"github.com/smukkama/safewalk/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.MustNew(cfg.Log.Level, cfg.Log.Format, "safewalk-server")
	defer log.Sync()

	log.Info("Starting SafeWalk server...")

	kv, closeKV := openKV(cfg, log)
	defer closeKV()

	journal, closeJournal := openJournal(cfg, log)
	defer closeJournal()

	var history api.AlertHistory
	if cfg.Database.Enabled {
		db, err := database.Connect(cfg.Database.ConnectionString(), log)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		history = db
		log.Info("Connected to database for alert history")
	}

	sms := notification.NewSMSGateway(&cfg.SMTP, log)
	if !sms.Configured() {
		log.Warn("SMTP credentials not set, alert texts will only be logged")
	}
	dispatcher := alert.NewDispatcher(sms, journal, log)

	connManager := connection.NewManager(cfg.TCPServer.MaxConnections)

	timerManager := timer.NewManager(cfg.Safety.TimerWorkers, log)
	timerManager.Start()
	defer timerManager.Stop()

	contactStore := contacts.NewStore(kv, log)
	settingsStore := settings.NewStore(kv, log)

	// Commands go out over TCP first. MQTT is appended below when enabled,
	// before any device can reach an engine.
	actuators := engine.MultiActuator{connManager}

	registry := engine.NewRegistry(engine.Deps{
		KV:         kv,
		Contacts:   contactStore,
		Settings:   settingsStore,
		Dispatcher: dispatcher,
		Actuator:   &actuators,
		Timers:     timerManager,
		Safety:     cfg.Safety,
		Logger:     log,
	})
	defer registry.Close()

	router := ingest.NewRouter(registry, log)

	if cfg.MQTT.Enabled() {
		client, err := ingest.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		defer client.Disconnect()

		mqttIngest := ingest.NewMQTTIngest(client, router, cfg.MQTT.QoS, log)
		actuators = append(actuators, mqttIngest)
		if err := mqttIngest.Start(); err != nil {
			log.Fatal("Failed to start MQTT ingest", zap.Error(err))
		}
		log.Info("MQTT ingest started", zap.String("broker", cfg.MQTT.Broker), zap.String("topic", ingest.EventsTopic))
	}

	tcpServer := server.NewTCPServer(&cfg.TCPServer, connManager, timerManager, router, log)
	if err := tcpServer.Start(); err != nil {
		log.Fatal("Failed to start TCP server", zap.Error(err))
	}
	defer tcpServer.Stop()

	gin.SetMode(cfg.HTTP.Mode)
	handlers := api.NewHandlers(contactStore, settingsStore, registry, api.Options{
		History:     history,
		Connections: connManager,
	}, log)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           api.NewRouter(handlers, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := connManager.Stats()
				idle := connManager.GetInactiveConnections(cfg.TCPServer.InactivityTimeout / 2)
				log.Info("Server statistics",
					zap.Int("connections", stats.TotalConnections),
					zap.Int("idle_connections", len(idle)),
					zap.Int("max_connections", stats.MaxConnections),
					zap.Int("devices", stats.UniqueDevices),
					zap.Int("engines", registry.Len()),
					zap.Int("scheduled_timers", timerManager.Stats().ScheduledTasks))
			case <-gCtx.Done():
				return nil
			}
		}
	})

	log.Info("SafeWalk server is running",
		zap.Int("tcp_port", cfg.TCPServer.Port),
		zap.Int("http_port", cfg.HTTP.Port))

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
	}
}

// openKV returns the Redis store, or process memory when Redis is disabled.
func openKV(cfg *config.Config, log *zap.Logger) (store.KV, func()) {
	if cfg.Redis.Disabled {
		log.Warn("Redis disabled, device state will not survive a restart")
		return store.NewMemoryKV(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	log.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))

	return store.NewRedisKV(client, cfg.Redis.KeyPrefix), func() { client.Close() }
}

// openJournal returns the Kafka alert journal, or nil when Kafka is disabled.
func openJournal(cfg *config.Config, log *zap.Logger) (alert.Journal, func()) {
	if !cfg.Kafka.Enabled {
		log.Info("Kafka disabled, alert records will not be journaled")
		return nil, func() {}
	}

	if err := queue.EnsureTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, 3, 1); err != nil {
		log.Warn("Could not ensure alert topic", zap.String("topic", cfg.Kafka.TopicAlerts), zap.Error(err))
	}

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	log.Info("Kafka alert journal initialized", zap.String("topic", cfg.Kafka.TopicAlerts))
	return alert.NewKafkaJournal(producer), func() { producer.Close() }
}

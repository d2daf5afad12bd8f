package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"

	"recycle-bin-backend/config"
	"recycle-bin-backend/internal/activity"
	"recycle-bin-backend/internal/api"
	"recycle-bin-backend/internal/binlock"
	"recycle-bin-backend/internal/coordinator"
	"recycle-bin-backend/internal/db"
	"recycle-bin-backend/internal/device"
	"recycle-bin-backend/internal/events"
	"recycle-bin-backend/internal/heartbeat"
	"recycle-bin-backend/internal/lease"
	"recycle-bin-backend/internal/mailbox"
	"recycle-bin-backend/internal/monitor"
	"recycle-bin-backend/internal/mqtt"
	"recycle-bin-backend/internal/notification"
	"recycle-bin-backend/internal/settlement"
	"recycle-bin-backend/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "binrelay ", log.LstdFlags)

	if err := godotenv.Load(); err != nil {
		logger.Printf("no .env file loaded: %v", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB, cfg.Database.OpTimeout)
	if err := db.Seed(ctx, appStore, cfg.Seed); err != nil {
		logger.Fatalf("failed to seed database: %v", err)
	}

	// Event sinks run after commit and never block a request.
	var sinks events.Multi

	if cfg.MQTT.Enabled {
		mqttPublisher, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.TopicPrefix)
		if err != nil {
			logger.Fatalf("failed to connect to MQTT broker %s: %v", cfg.MQTT.Broker, err)
		}
		defer mqttPublisher.Close()
		sinks = append(sinks, mqttPublisher)
		logger.Printf("publishing events to MQTT broker %s", cfg.MQTT.Broker)
	}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled {
		if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
			logger.Fatalf("VAPID keys must be configured when push is enabled.")
		}
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, webpushOptions)
		pool.Start(ctx)
		sinks = append(sinks, pool)
	}

	locks := binlock.New()
	mb := mailbox.New(locks, appStore, time.Now)
	recorder := activity.NewRecorder(time.Now)
	tracker := heartbeat.NewTracker(appStore, cfg.Heartbeat.LivenessThreshold, cfg.Heartbeat.DefaultStatus, time.Now)

	svc := coordinator.NewService(coordinator.Deps{
		Store:      appStore,
		Verifier:   device.NewVerifier(appStore, cfg.Device.CredentialCacheTTL),
		Telemetry:  device.NewTelemetry(appStore, time.Now),
		Heartbeats: tracker,
		Mailbox:    mb,
		Leases: lease.NewManager(lease.Options{
			Store:      appStore,
			Locks:      locks,
			Mailbox:    mb,
			Recorder:   recorder,
			Publisher:  sinks,
			SessionTTL: cfg.Lease.SessionTTL,
			Now:        time.Now,
		}),
		Settlement: settlement.NewPipeline(appStore, recorder, sinks, cfg.Settlement.UnitWeightsKg, time.Now),
	})
	logger.Println("coordinator initialized")

	if cfg.Monitor.Enabled {
		monitorSvc := monitor.NewService(cfg.Monitor, appStore, tracker, sinks, time.Now)
		go monitorSvc.Run(ctx)
	}

	router := api.NewRouter(api.NewHandler(svc, appStore, webpushOptions), cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}

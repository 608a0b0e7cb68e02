package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fallguard/config"
	"fallguard/log"
	"fallguard/metrics"
	"fallguard/services"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	log.SetLevel(cfg.LogLevel)

	if cfg.NotificationEndpoint == "" {
		logger.Warn("NOTIFICATION_ENDPOINT is not set, remote notifications will fail")
	}
	if !cfg.SMSConfigured() {
		logger.Warn("SMS credentials are incomplete, SMS dispatch will fail")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// Persisted session
	var store services.KVStore = services.NoSession{}
	switch cfg.SessionBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis is not reachable, identity lookups will fail", zap.Error(err))
		}
		store = services.NewRedisKVStore(client, cfg.SessionKeyPrefix+cfg.DeviceID+":")
	case "firebase":
		fb, err := services.NewFirebaseKVStore(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Firebase session store", zap.Error(err))
		}
		store = fb
	}
	session := services.NewSession(store, cfg.LocationPermissionDefault, logger)

	// Sensor ingestion and geolocation
	ingestor := services.NewSensorIngestor(cfg.HistoryCapacity, m, logger)

	var mqttSource *services.MQTTSource
	tracker := services.NewFixTracker(cfg.LocationMaxAge, func(ctx context.Context) error {
		return mqttSource.RequestLocation(ctx)
	}, logger)
	mqttSource = services.NewMQTTSource(cfg, ingestor, tracker, logger)
	if err := mqttSource.Start(ctx); err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}

	var rabbitSource *services.RabbitMQSource
	if cfg.SensorSource == "amqp" {
		rabbitSource, err = services.NewRabbitMQSource(cfg, ingestor, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ source", zap.Error(err))
		}
		go func() {
			if err := rabbitSource.Consume(ctx); err != nil {
				logger.Error("RabbitMQ consumer stopped", zap.Error(err))
			}
		}()
	}

	// User-facing notices
	var alerter services.UserAlerter = services.NewLogAlerter(logger)
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegram, err := services.NewTelegramAlerter(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Warn("Telegram unavailable, user alerts go to the log", zap.Error(err))
		} else {
			alerter = telegram
			if err := telegram.SendStartupMessage(); err != nil {
				logger.Warn("Failed to send startup message", zap.Error(err))
			}
		}
	}

	escalator := services.NewEscalator(services.EscalatorConfig{
		PermissionTimeout: cfg.PermissionTimeout,
		LocationTimeout:   cfg.LocationTimeout,
		DispatchTimeout:   cfg.DispatchTimeout,
		FeedbackTimeout:   cfg.FeedbackTimeout,
	}, services.EscalatorDeps{
		Feedback:   services.NewMQTTFeedbackSink(mqttSource),
		Permission: session,
		Locator:    tracker,
		Notifier:   services.NewHTTPNotifier(logger, cfg.NotificationEndpoint, cfg.DispatchTimeout),
		SMS: services.NewSMSGateway(services.SMSConfig{
			GatewayURL:      cfg.SMSGatewayURL,
			AccountSID:      cfg.SMSAccountSID,
			AuthToken:       cfg.SMSAuthToken,
			FromNumber:      cfg.SMSFromNumber,
			RecipientNumber: cfg.SMSRecipientNumber,
			Template:        cfg.SMSTemplate,
			Timeout:         cfg.DispatchTimeout,
		}, logger),
		Identity: session,
		Alerter:  alerter,
		Metrics:  m,
	}, logger)

	detector := services.NewFallDetector(services.DetectorConfig{
		AccelThreshold: cfg.AccelThreshold,
		GyroThreshold:  cfg.GyroThreshold,
		TickInterval:   cfg.TickInterval(),
	}, ingestor, escalator, m, logger)

	monitor := services.NewStreamMonitor(ingestor, cfg.StreamTimeout, m, logger)

	var metricsServer *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr, m, func() map[string]any {
			active, inFlight := escalator.Active()
			health := map[string]any{
				"streams":           monitor.Snapshot(),
				"escalation_active": inFlight,
			}
			if inFlight {
				health["escalation_stage"] = active.Stage
			}
			return health
		}, logger)
		metricsServer.Start()
	}

	detectorDone := make(chan struct{})
	go func() {
		defer close(detectorDone)
		detector.Run(ctx)
	}()
	go monitor.Run(ctx)

	logger.Info("FallGuard monitoring started",
		zap.String("device_id", cfg.DeviceID),
		zap.String("sensor_source", cfg.SensorSource),
		zap.String("session_backend", cfg.SessionBackend),
		zap.Float64("accel_threshold", cfg.AccelThreshold),
		zap.Float64("gyro_threshold", cfg.GyroThreshold),
		zap.Int("tick_interval_ms", cfg.TickIntervalMs),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, stopping services")
	cancel()

	// No new escalation starts once the detector has stopped; an in-flight
	// one runs to its terminal stage
	done := make(chan struct{})
	go func() {
		<-detectorDone
		escalator.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("Cleanup completed successfully")
	case <-time.After(5 * time.Second):
		logger.Warn("Cleanup timeout, escalation still in flight")
	}

	if rabbitSource != nil {
		if err := rabbitSource.Close(); err != nil {
			logger.Error("Error closing RabbitMQ source", zap.Error(err))
		}
	}
	mqttSource.Close()

	if metricsServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error stopping metrics server", zap.Error(err))
		}
	}

	logger.Info("FallGuard monitoring stopped")
}

package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Fall detection
	AccelThreshold  float64 `yaml:"accel_threshold"`
	GyroThreshold   float64 `yaml:"gyro_threshold"`
	TickIntervalMs  int     `yaml:"tick_interval_ms"`
	HistoryCapacity int     `yaml:"history_capacity"`

	// Escalation deadlines
	PermissionTimeout time.Duration `yaml:"permission_timeout"`
	LocationTimeout   time.Duration `yaml:"location_timeout"`
	LocationMaxAge    time.Duration `yaml:"location_max_age"`
	DispatchTimeout   time.Duration `yaml:"dispatch_timeout"`
	FeedbackTimeout   time.Duration `yaml:"feedback_timeout"`
	StreamTimeout     time.Duration `yaml:"stream_timeout"`

	// Outbound channels
	NotificationEndpoint string `yaml:"notification_endpoint"`
	SMSGatewayURL        string `yaml:"sms_gateway_url"`
	SMSAccountSID        string `yaml:"sms_account_sid"`
	SMSAuthToken         string `yaml:"sms_auth_token"`
	SMSFromNumber        string `yaml:"sms_from_number"`
	SMSRecipientNumber   string `yaml:"sms_recipient_number"`
	SMSTemplate          string `yaml:"sms_template"`

	// Sensor transport
	SensorSource     string `yaml:"sensor_source"`
	DeviceID         string `yaml:"device_id"`
	MQTTBroker       string `yaml:"mqtt_broker"`
	MQTTClientID     string `yaml:"mqtt_client_id"`
	MQTTUsername     string `yaml:"mqtt_username"`
	MQTTPassword     string `yaml:"mqtt_password"`
	RabbitMQURL      string `yaml:"rabbitmq_url"`
	RabbitMQExchange string `yaml:"rabbitmq_exchange"`
	RabbitMQQueue    string `yaml:"rabbitmq_queue"`

	// Persisted session
	SessionBackend             string `yaml:"session_backend"`
	SessionKeyPrefix           string `yaml:"session_key_prefix"`
	RedisAddr                  string `yaml:"redis_addr"`
	RedisPassword              string `yaml:"redis_password"`
	RedisDB                    int    `yaml:"redis_db"`
	FirebaseDbUrl              string `yaml:"firebase_db_url"`
	FirebaseServiceAccountJSON string `yaml:"firebase_service_account_json"`
	LocationPermissionDefault  string `yaml:"location_permission_default"`

	// User-facing notifications
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		AccelThreshold:  1.5,
		GyroThreshold:   0.5,
		TickIntervalMs:  1000,
		HistoryCapacity: 3,

		PermissionTimeout: 10 * time.Second,
		LocationTimeout:   15 * time.Second,
		LocationMaxAge:    30 * time.Second,
		DispatchTimeout:   10 * time.Second,
		FeedbackTimeout:   5 * time.Second,
		StreamTimeout:     10 * time.Second,

		SMSGatewayURL: "https://api.twilio.com/2010-04-01",
		SMSTemplate:   "Fall detected! Need assistance! %s",

		SensorSource:     "mqtt",
		DeviceID:         "phone-001",
		MQTTBroker:       "tcp://localhost:1883",
		MQTTClientID:     "fallguard",
		RabbitMQExchange: "fallguard.sensors",
		RabbitMQQueue:    "sensor_samples",

		SessionBackend:            "redis",
		SessionKeyPrefix:          "fallguard:session:",
		RedisAddr:                 "localhost:6379",
		LocationPermissionDefault: "denied",

		LogLevel: "info",
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// named by FALLGUARD_CONFIG, then environment variables (a .env file is
// loaded if present).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("FALLGUARD_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.AccelThreshold = getEnvFloat("ACCEL_THRESHOLD", c.AccelThreshold)
	c.GyroThreshold = getEnvFloat("GYRO_THRESHOLD", c.GyroThreshold)
	c.TickIntervalMs = getEnvInt("TICK_INTERVAL_MS", c.TickIntervalMs)
	c.HistoryCapacity = getEnvInt("HISTORY_CAPACITY", c.HistoryCapacity)

	c.PermissionTimeout = getEnvDuration("PERMISSION_TIMEOUT", c.PermissionTimeout)
	c.LocationTimeout = getEnvDuration("LOCATION_TIMEOUT", c.LocationTimeout)
	c.LocationMaxAge = getEnvDuration("LOCATION_MAX_AGE", c.LocationMaxAge)
	c.DispatchTimeout = getEnvDuration("DISPATCH_TIMEOUT", c.DispatchTimeout)
	c.FeedbackTimeout = getEnvDuration("FEEDBACK_TIMEOUT", c.FeedbackTimeout)
	c.StreamTimeout = getEnvDuration("STREAM_TIMEOUT", c.StreamTimeout)

	c.NotificationEndpoint = getEnv("NOTIFICATION_ENDPOINT", c.NotificationEndpoint)
	c.SMSGatewayURL = getEnv("SMS_GATEWAY_URL", c.SMSGatewayURL)
	c.SMSAccountSID = getEnv("SMS_ACCOUNT_SID", c.SMSAccountSID)
	c.SMSAuthToken = getEnv("SMS_AUTH_TOKEN", c.SMSAuthToken)
	c.SMSFromNumber = getEnv("SMS_FROM_NUMBER", c.SMSFromNumber)
	c.SMSRecipientNumber = getEnv("SMS_RECIPIENT_NUMBER", c.SMSRecipientNumber)
	c.SMSTemplate = getEnv("SMS_TEMPLATE", c.SMSTemplate)

	c.SensorSource = getEnv("SENSOR_SOURCE", c.SensorSource)
	c.DeviceID = getEnv("DEVICE_ID", c.DeviceID)
	c.MQTTBroker = getEnv("MQTT_BROKER", c.MQTTBroker)
	c.MQTTClientID = getEnv("MQTT_CLIENT_ID", c.MQTTClientID)
	c.MQTTUsername = getEnv("MQTT_USERNAME", c.MQTTUsername)
	c.MQTTPassword = getEnv("MQTT_PASSWORD", c.MQTTPassword)
	c.RabbitMQURL = getEnv("RABBITMQ_URL", c.RabbitMQURL)
	c.RabbitMQExchange = getEnv("RABBITMQ_EXCHANGE", c.RabbitMQExchange)
	c.RabbitMQQueue = getEnv("RABBITMQ_QUEUE", c.RabbitMQQueue)

	c.SessionBackend = getEnv("SESSION_BACKEND", c.SessionBackend)
	c.SessionKeyPrefix = getEnv("SESSION_KEY_PREFIX", c.SessionKeyPrefix)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.FirebaseDbUrl = getEnv("FIREBASE_DB_URL", c.FirebaseDbUrl)
	c.FirebaseServiceAccountJSON = getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", c.FirebaseServiceAccountJSON)
	c.LocationPermissionDefault = getEnv("LOCATION_PERMISSION_DEFAULT", c.LocationPermissionDefault)

	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)

	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks the values the core cannot run without
func (c *Config) Validate() error {
	if !positiveFinite(c.AccelThreshold) {
		return fmt.Errorf("accel threshold must be a positive finite number, got %v", c.AccelThreshold)
	}
	if !positiveFinite(c.GyroThreshold) {
		return fmt.Errorf("gyro threshold must be a positive finite number, got %v", c.GyroThreshold)
	}
	if c.TickIntervalMs <= 0 {
		return fmt.Errorf("tick interval must be positive, got %d ms", c.TickIntervalMs)
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("history capacity must be at least 1, got %d", c.HistoryCapacity)
	}

	timeouts := map[string]time.Duration{
		"permission timeout": c.PermissionTimeout,
		"location timeout":   c.LocationTimeout,
		"location max age":   c.LocationMaxAge,
		"dispatch timeout":   c.DispatchTimeout,
		"feedback timeout":   c.FeedbackTimeout,
		"stream timeout":     c.StreamTimeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	switch c.SensorSource {
	case "mqtt", "amqp":
	default:
		return fmt.Errorf("unknown sensor source %q", c.SensorSource)
	}
	switch c.SessionBackend {
	case "redis", "firebase", "none":
	default:
		return fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}
	return nil
}

// NaN compares false against everything, so it must be rejected explicitly
func positiveFinite(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// TickInterval returns the detector tick as a duration
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// SMSConfigured reports whether every SMS credential field is set
func (c *Config) SMSConfigured() bool {
	return c.SMSAccountSID != "" && c.SMSAuthToken != "" &&
		c.SMSFromNumber != "" && c.SMSRecipientNumber != ""
}

// Topic returns the per-device MQTT topic for the given leaf
func (c *Config) Topic(leaf string) string {
	return "devices/" + c.DeviceID + "/" + leaf
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

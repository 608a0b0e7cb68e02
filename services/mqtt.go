package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fallguard/config"
	"fallguard/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTSource subscribes to the device's sensor and location topics and
// publishes feedback commands back to it
type MQTTSource struct {
	client   mqtt.Client
	config   *config.Config
	ingestor *SensorIngestor
	tracker  *FixTracker
	logger   *zap.Logger
}

// NewMQTTSource creates a source that feeds sensor samples to ingestor and location fixes to tracker
func NewMQTTSource(cfg *config.Config, ingestor *SensorIngestor, tracker *FixTracker, logger *zap.Logger) *MQTTSource {
	s := &MQTTSource{
		config:   cfg,
		ingestor: ingestor,
		tracker:  tracker,
		logger:   logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	// Subscriptions are (re)established on every connect
	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
		s.subscribe(c)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker
func (s *MQTTSource) Start(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

func (s *MQTTSource) subscribe(c mqtt.Client) {
	handlers := map[string]mqtt.MessageHandler{
		s.config.Topic(string(models.StreamAccelerometer)): s.sampleHandler(models.StreamAccelerometer),
		s.config.Topic(string(models.StreamGyroscope)):     s.sampleHandler(models.StreamGyroscope),
		s.config.Topic("location"):                         s.handleLocation,
	}
	for topic, handler := range handlers {
		if token := c.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			s.logger.Error("Failed to subscribe", zap.String("topic", topic), zap.Error(token.Error()))
			continue
		}
		s.logger.Info("Subscribed to topic", zap.String("topic", topic))
	}
}

func (s *MQTTSource) sampleHandler(stream models.StreamID) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		sample, err := ParseSample(msg.Payload())
		if err != nil {
			s.logger.Warn("Invalid sensor payload",
				zap.String("topic", msg.Topic()),
				zap.Error(err))
			return
		}
		s.ingestor.OnSample(stream, sample)
	}
}

func (s *MQTTSource) handleLocation(_ mqtt.Client, msg mqtt.Message) {
	fix, err := ParseLocationFix(msg.Payload())
	if err != nil {
		s.logger.Warn("Invalid location payload", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if err := s.tracker.Update(fix); err != nil {
		s.logger.Warn("Rejected location fix", zap.Error(err))
	}
}

// RequestLocation asks the device to publish a fresh fix
func (s *MQTTSource) RequestLocation(ctx context.Context) error {
	return s.publish(ctx, s.config.Topic("location/request"), map[string]any{
		"requested_at": time.Now().UTC(),
	})
}

func (s *MQTTSource) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	token := s.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (s *MQTTSource) Close() {
	s.client.Disconnect(250)
	s.logger.Info("MQTT client disconnected")
}

// FeedbackCommand is published to the device to play the alert locally
type FeedbackCommand struct {
	Command     string    `json:"command"`
	Sound       string    `json:"sound"`
	VibrationMs int       `json:"vibration_ms"`
	DetectedAt  time.Time `json:"detected_at"`
}

// MQTTFeedbackSink plays the alert sound and vibration on the device
type MQTTFeedbackSink struct {
	source *MQTTSource
}

// NewMQTTFeedbackSink publishes feedback commands through source
func NewMQTTFeedbackSink(source *MQTTSource) *MQTTFeedbackSink {
	return &MQTTFeedbackSink{source: source}
}

func (f *MQTTFeedbackSink) Dispatch(ctx context.Context, ev models.FallEvent) error {
	return f.source.publish(ctx, f.source.config.Topic("feedback"), NewFeedbackCommand(ev))
}

// NewFeedbackCommand builds the device command for a fall event
func NewFeedbackCommand(ev models.FallEvent) FeedbackCommand {
	return FeedbackCommand{
		Command:     "fall_alert",
		Sound:       "alert",
		VibrationMs: 500,
		DetectedAt:  ev.DetectedAt,
	}
}

// ParseSample decodes a {x, y, z, captured_at} payload
func ParseSample(payload []byte) (models.SensorSample, error) {
	var raw struct {
		X          *float64  `json:"x"`
		Y          *float64  `json:"y"`
		Z          *float64  `json:"z"`
		CapturedAt time.Time `json:"captured_at"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.SensorSample{}, fmt.Errorf("failed to unmarshal sample: %w", err)
	}
	if raw.X == nil || raw.Y == nil || raw.Z == nil {
		return models.SensorSample{}, fmt.Errorf("sample is missing an axis")
	}
	return models.SensorSample{X: *raw.X, Y: *raw.Y, Z: *raw.Z, CapturedAt: raw.CapturedAt}, nil
}

// ParseLocationFix decodes a {latitude, longitude, accuracy, captured_at} payload
func ParseLocationFix(payload []byte) (models.LocationFix, error) {
	var raw struct {
		Latitude   *float64  `json:"latitude"`
		Longitude  *float64  `json:"longitude"`
		Accuracy   *float64  `json:"accuracy"`
		CapturedAt time.Time `json:"captured_at"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.LocationFix{}, fmt.Errorf("failed to unmarshal location: %w", err)
	}
	if raw.Latitude == nil || raw.Longitude == nil {
		return models.LocationFix{}, fmt.Errorf("location is missing coordinates")
	}
	return models.LocationFix{
		Coordinates: models.Coordinates{
			Latitude:  *raw.Latitude,
			Longitude: *raw.Longitude,
			Accuracy:  raw.Accuracy,
		},
		CapturedAt: raw.CapturedAt,
	}, nil
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fallguard/config"
	"fallguard/models"
	"fallguard/services"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	rps       = flag.Int("rps", 1, "Samples per second on each stream")
	fallProb  = flag.Float64("fall", 0.01, "Probability that a sample pair is a fall (0.0-1.0)")
	transport = flag.String("transport", "mqtt", "Sample transport: mqtt or amqp")
	latitude  = flag.Float64("lat", 13.7563, "Latitude reported on location requests")
	longitude = flag.Float64("lng", 100.5018, "Longitude reported on location requests")
)

// MotionGenerator produces accelerometer and gyroscope readings of a phone
// lying still, with occasional falls
type MotionGenerator struct {
	fallProbability float64
}

// Next returns one accelerometer and one gyroscope sample. Readings are in
// g and rad/s with gravity removed.
func (g *MotionGenerator) Next(now time.Time) (accel, gyro models.SensorSample, fall bool) {
	noise := func(scale float64) float64 {
		return math.Round((rand.Float64()-0.5)*scale*1000) / 1000
	}

	accel = models.SensorSample{X: noise(0.2), Y: noise(0.2), Z: noise(0.2), CapturedAt: now}
	gyro = models.SensorSample{X: noise(0.1), Y: noise(0.1), Z: noise(0.1), CapturedAt: now}

	if rand.Float64() < g.fallProbability {
		accel.X, accel.Y, accel.Z = 1.2+noise(0.4), 1.2+noise(0.4), 1.2+noise(0.4)
		gyro.X, gyro.Y, gyro.Z = 0.4+noise(0.2), 0.4+noise(0.2), 0.4+noise(0.2)
		fall = true
	}
	return accel, gyro, fall
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *rps < 1 {
		logger.Fatal("rps must be positive", zap.Int("rps", *rps))
	}

	logger.Info("IMU generator started",
		zap.String("device_id", cfg.DeviceID),
		zap.String("transport", *transport),
		zap.Int("rps", *rps),
		zap.Float64("fall_probability", *fallProb),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The simulated phone always talks MQTT for location and feedback
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(fmt.Sprintf("%s-generator", cfg.DeviceID))
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetAutoReconnect(true)
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer client.Disconnect(250)

	publishJSON := func(topic string, v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		token := client.Publish(topic, 0, false, payload)
		token.Wait()
		return token.Error()
	}

	client.Subscribe(cfg.Topic("location/request"), 1, func(_ mqtt.Client, _ mqtt.Message) {
		fix := models.LocationFix{
			Coordinates: models.Coordinates{Latitude: *latitude, Longitude: *longitude},
			CapturedAt:  time.Now().UTC(),
		}
		if err := publishJSON(cfg.Topic("location"), fix); err != nil {
			logger.Error("Failed to publish location", zap.Error(err))
			return
		}
		logger.Info("Answered location request", zap.String("gmap_link", fix.MapLink()))
	})
	client.Subscribe(cfg.Topic("feedback"), 1, func(_ mqtt.Client, msg mqtt.Message) {
		var cmd services.FeedbackCommand
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			logger.Warn("Invalid feedback command", zap.Error(err))
			return
		}
		logger.Warn("Device playing fall alert",
			zap.String("sound", cmd.Sound),
			zap.Int("vibration_ms", cmd.VibrationMs))
	})

	publish := func(ctx context.Context, s models.StreamSample) error {
		return publishJSON(cfg.Topic(string(s.Stream)), s.SensorSample)
	}
	if *transport == "amqp" {
		rabbit, err := services.NewRabbitMQSource(cfg, nil, logger)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rabbit.Close()
		publish = rabbit.Publish
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping generator")
		cancel()
	}()

	gen := &MotionGenerator{fallProbability: *fallProb}
	ticker := time.NewTicker(time.Second / time.Duration(*rps))
	defer ticker.Stop()

	sent, falls := 0, 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Generator stopped",
				zap.Int("total_pairs", sent),
				zap.Int("falls_generated", falls),
				zap.Duration("uptime", time.Since(startTime)))
			return

		case now := <-ticker.C:
			accel, gyro, fall := gen.Next(now.UTC())
			if fall {
				falls++
				logger.Info("Generating fall",
					zap.Float64("acceleration_magnitude", accel.Magnitude()),
					zap.Float64("rotation_magnitude", gyro.Magnitude()))
			}

			failed := false
			for _, s := range []models.StreamSample{
				{Stream: models.StreamAccelerometer, SensorSample: accel},
				{Stream: models.StreamGyroscope, SensorSample: gyro},
			} {
				if err := publish(ctx, s); err != nil {
					logger.Error("Failed to publish sample", zap.String("stream", string(s.Stream)), zap.Error(err))
					failed = true
				}
			}
			if failed {
				continue
			}

			sent++
			if sent%100 == 0 {
				logger.Info("Sample pairs published",
					zap.Int("count", sent),
					zap.Int("falls", falls),
					zap.Float64("rate", float64(sent)/time.Since(startTime).Seconds()))
			}
		}
	}
}

package services

import (
	"context"
	"time"

	"fallguard/metrics"
	"fallguard/models"

	"go.uber.org/zap"
)

// DetectorConfig holds the fall detection policy
type DetectorConfig struct {
	AccelThreshold float64
	GyroThreshold  float64
	TickInterval   time.Duration
}

// EventSink receives fall events. Trigger must not block.
type EventSink interface {
	Trigger(ctx context.Context, ev models.FallEvent) bool
}

// FallDetector fuses the latest accelerometer and gyroscope samples on a
// fixed tick
type FallDetector struct {
	config   DetectorConfig
	ingestor *SensorIngestor
	sink     EventSink
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// CapturedAt of the sample pair that last produced an event
	lastAccelAt time.Time
	lastGyroAt  time.Time
}

// NewFallDetector creates a detector that sends fall events to sink
func NewFallDetector(cfg DetectorConfig, ingestor *SensorIngestor, sink EventSink, m *metrics.Metrics, logger *zap.Logger) *FallDetector {
	return &FallDetector{
		config:   cfg,
		ingestor: ingestor,
		sink:     sink,
		metrics:  m,
		logger:   logger,
	}
}

// Evaluate applies the detection rule to the latest sample of each stream.
// Only the goroutine driving the ticks may call it.
func (fd *FallDetector) Evaluate(now time.Time) (models.FallEvent, bool) {
	accel, ok := fd.ingestor.Latest(models.StreamAccelerometer)
	if !ok || !accel.Valid() {
		return models.FallEvent{}, false
	}
	gyro, ok := fd.ingestor.Latest(models.StreamGyroscope)
	if !ok || !gyro.Valid() {
		return models.FallEvent{}, false
	}

	accelMag := accel.Magnitude()
	gyroMag := gyro.Magnitude()

	fd.logger.Debug("Evaluated sensor magnitudes",
		zap.Float64("acceleration_magnitude", accelMag),
		zap.Float64("rotation_magnitude", gyroMag))

	if accelMag <= fd.config.AccelThreshold || gyroMag <= fd.config.GyroThreshold {
		return models.FallEvent{}, false
	}

	// the same pair never fires twice
	if accel.CapturedAt.Equal(fd.lastAccelAt) && gyro.CapturedAt.Equal(fd.lastGyroAt) {
		return models.FallEvent{}, false
	}
	fd.lastAccelAt = accel.CapturedAt
	fd.lastGyroAt = gyro.CapturedAt

	return models.FallEvent{
		DetectedAt:            now,
		AccelerationMagnitude: accelMag,
		RotationMagnitude:     gyroMag,
	}, true
}

// Tick runs one detection cycle and hands a detected fall to the sink
func (fd *FallDetector) Tick(ctx context.Context, now time.Time) bool {
	ev, ok := fd.Evaluate(now)
	if !ok {
		return false
	}

	fd.metrics.FallEvent()
	fd.logger.Warn("Potential fall detected",
		zap.Float64("acceleration_magnitude", ev.AccelerationMagnitude),
		zap.Float64("rotation_magnitude", ev.RotationMagnitude),
		zap.Float64("accel_threshold", fd.config.AccelThreshold),
		zap.Float64("gyro_threshold", fd.config.GyroThreshold))

	fd.sink.Trigger(ctx, ev)
	return true
}

// Run ticks until the context is cancelled
func (fd *FallDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(fd.config.TickInterval)
	defer ticker.Stop()

	fd.logger.Info("Fall detector started",
		zap.Duration("tick_interval", fd.config.TickInterval),
		zap.Float64("accel_threshold", fd.config.AccelThreshold),
		zap.Float64("gyro_threshold", fd.config.GyroThreshold))

	for {
		select {
		case <-ctx.Done():
			fd.logger.Info("Fall detector stopped")
			return
		case now := <-ticker.C:
			fd.Tick(ctx, now)
		}
	}
}

package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"fallguard/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.FallEvent
}

func (s *recordingSink) Trigger(ctx context.Context, ev models.FallEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

var testDetectorConfig = DetectorConfig{
	AccelThreshold: 1.5,
	GyroThreshold:  0.5,
	TickInterval:   time.Second,
}

func newTestDetector(t *testing.T) (*FallDetector, *SensorIngestor, *recordingSink) {
	t.Helper()
	si := NewSensorIngestor(3, nil, zap.NewNop())
	sink := &recordingSink{}
	return NewFallDetector(testDetectorConfig, si, sink, nil, zap.NewNop()), si, sink
}

func vec(x, y, z float64, at time.Time) models.SensorSample {
	return models.SensorSample{X: x, Y: y, Z: z, CapturedAt: at}
}

func TestFallDetector_EmitsOnBothThresholds(t *testing.T) {
	fd, si, sink := newTestDetector(t)
	at := time.Unix(1700000000, 0)
	now := at.Add(500 * time.Millisecond)

	si.OnSample(models.StreamAccelerometer, vec(1.2, 1.2, 1.2, at))
	si.OnSample(models.StreamGyroscope, vec(0.4, 0.4, 0.4, at))

	require.True(t, fd.Tick(context.Background(), now))
	require.Equal(t, 1, sink.count())

	ev := sink.events[0]
	assert.Equal(t, now, ev.DetectedAt)
	assert.InDelta(t, 2.078, ev.AccelerationMagnitude, 0.001)
	assert.InDelta(t, 0.693, ev.RotationMagnitude, 0.001)
}

func TestFallDetector_NoEventBelowThresholds(t *testing.T) {
	at := time.Unix(1700000000, 0)

	tests := []struct {
		name  string
		accel models.SensorSample
		gyro  models.SensorSample
	}{
		{"both below", vec(0.5, 0.5, 0.5, at), vec(0.1, 0.1, 0.1, at)},
		{"accel only", vec(1.2, 1.2, 1.2, at), vec(0.1, 0.1, 0.1, at)},
		{"gyro only", vec(0.5, 0.5, 0.5, at), vec(0.4, 0.4, 0.4, at)},
		{"accel at threshold", vec(1.5, 0, 0, at), vec(0.4, 0.4, 0.4, at)},
		{"gyro at threshold", vec(1.2, 1.2, 1.2, at), vec(0, 0.5, 0, at)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd, si, sink := newTestDetector(t)
			si.OnSample(models.StreamAccelerometer, tt.accel)
			si.OnSample(models.StreamGyroscope, tt.gyro)

			assert.False(t, fd.Tick(context.Background(), at))
			assert.Equal(t, 0, sink.count())
		})
	}
}

func TestFallDetector_SkipsWhenStreamMissing(t *testing.T) {
	fd, si, sink := newTestDetector(t)
	at := time.Unix(1700000000, 0)

	si.OnSample(models.StreamAccelerometer, vec(3, 3, 3, at))

	assert.False(t, fd.Tick(context.Background(), at))
	assert.Equal(t, 0, sink.count())
}

func TestFallDetector_SamePairFiresOnce(t *testing.T) {
	fd, si, sink := newTestDetector(t)
	at := time.Unix(1700000000, 0)

	si.OnSample(models.StreamAccelerometer, vec(1.2, 1.2, 1.2, at))
	si.OnSample(models.StreamGyroscope, vec(0.4, 0.4, 0.4, at))

	assert.True(t, fd.Tick(context.Background(), at.Add(time.Second)))
	assert.False(t, fd.Tick(context.Background(), at.Add(2*time.Second)))
	assert.False(t, fd.Tick(context.Background(), at.Add(3*time.Second)))
	assert.Equal(t, 1, sink.count())
}

func TestFallDetector_FiresOncePerQualifyingTick(t *testing.T) {
	fd, si, sink := newTestDetector(t)
	at := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		ts := at.Add(time.Duration(i) * time.Second)
		si.OnSample(models.StreamAccelerometer, vec(1.2, 1.2, 1.2, ts))
		// any new sample on either stream makes a new pair
		if i != 1 {
			si.OnSample(models.StreamGyroscope, vec(0.4, 0.4, 0.4, ts))
		}
		assert.True(t, fd.Tick(context.Background(), ts.Add(500*time.Millisecond)))
	}

	assert.Equal(t, 3, sink.count())
}

func TestFallDetector_RunStopsOnCancel(t *testing.T) {
	si := NewSensorIngestor(3, nil, zap.NewNop())
	fd := NewFallDetector(DetectorConfig{
		AccelThreshold: 1.5,
		GyroThreshold:  0.5,
		TickInterval:   10 * time.Millisecond,
	}, si, &recordingSink{}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fd.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("detector did not stop")
	}
}

func TestFallDetector_DetectsAfterSkewedSample(t *testing.T) {
	fd, si, sink := newTestDetector(t)
	now := time.Unix(1700000000, 0)
	si.now = func() time.Time { return now }

	si.OnSample(models.StreamAccelerometer, vec(0.1, 0.1, 0.1, now.Add(24*time.Hour)))
	si.OnSample(models.StreamGyroscope, vec(0.4, 0.4, 0.4, now))
	require.True(t, si.OnSample(models.StreamAccelerometer, vec(1.2, 1.2, 1.2, now.Add(time.Second))))

	assert.True(t, fd.Tick(context.Background(), now.Add(time.Second)))
	assert.Equal(t, 1, sink.count())
}

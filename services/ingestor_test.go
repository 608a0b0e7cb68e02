package services

import (
	"math"
	"strings"
	"testing"
	"time"

	"fallguard/metrics"
	"fallguard/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestIngestor(now time.Time) *SensorIngestor {
	si := NewSensorIngestor(3, nil, zap.NewNop())
	si.now = func() time.Time { return now }
	return si
}

func TestSensorIngestor_RecordsSample(t *testing.T) {
	now := time.Unix(1700000000, 0)
	si := newTestIngestor(now)

	ok := si.OnSample(models.StreamAccelerometer, models.SensorSample{X: 1, Y: 2, Z: 3, CapturedAt: now})
	require.True(t, ok)

	latest, ok := si.Latest(models.StreamAccelerometer)
	require.True(t, ok)
	assert.Equal(t, 1.0, latest.X)
	assert.Equal(t, now, si.LastSeen(models.StreamAccelerometer))

	_, ok = si.Latest(models.StreamGyroscope)
	assert.False(t, ok)
	assert.True(t, si.LastSeen(models.StreamGyroscope).IsZero())
}

func TestSensorIngestor_StampsMissingTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	si := newTestIngestor(now)

	require.True(t, si.OnSample(models.StreamGyroscope, models.SensorSample{X: 0.1}))

	latest, _ := si.Latest(models.StreamGyroscope)
	assert.Equal(t, now, latest.CapturedAt)
}

func TestSensorIngestor_Rejects(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name   string
		stream models.StreamID
		sample models.SensorSample
	}{
		{"NaN axis", models.StreamAccelerometer, models.SensorSample{X: math.NaN(), CapturedAt: now}},
		{"infinite axis", models.StreamGyroscope, models.SensorSample{Z: math.Inf(-1), CapturedAt: now}},
		{"unknown stream", models.StreamID("magnetometer"), models.SensorSample{X: 1, CapturedAt: now}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			si := newTestIngestor(now)
			assert.False(t, si.OnSample(tt.stream, tt.sample))
			assert.Empty(t, si.History(tt.stream))
		})
	}
}

func TestSensorIngestor_DropsOutOfOrder(t *testing.T) {
	now := time.Unix(1700000000, 0)
	si := newTestIngestor(now)

	require.True(t, si.OnSample(models.StreamAccelerometer, models.SensorSample{X: 1, CapturedAt: now}))
	assert.False(t, si.OnSample(models.StreamAccelerometer, models.SensorSample{X: 2, CapturedAt: now.Add(-time.Millisecond)}))
	assert.True(t, si.OnSample(models.StreamAccelerometer, models.SensorSample{X: 3, CapturedAt: now}))

	got := si.History(models.StreamAccelerometer)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].X)
	assert.Equal(t, 3.0, got[1].X)
}

func TestSensorIngestor_BoundedHistory(t *testing.T) {
	now := time.Unix(1700000000, 0)
	si := newTestIngestor(now)

	for i := 0; i < 5; i++ {
		si.OnSample(models.StreamGyroscope, models.SensorSample{X: float64(i), CapturedAt: now.Add(time.Duration(i) * time.Millisecond)})
	}

	got := si.History(models.StreamGyroscope)
	require.Len(t, got, 3)
	assert.Equal(t, 2.0, got[0].X)
	assert.Equal(t, 4.0, got[2].X)
}

func TestSensorIngestor_CountsSamples(t *testing.T) {
	m := metrics.New()
	si := NewSensorIngestor(3, m, zap.NewNop())

	si.OnSample(models.StreamAccelerometer, models.SensorSample{X: 1})
	si.OnSample(models.StreamAccelerometer, models.SensorSample{X: math.NaN()})

	expected := `
# HELP fallguard_samples_accepted_total Sensor samples recorded per stream.
# TYPE fallguard_samples_accepted_total counter
fallguard_samples_accepted_total{stream="accelerometer"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "fallguard_samples_accepted_total"))
}

func TestSensorIngestor_RestampsFutureSample(t *testing.T) {
	now := time.Unix(1700000000, 0)
	si := newTestIngestor(now)

	require.True(t, si.OnSample(models.StreamAccelerometer, models.SensorSample{X: 0.1, CapturedAt: now.Add(24 * time.Hour)}))
	latest, _ := si.Latest(models.StreamAccelerometer)
	assert.Equal(t, now, latest.CapturedAt)

	// a correctly clocked sample right after is still accepted
	require.True(t, si.OnSample(models.StreamAccelerometer, models.SensorSample{X: 2, CapturedAt: now.Add(time.Second)}))
	latest, _ = si.Latest(models.StreamAccelerometer)
	assert.Equal(t, 2.0, latest.X)
}

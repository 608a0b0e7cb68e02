package services

import (
	"encoding/json"
	"testing"
	"time"

	"fallguard/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSample(t *testing.T) {
	sample, err := ParseSample([]byte(`{"x":1.2,"y":-0.4,"z":9.81,"captured_at":"2023-11-14T22:13:20Z"}`))
	require.NoError(t, err)

	assert.Equal(t, 1.2, sample.X)
	assert.Equal(t, -0.4, sample.Y)
	assert.Equal(t, 9.81, sample.Z)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), sample.CapturedAt)
}

func TestParseSample_ZeroAxisIsPresent(t *testing.T) {
	sample, err := ParseSample([]byte(`{"x":0,"y":0,"z":0}`))
	require.NoError(t, err)
	assert.True(t, sample.CapturedAt.IsZero())
}

func TestParseSample_Invalid(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{"x":1,"y":2}`,
		`{"x":"1","y":2,"z":3}`,
	} {
		_, err := ParseSample([]byte(payload))
		assert.Error(t, err, payload)
	}
}

func TestParseLocationFix(t *testing.T) {
	fix, err := ParseLocationFix([]byte(`{"latitude":13.7563,"longitude":100.5018,"accuracy":8}`))
	require.NoError(t, err)

	assert.Equal(t, 13.7563, fix.Latitude)
	assert.Equal(t, 100.5018, fix.Longitude)
	require.NotNil(t, fix.Accuracy)
	assert.Equal(t, 8.0, *fix.Accuracy)

	_, err = ParseLocationFix([]byte(`{"latitude":13.7563}`))
	assert.Error(t, err)
}

func TestParseStreamSample(t *testing.T) {
	at := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	body, err := json.Marshal(models.StreamSample{
		Stream:       models.StreamGyroscope,
		SensorSample: models.SensorSample{X: 0.4, Y: 0.4, Z: 0.4, CapturedAt: at},
	})
	require.NoError(t, err)

	got, err := ParseStreamSample(body)
	require.NoError(t, err)
	assert.Equal(t, models.StreamGyroscope, got.Stream)
	assert.Equal(t, 0.4, got.Z)
	assert.Equal(t, at, got.CapturedAt)

	_, err = ParseStreamSample([]byte(`{"x":1,"y":1,"z":1}`))
	assert.Error(t, err)
}

func TestNewFeedbackCommand(t *testing.T) {
	ev := testFallEvent()
	cmd := NewFeedbackCommand(ev)

	assert.Equal(t, "fall_alert", cmd.Command)
	assert.Equal(t, "alert", cmd.Sound)
	assert.Equal(t, 500, cmd.VibrationMs)
	assert.Equal(t, ev.DetectedAt, cmd.DetectedAt)
}

package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultValues(t *testing.T) {
	chdir(t, t.TempDir())
	os.Clearenv()

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 1.5, cfg.AccelThreshold)
	assert.Equal(t, 0.5, cfg.GyroThreshold)
	assert.Equal(t, 1000, cfg.TickIntervalMs)
	assert.Equal(t, time.Second, cfg.TickInterval())
	assert.Equal(t, 3, cfg.HistoryCapacity)
	assert.Equal(t, 15*time.Second, cfg.LocationTimeout)
	assert.Equal(t, "https://api.twilio.com/2010-04-01", cfg.SMSGatewayURL)
	assert.Equal(t, "mqtt", cfg.SensorSource)
	assert.False(t, cfg.SMSConfigured())
}

func TestLoadConfig_EnvironmentVariables(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ACCEL_THRESHOLD", "2.25")
	t.Setenv("GYRO_THRESHOLD", "0.75")
	t.Setenv("TICK_INTERVAL_MS", "250")
	t.Setenv("LOCATION_TIMEOUT", "3s")
	t.Setenv("SMS_ACCOUNT_SID", "AC123")
	t.Setenv("SMS_AUTH_TOKEN", "secret")
	t.Setenv("SMS_FROM_NUMBER", "+15550001")
	t.Setenv("SMS_RECIPIENT_NUMBER", "+15550002")
	t.Setenv("DEVICE_ID", "watch-7")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2.25, cfg.AccelThreshold)
	assert.Equal(t, 0.75, cfg.GyroThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval())
	assert.Equal(t, 3*time.Second, cfg.LocationTimeout)
	assert.True(t, cfg.SMSConfigured())
	assert.Equal(t, "devices/watch-7/gyroscope", cfg.Topic("gyroscope"))
}

func TestLoadConfig_InvalidEnvValueKeepsDefault(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ACCEL_THRESHOLD", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.AccelThreshold)
}

func TestLoadConfig_YAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "fallguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
accel_threshold: 1.8
gyro_threshold: 0.6
dispatch_timeout: 4s
notification_endpoint: https://alerts.example.com/fall
`), 0o600))

	t.Setenv("FALLGUARD_CONFIG", path)
	t.Setenv("GYRO_THRESHOLD", "0.9")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 1.8, cfg.AccelThreshold)
	assert.Equal(t, 0.9, cfg.GyroThreshold)
	assert.Equal(t, 4*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, "https://alerts.example.com/fall", cfg.NotificationEndpoint)
	assert.Equal(t, 1000, cfg.TickIntervalMs)
}

func TestLoadConfig_MissingYAMLFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("FALLGUARD_CONFIG", "/does/not/exist.yaml")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero accel threshold", func(c *Config) { c.AccelThreshold = 0 }},
		{"negative gyro threshold", func(c *Config) { c.GyroThreshold = -1 }},
		{"NaN accel threshold", func(c *Config) { c.AccelThreshold = math.NaN() }},
		{"NaN gyro threshold", func(c *Config) { c.GyroThreshold = math.NaN() }},
		{"infinite accel threshold", func(c *Config) { c.AccelThreshold = math.Inf(1) }},
		{"infinite gyro threshold", func(c *Config) { c.GyroThreshold = math.Inf(1) }},
		{"zero tick", func(c *Config) { c.TickIntervalMs = 0 }},
		{"empty history", func(c *Config) { c.HistoryCapacity = 0 }},
		{"zero location timeout", func(c *Config) { c.LocationTimeout = 0 }},
		{"unknown source", func(c *Config) { c.SensorSource = "kafka" }},
		{"unknown session backend", func(c *Config) { c.SessionBackend = "sqlite" }},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_RejectsNaNThreshold(t *testing.T) {
	chdir(t, t.TempDir())
	os.Clearenv()
	t.Setenv("ACCEL_THRESHOLD", "NaN")

	_, err := LoadConfig()
	assert.Error(t, err)
}

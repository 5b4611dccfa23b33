package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, 70.0, c.Sampler.DamageThreshold)
	assert.Equal(t, 100*time.Millisecond, c.Sampler.SampleInterval)
	assert.Equal(t, 3, c.Sampler.BatchSize)
	assert.Equal(t, 640, c.Sampler.CanvasWidth)
	assert.Equal(t, 480, c.Sampler.CanvasHeight)
	assert.Equal(t, 80, c.Sampler.JPEGQuality)
	assert.Equal(t, 5, c.Sampler.MaxAlerts)
	assert.Equal(t, "environment", c.Camera.FacingMode)
	assert.Equal(t, 30, c.Camera.FrameRate)
	assert.Zero(t, c.ML.Timeout, "detection requests are unbounded by default")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DETECTION_ENDPOINT", "https://detect.example.com/model/2")
	t.Setenv("DAMAGE_THRESHOLD", "65.5")
	t.Setenv("FRAME_PROCESSING_INTERVAL", "250ms")
	t.Setenv("DETECTION_BATCH_SIZE", "5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("SERVER_PORT", "not-a-number")

	c, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://detect.example.com/model/2", c.ML.Endpoint)
	assert.Equal(t, 65.5, c.Sampler.DamageThreshold)
	assert.Equal(t, 250*time.Millisecond, c.Sampler.SampleInterval)
	assert.Equal(t, 5, c.Sampler.BatchSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.Security.AllowedOrigins)
	assert.Equal(t, 8080, c.Server.Port, "unparsable values keep the default")
}

func TestLoadConfig_YAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ml:
  endpoint: http://localhost:9001/detect
  timeout: 5s
sampler:
  damage_threshold: 80
  batch_size: 4
camera:
  source: device
  device_id: 2
mqtt:
  broker: localhost:1883
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DETECTION_BATCH_SIZE", "6")

	c, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9001/detect", c.ML.Endpoint)
	assert.Equal(t, 5*time.Second, c.ML.Timeout)
	assert.Equal(t, 80.0, c.Sampler.DamageThreshold)
	assert.Equal(t, 6, c.Sampler.BatchSize, "environment wins over the file")
	assert.Equal(t, 100*time.Millisecond, c.Sampler.SampleInterval, "unset keys keep defaults")
	assert.Equal(t, "device", c.Camera.Source)
	assert.Equal(t, 2, c.Camera.DeviceID)
	assert.Equal(t, "localhost:1883", c.MQTT.Broker)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestValidateConfig(t *testing.T) {
	logger := zap.NewNop()

	valid := Default()
	valid.ML.Endpoint = "https://detect.example.com/model/1"
	require.NoError(t, valid.ValidateConfig(logger))

	tests := []struct {
		name   string
		mutate func(c *Config)
		substr string
	}{
		{name: "missing endpoint", mutate: func(c *Config) { c.ML.Endpoint = "" }, substr: "detection endpoint is required"},
		{name: "zero batch", mutate: func(c *Config) { c.Sampler.BatchSize = 0 }, substr: "batch size"},
		{name: "threshold out of range", mutate: func(c *Config) { c.Sampler.DamageThreshold = 120 }, substr: "damage threshold"},
		{name: "bad quality", mutate: func(c *Config) { c.Sampler.JPEGQuality = 0 }, substr: "JPEG quality"},
		{name: "too many alerts", mutate: func(c *Config) { c.Sampler.MaxAlerts = 50 }, substr: "max alerts must be between 1 and 5"},
		{name: "no alerts", mutate: func(c *Config) { c.Sampler.MaxAlerts = 0 }, substr: "max alerts"},
		{name: "unknown source", mutate: func(c *Config) { c.Camera.Source = "rtsp" }, substr: "unknown camera source"},
		{name: "https without certs", mutate: func(c *Config) { c.Security.EnableHTTPS = true }, substr: "cert and key"},
		{name: "bad qos", mutate: func(c *Config) { c.MQTT.Broker = "localhost:1883"; c.MQTT.QoS = 3 }, substr: "MQTT QoS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.ML.Endpoint = "https://detect.example.com/model/1"
			tt.mutate(c)

			err := c.ValidateConfig(logger)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/damage-watch/server/analysis"
)

type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	ML       MLConfig       `json:"ml" yaml:"ml"`
	Sampler  SamplerConfig  `json:"sampler" yaml:"sampler"`
	Camera   CameraConfig   `json:"camera" yaml:"camera"`
	Security SecurityConfig `json:"security" yaml:"security"`
	MQTT     MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	Environment  string        `json:"environment" yaml:"environment"`
	StaticDir    string        `json:"static_dir" yaml:"static_dir"`
}

type MLConfig struct {
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	APIKey   string        `json:"-" yaml:"api_key"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	CacheMax int           `json:"cache_max" yaml:"cache_max"`
}

type SamplerConfig struct {
	DamageThreshold float64       `json:"damage_threshold" yaml:"damage_threshold"`
	SampleInterval  time.Duration `json:"sample_interval" yaml:"sample_interval"`
	BatchSize       int           `json:"batch_size" yaml:"batch_size"`
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval"`
	CanvasWidth     int           `json:"canvas_width" yaml:"canvas_width"`
	CanvasHeight    int           `json:"canvas_height" yaml:"canvas_height"`
	JPEGQuality     int           `json:"jpeg_quality" yaml:"jpeg_quality"`
	MaxAlerts       int           `json:"max_alerts" yaml:"max_alerts"`
	AutoStart       bool          `json:"auto_start" yaml:"auto_start"`
}

type CameraConfig struct {
	Source     string `json:"source" yaml:"source"`
	DeviceID   int    `json:"device_id" yaml:"device_id"`
	Width      int    `json:"width" yaml:"width"`
	Height     int    `json:"height" yaml:"height"`
	FacingMode string `json:"facing_mode" yaml:"facing_mode"`
	FrameRate  int    `json:"frame_rate" yaml:"frame_rate"`
}

type SecurityConfig struct {
	APIKey         string   `json:"-" yaml:"api_key"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int      `json:"rate_limit_burst" yaml:"rate_limit_burst"`
	MaxRequestSize int64    `json:"max_request_size" yaml:"max_request_size"`
	EnableHTTPS    bool     `json:"enable_https" yaml:"enable_https"`
	CertFile       string   `json:"cert_file" yaml:"cert_file"`
	KeyFile        string   `json:"key_file" yaml:"key_file"`
}

type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Topic    string `json:"topic" yaml:"topic"`
	QoS      int    `json:"qos" yaml:"qos"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"password"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			Environment:  "development",
			StaticDir:    "./client",
		},
		ML: MLConfig{
			CacheMax: 256,
		},
		Sampler: SamplerConfig{
			DamageThreshold: 70,
			SampleInterval:  100 * time.Millisecond,
			BatchSize:       3,
			RefreshInterval: 16 * time.Millisecond,
			CanvasWidth:     640,
			CanvasHeight:    480,
			JPEGQuality:     80,
			MaxAlerts:       analysis.MaxAlerts,
		},
		Camera: CameraConfig{
			Source:     "browser",
			Width:      640,
			Height:     480,
			FacingMode: "environment",
			FrameRate:  30,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			RateLimitRPS:   100,
			RateLimitBurst: 200,
			MaxRequestSize: 10 * 1024 * 1024, // 10MB
		},
		MQTT: MQTTConfig{
			ClientID: "damage-watch",
			Topic:    "damage-watch/alerts",
			QoS:      1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig layers defaults, an optional YAML file named by CONFIG_FILE,
// and environment variables (a .env file is honoured when present).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, config); err != nil {
			return nil, err
		}
	}

	applyEnv(config)
	return config, nil
}

func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsInt("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvAsDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvAsDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.Environment = getEnv("ENVIRONMENT", c.Server.Environment)
	c.Server.StaticDir = getEnv("STATIC_DIR", c.Server.StaticDir)

	c.ML.Endpoint = getEnv("DETECTION_ENDPOINT", c.ML.Endpoint)
	c.ML.APIKey = getEnv("DETECTION_API_KEY", c.ML.APIKey)
	c.ML.Timeout = getEnvAsDuration("ML_TIMEOUT", c.ML.Timeout)
	c.ML.CacheTTL = getEnvAsDuration("DETECTION_CACHE_TTL", c.ML.CacheTTL)
	c.ML.CacheMax = getEnvAsInt("DETECTION_CACHE_MAX", c.ML.CacheMax)

	c.Sampler.DamageThreshold = getEnvAsFloat("DAMAGE_THRESHOLD", c.Sampler.DamageThreshold)
	c.Sampler.SampleInterval = getEnvAsDuration("FRAME_PROCESSING_INTERVAL", c.Sampler.SampleInterval)
	c.Sampler.BatchSize = getEnvAsInt("DETECTION_BATCH_SIZE", c.Sampler.BatchSize)
	c.Sampler.RefreshInterval = getEnvAsDuration("REFRESH_INTERVAL", c.Sampler.RefreshInterval)
	c.Sampler.JPEGQuality = getEnvAsInt("JPEG_QUALITY", c.Sampler.JPEGQuality)
	c.Sampler.AutoStart = getEnvAsBool("AUTO_START", c.Sampler.AutoStart)

	c.Camera.Source = getEnv("CAMERA_SOURCE", c.Camera.Source)
	c.Camera.DeviceID = getEnvAsInt("CAMERA_DEVICE_ID", c.Camera.DeviceID)
	c.Camera.Width = getEnvAsInt("CAMERA_WIDTH", c.Camera.Width)
	c.Camera.Height = getEnvAsInt("CAMERA_HEIGHT", c.Camera.Height)
	c.Camera.FacingMode = getEnv("CAMERA_FACING_MODE", c.Camera.FacingMode)
	c.Camera.FrameRate = getEnvAsInt("CAMERA_FRAME_RATE", c.Camera.FrameRate)

	c.Security.APIKey = getEnv("API_KEY", c.Security.APIKey)
	c.Security.AllowedOrigins = getEnvAsStringSlice("ALLOWED_ORIGINS", c.Security.AllowedOrigins)
	c.Security.RateLimitRPS = getEnvAsInt("RATE_LIMIT_RPS", c.Security.RateLimitRPS)
	c.Security.RateLimitBurst = getEnvAsInt("RATE_LIMIT_BURST", c.Security.RateLimitBurst)
	c.Security.MaxRequestSize = getEnvAsInt64("MAX_REQUEST_SIZE", c.Security.MaxRequestSize)
	c.Security.EnableHTTPS = getEnvAsBool("ENABLE_HTTPS", c.Security.EnableHTTPS)
	c.Security.CertFile = getEnv("CERT_FILE", c.Security.CertFile)
	c.Security.KeyFile = getEnv("KEY_FILE", c.Security.KeyFile)

	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Topic = getEnv("MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.QoS = getEnvAsInt("MQTT_QOS", c.MQTT.QoS)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	if c.ML.Endpoint == "" {
		errs = append(errs, "detection endpoint is required")
	}

	if c.ML.APIKey == "" {
		logger.Warn("Detection API key not set, requests will be sent without credentials")
	}

	if c.Sampler.BatchSize < 1 {
		errs = append(errs, "detection batch size must be at least 1")
	}

	if c.Sampler.SampleInterval < 0 {
		errs = append(errs, "frame processing interval must not be negative")
	}

	if c.Sampler.RefreshInterval <= 0 {
		errs = append(errs, "refresh interval must be positive")
	}

	if c.Sampler.DamageThreshold < 0 || c.Sampler.DamageThreshold > 100 {
		errs = append(errs, "damage threshold must be between 0 and 100")
	}

	if c.Sampler.JPEGQuality < 1 || c.Sampler.JPEGQuality > 100 {
		errs = append(errs, "JPEG quality must be between 1 and 100")
	}

	if c.Sampler.MaxAlerts < 1 || c.Sampler.MaxAlerts > analysis.MaxAlerts {
		errs = append(errs, fmt.Sprintf("max alerts must be between 1 and %d", analysis.MaxAlerts))
	}

	if c.Sampler.CanvasWidth < 1 || c.Sampler.CanvasHeight < 1 {
		errs = append(errs, "canvas size must be positive")
	}

	switch c.Camera.Source {
	case "browser", "device":
	default:
		errs = append(errs, fmt.Sprintf("unknown camera source %q", c.Camera.Source))
	}

	if c.Security.MaxRequestSize <= 0 {
		errs = append(errs, "max request size must be positive")
	}

	if c.Security.EnableHTTPS && (c.Security.CertFile == "" || c.Security.KeyFile == "") {
		errs = append(errs, "cert and key files are required when HTTPS is enabled")
	}

	if c.MQTT.Broker != "" && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "MQTT QoS must be 0, 1 or 2")
	}

	if len(errs) > 0 {
		return errors.New("configuration validation failed: " + strings.Join(errs, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// Package config loads runtime settings from defaults, an optional YAML
// file and THREATCAM_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/logger"
)

// EnvPrefix prefixes every environment variable
const EnvPrefix = "THREATCAM_"

// Detection backends
const (
	BackendHTTP = "http"
	BackendONNX = "onnx"
)

// HTTPConfig covers the listeners and CORS policy.
type HTTPConfig struct {
	Addr        string `yaml:"addr" env:"ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	AllowOrigin string `yaml:"allow_origin" env:"ALLOW_ORIGIN"`
}

// CameraConfig selects the device and the acquisition retry policy.
type CameraConfig struct {
	Device        string        `yaml:"device" env:"DEVICE"`
	Width         int           `yaml:"width" env:"WIDTH"`
	Height        int           `yaml:"height" env:"HEIGHT"`
	Attempts      int           `yaml:"attempts" env:"ATTEMPTS"`
	WarmupReads   int           `yaml:"warmup_reads" env:"WARMUP_READS"`
	ReadInterval  time.Duration `yaml:"read_interval" env:"READ_INTERVAL"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
}

// DetectorConfig selects and tunes the detection backend.
type DetectorConfig struct {
	Backend    string        `yaml:"backend" env:"BACKEND"`
	Endpoint   string        `yaml:"endpoint" env:"ENDPOINT"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Labels     string        `yaml:"labels" env:"LABELS"`
	ModelPath  string        `yaml:"model" env:"MODEL"`
	Device     string        `yaml:"device" env:"DEVICE"`
	InputSize  int           `yaml:"input_size" env:"INPUT_SIZE"`
	Confidence float32       `yaml:"confidence" env:"CONFIDENCE"`
	NMS        float32       `yaml:"nms" env:"NMS"`
}

// StreamConfig bounds the MJPEG stream.
type StreamConfig struct {
	MaxClients  int `yaml:"max_clients" env:"MAX_CLIENTS"`
	JPEGQuality int `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
}

// AlertConfig tunes the alert event stream.
type AlertConfig struct {
	StreamInterval time.Duration `yaml:"stream_interval" env:"STREAM_INTERVAL"`
}

// LogConfig sets the logger level and colour.
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	Color bool   `yaml:"color" env:"COLOR"`
}

// Config is the full runtime configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
	Camera   CameraConfig   `yaml:"camera" envPrefix:"CAMERA_"`
	Detector DetectorConfig `yaml:"detector" envPrefix:"DETECTOR_"`
	Stream   StreamConfig   `yaml:"stream" envPrefix:"STREAM_"`
	Alert    AlertConfig    `yaml:"alert" envPrefix:"ALERT_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:        ":5000",
			MetricsAddr: ":9090",
			AllowOrigin: "*",
		},
		Camera: CameraConfig{
			Device:        "0",
			Attempts:      5,
			WarmupReads:   10,
			ReadInterval:  100 * time.Millisecond,
			RetryInterval: time.Second,
		},
		Detector: DetectorConfig{
			Backend:    BackendHTTP,
			Endpoint:   "http://localhost:8000",
			Timeout:    5 * time.Second,
			Device:     "cuda",
			InputSize:  640,
			Confidence: 0.4,
			NMS:        0.45,
		},
		Stream: StreamConfig{
			MaxClients:  1,
			JPEGQuality: 95,
		},
		Alert: AlertConfig{
			StreamInterval: time.Second,
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.HTTP.Addr == "" {
		add("http.addr must not be empty")
	}
	if c.Camera.Device == "" {
		add("camera.device must not be empty")
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		add("camera.width and camera.height must not be negative")
	}
	if c.Camera.Attempts < 1 {
		add("camera.attempts must be at least 1, got %d", c.Camera.Attempts)
	}
	if c.Camera.WarmupReads < 1 {
		add("camera.warmup_reads must be at least 1, got %d", c.Camera.WarmupReads)
	}

	switch c.Detector.Backend {
	case BackendHTTP:
		if c.Detector.Endpoint == "" {
			add("detector.endpoint is required for the http backend")
		}
	case BackendONNX:
		if c.Detector.ModelPath == "" {
			add("detector.model is required for the onnx backend")
		}
		if c.Detector.Labels == "" {
			add("detector.labels is required for the onnx backend")
		}
		if c.Detector.Device != "cuda" && c.Detector.Device != "cpu" {
			add("detector.device must be cuda or cpu, got %q", c.Detector.Device)
		}
	default:
		add("detector.backend must be %q or %q, got %q", BackendHTTP, BackendONNX, c.Detector.Backend)
	}
	if c.Detector.Confidence < 0 || c.Detector.Confidence > 1 {
		add("detector.confidence must be within [0, 1], got %v", c.Detector.Confidence)
	}

	if c.Stream.MaxClients < 1 {
		add("stream.max_clients must be at least 1, got %d", c.Stream.MaxClients)
	}
	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100 {
		add("stream.jpeg_quality must be within [1, 100], got %d", c.Stream.JPEGQuality)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}

	return errors.Join(errs...)
}

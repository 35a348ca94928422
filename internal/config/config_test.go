package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "threatcam.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":5000" {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Stream.MaxClients != 1 || cfg.Stream.JPEGQuality != 95 {
		t.Fatalf("stream = %+v", cfg.Stream)
	}
	if cfg.Camera.Attempts != 5 || cfg.Camera.WarmupReads != 10 {
		t.Fatalf("camera = %+v", cfg.Camera)
	}
}

func TestYAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
camera:
  device: /dev/video2
  width: 640
  height: 480
  retry_interval: 250ms
detector:
  backend: onnx
  model: yolov8n.onnx
  labels: coco.yaml
  device: cpu
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Camera.Device != "/dev/video2" || cfg.Camera.Width != 640 || cfg.Camera.Height != 480 {
		t.Fatalf("camera = %+v", cfg.Camera)
	}
	if cfg.Camera.RetryInterval != 250*time.Millisecond {
		t.Fatalf("retry interval = %v", cfg.Camera.RetryInterval)
	}
	// Unset keys keep their defaults.
	if cfg.Camera.WarmupReads != 10 || cfg.Detector.Confidence != 0.4 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Camera, cfg.Detector)
	}
	if cfg.Detector.Backend != BackendONNX || cfg.Detector.Device != "cpu" {
		t.Fatalf("detector = %+v", cfg.Detector)
	}
}

func TestEnvironmentOverridesYAML(t *testing.T) {
	path := writeFile(t, "stream:\n  max_clients: 2\n")
	t.Setenv("THREATCAM_STREAM_MAX_CLIENTS", "4")
	t.Setenv("THREATCAM_HTTP_ADDR", "127.0.0.1:8080")
	t.Setenv("THREATCAM_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.MaxClients != 4 {
		t.Fatalf("max clients = %d, want 4", cfg.Stream.MaxClients)
	}
	if cfg.HTTP.Addr != "127.0.0.1:8080" {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.Backend = "tflite"
	cfg.Stream.MaxClients = 0
	cfg.Stream.JPEGQuality = 101
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("Validate accepted an invalid config")
	}
	for _, want := range []string{"detector.backend", "stream.max_clients", "stream.jpeg_quality", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestONNXRequiresModelAndLabels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.Backend = BackendONNX

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "detector.model") || !strings.Contains(err.Error(), "detector.labels") {
		t.Fatalf("Validate = %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("Load accepted a missing file")
	}
	if _, err := Load(writeFile(t, "camera: [unterminated")); err == nil {
		t.Fatalf("Load accepted malformed YAML")
	}
	t.Setenv("THREATCAM_STREAM_MAX_CLIENTS", "many")
	if _, err := Load(""); err == nil {
		t.Fatalf("Load accepted a non-numeric environment value")
	}
}

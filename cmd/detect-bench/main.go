// Command detect-bench runs the detection backend on live camera frames
// without the HTTP server and reports inference time and throughput.
package main

import (
	"context"
	"errors"
	"flag"
	"image"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/alert"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/camera"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/camera/opencv"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/config"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/detector"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/detector/onnx"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/logger"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/mjpeg"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/overlay"
)

var (
	configPath  = flag.String("config", "", "YAML config file (optional)")
	device      = flag.String("device", "", "Camera device index, file or stream URL")
	backendName = flag.String("backend", "", "Detection backend: http or onnx")
	endpoint    = flag.String("endpoint", "", "Inference service base URL for the http backend")
	modelPath   = flag.String("model", "", "YOLOv8 ONNX model for the onnx backend")
	labelsPath  = flag.String("labels", "", "Class names file")
	width       = flag.Int("width", 640, "Requested frame width")
	height      = flag.Int("height", 480, "Requested frame height")
	frames      = flag.Int("frames", 0, "Stop after this many frames (0 = until interrupted)")
	reportEvery = flag.Int("report-every", 30, "Log throughput every N frames")
	snapshot    = flag.String("snapshot", "", "Write the last annotated frame to this JPEG file")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
)

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, true)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Bench", "Invalid configuration: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.Camera.Device = *device
		case "backend":
			cfg.Detector.Backend = *backendName
		case "endpoint":
			cfg.Detector.Endpoint = *endpoint
		case "model":
			cfg.Detector.ModelPath = *modelPath
		case "labels":
			cfg.Detector.Labels = *labelsPath
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Bench", "Invalid configuration: %v", err)
	}

	backend, err := newBackend(cfg.Detector)
	if err != nil {
		logger.Fatal("Bench", "Failed to create detection backend: %v", err)
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cam := opencv.New(opencv.Config{Device: cfg.Camera.Device, Width: *width, Height: *height})
	defer cam.Release()

	state := alert.NewState()
	supervisor := camera.NewSupervisor(cam, state, nil, camera.SupervisorConfig{
		Attempts:      cfg.Camera.Attempts,
		WarmupReads:   cfg.Camera.WarmupReads,
		ReadInterval:  cfg.Camera.ReadInterval,
		RetryInterval: cfg.Camera.RetryInterval,
	})
	if err := supervisor.Run(ctx); err != nil {
		logger.Error("Bench", "Camera unavailable: %v", err)
		return
	}

	b := newBench(backend, state)
	b.run(ctx, cam, *frames, *reportEvery)
	b.summary()

	if *snapshot != "" && b.last != nil {
		data, err := mjpeg.Encode(b.last, cfg.Stream.JPEGQuality)
		if err == nil {
			err = os.WriteFile(*snapshot, data, 0o644)
		}
		if err != nil {
			logger.Error("Bench", "Failed to write snapshot: %v", err)
		} else {
			logger.Info("Bench", "Wrote annotated frame to %s", *snapshot)
		}
	}
}

func newBackend(cfg config.DetectorConfig) (detector.Backend, error) {
	var labels detector.LabelTable
	if cfg.Labels != "" {
		var err error
		if labels, err = detector.LoadLabels(cfg.Labels); err != nil {
			return nil, err
		}
	}
	if cfg.Backend == config.BackendONNX {
		return onnx.New(onnx.Config{
			ModelPath:  cfg.ModelPath,
			Device:     cfg.Device,
			InputSize:  cfg.InputSize,
			Confidence: cfg.Confidence,
			NMS:        cfg.NMS,
		}, labels)
	}
	return detector.NewHTTPBackend(detector.HTTPConfig{Endpoint: cfg.Endpoint, Timeout: cfg.Timeout}, labels), nil
}

type bench struct {
	backend   detector.Backend
	state     *alert.State
	start     time.Time
	count     int
	inference time.Duration
	last      *image.RGBA // latest annotated frame
}

func newBench(backend detector.Backend, state *alert.State) *bench {
	return &bench{backend: backend, state: state}
}

func (b *bench) run(ctx context.Context, src camera.Source, limit, reportEvery int) {
	b.start = time.Now()
	windowStart := b.start

	for limit <= 0 || b.count < limit {
		if ctx.Err() != nil {
			logger.Info("Bench", "Interrupted")
			return
		}

		img, ok := src.Read()
		if !ok {
			logger.Warn("Bench", "Camera stopped producing frames")
			return
		}

		t0 := time.Now()
		dets, err := b.backend.Detect(ctx, img)
		elapsed := time.Since(t0)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("Bench", "Detection failed: %v", err)
			return
		}

		b.count++
		b.inference += elapsed
		classified := b.state.Apply(dets)
		b.last = overlay.Draw(img, classified)

		logger.Debug("Bench", "Frame %d: %d detections in %.1f ms (%s)",
			b.count, len(dets), float64(elapsed.Microseconds())/1000, b.state.Snapshot().Message)

		if reportEvery > 0 && b.count%reportEvery == 0 {
			window := time.Since(windowStart)
			logger.Info("Bench", "Frames: %d  FPS: %.1f  Last inference: %.1f ms",
				b.count, float64(reportEvery)/window.Seconds(), float64(elapsed.Microseconds())/1000)
			windowStart = time.Now()
		}
	}
}

func (b *bench) summary() {
	if b.count == 0 {
		logger.Info("Bench", "No frames processed")
		return
	}
	total := time.Since(b.start)
	avg := b.inference / time.Duration(b.count)
	logger.Info("Bench", "Processed %d frames in %s: %.1f FPS, mean inference %.1f ms",
		b.count, total.Round(time.Millisecond), float64(b.count)/total.Seconds(), float64(avg.Microseconds())/1000)
}

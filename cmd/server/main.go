package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/alert"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/camera"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/camera/opencv"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/config"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/detector"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/detector/onnx"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/logger"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/metrics"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/pipeline"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/server"
)

var (
	// Command-line flags; set flags override the config file and environment
	configPath  = flag.String("config", "", "YAML config file (optional)")
	httpAddr    = flag.String("http", "", "HTTP server address (default :5000)")
	metricsAddr = flag.String("metrics", "", "Metrics server address, empty string disables it (default :9090)")
	device      = flag.String("device", "", "Camera device index, file or stream URL (default 0)")
	backend     = flag.String("backend", "", "Detection backend: http or onnx (default http)")
	endpoint    = flag.String("endpoint", "", "Inference service base URL for the http backend")
	modelPath   = flag.String("model", "", "YOLOv8 ONNX model for the onnx backend")
	labelsPath  = flag.String("labels", "", "Class names file (one per line or YAML names)")
	maxClients  = flag.Int("max-clients", 0, "Maximum concurrent /video_feed clients (default 1)")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

// App wires the camera, detection backend and HTTP surface together.
type App struct {
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	cfg           config.Config
	metrics       *metrics.Metrics
	state         *alert.State
	camera        *opencv.Device
	backend       detector.Backend
	supervisor    *camera.Supervisor
	broadcaster   *server.FrameBroadcaster
	httpServer    *http.Server
	metricsServer *http.Server
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, _ := logger.ParseLevel(cfg.Log.Level)
	logger.Init(level, os.Stderr, cfg.Log.Color)

	logger.Info("Main", "Threat camera server starting...")
	logger.Info("Main", "Log level: %s", level)

	app, err := NewApp(cfg)
	if err != nil {
		logger.Fatal("Main", "Failed to create server: %v", err)
	}

	if err := app.Start(); err != nil {
		logger.Fatal("Main", "Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

// loadConfig layers explicitly set flags over the file and environment.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "metrics":
			cfg.HTTP.MetricsAddr = *metricsAddr
		case "device":
			cfg.Camera.Device = *device
		case "backend":
			cfg.Detector.Backend = *backend
		case "endpoint":
			cfg.Detector.Endpoint = *endpoint
		case "model":
			cfg.Detector.ModelPath = *modelPath
		case "labels":
			cfg.Detector.Labels = *labelsPath
		case "max-clients":
			cfg.Stream.MaxClients = *maxClients
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-color":
			cfg.Log.Color = *logColor
		}
	})

	return cfg, cfg.Validate()
}

// newBackend builds the configured detection backend
func newBackend(cfg config.DetectorConfig) (detector.Backend, error) {
	var labels detector.LabelTable
	if cfg.Labels != "" {
		var err error
		labels, err = detector.LoadLabels(cfg.Labels)
		if err != nil {
			return nil, err
		}
		logger.Info("Main", "Loaded %d class labels from %s", len(labels), cfg.Labels)
	}

	switch cfg.Backend {
	case config.BackendONNX:
		return onnx.New(onnx.Config{
			ModelPath:  cfg.ModelPath,
			Device:     cfg.Device,
			InputSize:  cfg.InputSize,
			Confidence: cfg.Confidence,
			NMS:        cfg.NMS,
		}, labels)
	case config.BackendHTTP:
		return detector.NewHTTPBackend(detector.HTTPConfig{
			Endpoint: cfg.Endpoint,
			Timeout:  cfg.Timeout,
		}, labels), nil
	default:
		return nil, fmt.Errorf("unknown detection backend %q", cfg.Backend)
	}
}

// NewApp creates the server components without starting them
func NewApp(cfg config.Config) (*App, error) {
	backend, err := newBackend(cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection backend: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	state := alert.NewState()
	m := metrics.New(state.Online)

	cam := opencv.New(opencv.Config{
		Device: cfg.Camera.Device,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
	})

	supervisor := camera.NewSupervisor(cam, state, m, camera.SupervisorConfig{
		Attempts:      cfg.Camera.Attempts,
		WarmupReads:   cfg.Camera.WarmupReads,
		ReadInterval:  cfg.Camera.ReadInterval,
		RetryInterval: cfg.Camera.RetryInterval,
	})

	p := pipeline.New(cam, backend, state, m, cfg.Stream.JPEGQuality)
	broadcaster := server.NewFrameBroadcaster(p, state, m, cfg.Stream.MaxClients)

	srv := server.NewServer(server.Config{
		AllowOrigin:         cfg.HTTP.AllowOrigin,
		AlertStreamInterval: cfg.Alert.StreamInterval,
	}, state, broadcaster)

	app := &App{
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		metrics:     m,
		state:       state,
		camera:      cam,
		backend:     backend,
		supervisor:  supervisor,
		broadcaster: broadcaster,
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	if cfg.HTTP.MetricsAddr != "" {
		app.metricsServer = m.NewServer(cfg.HTTP.MetricsAddr)
	}
	return app, nil
}

// Start launches the acquisition supervisor, the stream loop and the listeners
func (a *App) Start() error {
	logger.Info("Main", "Starting threat camera server...")
	logger.Info("Main", "  Camera device: %s", a.cfg.Camera.Device)
	logger.Info("Main", "  Detection backend: %s", a.cfg.Detector.Backend)
	logger.Info("Main", "  HTTP server: %s", a.cfg.HTTP.Addr)
	logger.Info("Main", "  Metrics server: %s", a.cfg.HTTP.MetricsAddr)
	logger.Info("Main", "  Max stream clients: %d", a.cfg.Stream.MaxClients)

	if hb, ok := a.backend.(*detector.HTTPBackend); ok {
		ctx, cancel := context.WithTimeout(a.ctx, a.cfg.Detector.Timeout)
		if err := hb.CheckHealth(ctx); err != nil {
			logger.Warn("Main", "Inference service not healthy yet: %v", err)
		} else {
			logger.Info("Main", "Inference service healthy at %s", a.cfg.Detector.Endpoint)
		}
		cancel()
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.supervisor.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Main", "Camera unavailable, staying offline: %v", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		a.broadcaster.Run(a.ctx)
	}()

	if a.metricsServer != nil {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", a.metricsServer.Addr)
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	logger.Info("Main", "Server started successfully")
	return nil
}

// Shutdown stops the loops, closes the listeners and releases the camera
func (a *App) Shutdown() error {
	// Stop the supervisor and the stream loop; open streams end here
	a.cancel()
	a.broadcaster.Stop()
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}

	if closer, ok := a.backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("detection backend: %w", err))
		}
	}
	if err := a.camera.Release(); err != nil {
		errs = append(errs, fmt.Errorf("camera: %w", err))
	}

	return errors.Join(errs...)
}

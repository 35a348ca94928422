package camera

import (
	"context"
	"errors"
	"time"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/alert"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/logger"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/metrics"
)

// ErrCameraUnavailable is returned when every open attempt failed.
var ErrCameraUnavailable = errors.New("camera: device unavailable")

// SupervisorConfig bounds the open/warm-up loop
type SupervisorConfig struct {
	Attempts      int           // Open attempts before giving up (default: 5)
	WarmupReads   int           // Reads per attempt before the attempt fails (default: 10)
	ReadInterval  time.Duration // Sleep after a failed warm-up read (default: 100ms)
	RetryInterval time.Duration // Sleep between attempts (default: 1s)
}

// DefaultSupervisorConfig returns the stock retry constants
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Attempts:      5,
		WarmupReads:   10,
		ReadInterval:  100 * time.Millisecond,
		RetryInterval: 1 * time.Second,
	}
}

// Supervisor brings the camera online once at startup.
type Supervisor struct {
	src     Source
	state   *alert.State
	metrics *metrics.Metrics
	cfg     SupervisorConfig
	log     logger.Scoped
}

// NewSupervisor creates a supervisor for src publishing into state.
// Zero config fields take their defaults; m may be nil.
func NewSupervisor(src Source, state *alert.State, m *metrics.Metrics, cfg SupervisorConfig) *Supervisor {
	def := DefaultSupervisorConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.WarmupReads <= 0 {
		cfg.WarmupReads = def.WarmupReads
	}
	if cfg.ReadInterval == 0 {
		cfg.ReadInterval = def.ReadInterval
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	return &Supervisor{
		src:     src,
		state:   state,
		metrics: m,
		cfg:     cfg,
		log:     logger.For("Supervisor"),
	}
}

// Run tries to open the camera and confirm it produces frames. The first
// successful warm-up read marks the camera online and Run returns nil.
// When all attempts fail the camera stays offline for good and Run returns
// ErrCameraUnavailable. Cancelling ctx aborts the loop with ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if s.metrics != nil {
			s.metrics.OpenAttempts.Add(1)
		}

		if s.src.Open() {
			ok, err := s.warmup(ctx)
			if err != nil {
				return err
			}
			if ok {
				s.state.MarkOnline()
				s.log.Info("Camera initialized and ready (attempt %d/%d)", attempt, s.cfg.Attempts)
				return nil
			}
			s.log.Warn("Camera opened but produced no frame during warm-up (attempt %d/%d)", attempt, s.cfg.Attempts)
		} else {
			s.log.Warn("Camera not open (attempt %d/%d)", attempt, s.cfg.Attempts)
		}

		if err := sleep(ctx, s.cfg.RetryInterval); err != nil {
			return err
		}
	}

	s.log.Error("Camera failed to open after %d attempts. Check if another application is using it.", s.cfg.Attempts)
	return ErrCameraUnavailable
}

// warmup discards frames until one read succeeds.
func (s *Supervisor) warmup(ctx context.Context) (bool, error) {
	for i := 0; i < s.cfg.WarmupReads; i++ {
		if s.metrics != nil {
			s.metrics.WarmupReads.Add(1)
		}
		if _, ok := s.src.Read(); ok {
			s.log.Debug("Warm-up read %d succeeded", i+1)
			return true, nil
		}
		if err := sleep(ctx, s.cfg.ReadInterval); err != nil {
			return false, err
		}
	}
	return false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

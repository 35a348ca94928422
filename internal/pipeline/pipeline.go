// Package pipeline turns camera frames into annotated MJPEG parts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/alert"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/camera"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/detector"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/logger"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/metrics"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/mjpeg"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/overlay"
	"github.com/dj-oyu/threat-cam/streaming-server/pkg/types"
)

var (
	// ErrCameraOffline ends a sequence that starts while the camera is offline.
	ErrCameraOffline = errors.New("pipeline: camera offline")
	// ErrReadFailed ends the sequence after a failed camera read. The camera
	// is marked offline and stays offline.
	ErrReadFailed = errors.New("pipeline: camera read failed")
)

// Ended reports whether err ends the sequence because of the camera rather
// than the detection backend.
func Ended(err error) bool {
	return errors.Is(err, ErrCameraOffline) || errors.Is(err, ErrReadFailed)
}

// Pipeline is a pull-based sequence of encoded frames. Next must not be
// called concurrently: the camera handle is not safe for parallel reads.
type Pipeline struct {
	src     camera.Source
	backend detector.Backend
	state   *alert.State
	metrics *metrics.Metrics
	quality int
	log     logger.Scoped
}

// New creates a pipeline reading src and publishing alerts into state.
// m may be nil; quality <= 0 selects mjpeg.DefaultQuality.
func New(src camera.Source, backend detector.Backend, state *alert.State, m *metrics.Metrics, quality int) *Pipeline {
	if quality <= 0 || quality > 100 {
		quality = mjpeg.DefaultQuality
	}
	return &Pipeline{
		src:     src,
		backend: backend,
		state:   state,
		metrics: m,
		quality: quality,
		log:     logger.For("Pipeline"),
	}
}

// Next reads one frame, runs detection, updates the alert message, draws the
// overlay and returns the frame as a framed MJPEG part.
func (p *Pipeline) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.state.Online() {
		return nil, ErrCameraOffline
	}

	start := time.Now()

	img, ok := p.src.Read()
	if !ok || img == nil {
		p.state.MarkOffline()
		if p.metrics != nil {
			p.metrics.ReadErrors.Add(1)
		}
		p.log.Warn("Camera stopped producing frames, marking offline")
		return nil, ErrReadFailed
	}
	if p.metrics != nil {
		p.metrics.FramesCaptured.Add(1)
	}

	inferStart := time.Now()
	detections, err := p.backend.Detect(ctx, img)
	if p.metrics != nil {
		p.metrics.ObserveInference(time.Since(inferStart))
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.InferenceErrors.Add(1)
		}
		return nil, fmt.Errorf("detect: %w", err)
	}

	classified := p.state.Apply(detections)
	p.observe(classified)

	payload, err := mjpeg.Encode(overlay.Draw(img, classified), p.quality)
	if err != nil {
		if p.metrics != nil {
			p.metrics.EncodeErrors.Add(1)
		}
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	if p.metrics != nil {
		p.metrics.UpdatePipelineLatency(time.Since(start))
	}
	return mjpeg.Part(payload), nil
}

func (p *Pipeline) observe(classified []types.ClassifiedDetection) {
	if p.metrics == nil {
		return
	}
	raised := ""
	for _, d := range classified {
		p.metrics.ObserveDetection(d.Severity.String())
		if d.Severity == types.SeverityCritical {
			raised = d.Label
		}
	}
	if raised != "" {
		p.metrics.ObserveAlert(raised)
		p.log.Debug("Alert raised: %s", alert.Message(raised))
	}
}

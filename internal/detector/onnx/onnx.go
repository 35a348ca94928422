// Package onnx runs a YOLOv8 ONNX export through OpenCV DNN.
package onnx

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/detector"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/logger"
	"github.com/dj-oyu/threat-cam/streaming-server/pkg/types"
)

// Config selects the model and compute target
type Config struct {
	ModelPath  string  // YOLOv8 .onnx export
	Device     string  // "cuda" or "cpu"
	InputSize  int     // Square model input (default: 640)
	Confidence float32 // Minimum class score (default: 0.4)
	NMS        float32 // IoU threshold for non-max suppression (default: 0.45)
}

// Backend is a detector.Backend backed by a gocv.Net. The net is not safe
// for concurrent use, so Detect calls are serialized.
type Backend struct {
	cfg    Config
	labels detector.LabelTable

	mu  sync.Mutex
	net gocv.Net
}

// New loads the model. labels provides class names; its length is taken as
// the class count of the detection head.
func New(cfg Config, labels detector.LabelTable) (*Backend, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("onnx: a label table is required")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = 0.4
	}
	if cfg.NMS <= 0 {
		cfg.NMS = 0.45
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("onnx: failed to load model %s", cfg.ModelPath)
	}

	if strings.EqualFold(cfg.Device, "cuda") {
		if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
			net.Close()
			return nil, fmt.Errorf("onnx: set CUDA backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
			net.Close()
			return nil, fmt.Errorf("onnx: set CUDA target: %w", err)
		}
		logger.Info("Detector", "Model %s loaded on CUDA", cfg.ModelPath)
	} else {
		if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
			net.Close()
			return nil, fmt.Errorf("onnx: set default backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
			net.Close()
			return nil, fmt.Errorf("onnx: set CPU target: %w", err)
		}
		logger.Info("Detector", "Model %s loaded on CPU", cfg.ModelPath)
	}

	return &Backend{cfg: cfg, labels: labels, net: net}, nil
}

// Detect implements detector.Backend
func (b *Backend) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("onnx: convert frame: %w", err)
	}
	defer frame.Close()

	size := image.Pt(b.cfg.InputSize, b.cfg.InputSize)
	// Mats are BGR; the model expects RGB.
	blob := gocv.BlobFromImage(frame, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	b.mu.Lock()
	b.net.SetInput(blob, "")
	out := b.net.Forward("")
	b.mu.Unlock()
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("onnx: read output: %w", err)
	}
	anchors, err := detector.YOLOv8Anchors(out.Size(), len(b.labels))
	if err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}

	candidates, err := detector.DecodeYOLOv8(detector.YOLOOutput{
		Data:    data,
		Classes: len(b.labels),
		Anchors: anchors,
		ScaleX:  float64(frame.Cols()) / float64(b.cfg.InputSize),
		ScaleY:  float64(frame.Rows()) / float64(b.cfg.InputSize),
	}, b.cfg.Confidence)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	rects := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		rects[i] = c.Rect
		scores[i] = c.Score
	}
	keep := gocv.NMSBoxes(rects, scores, b.cfg.Confidence, b.cfg.NMS)

	detections := make([]types.Detection, 0, len(keep))
	for _, idx := range keep {
		c := candidates[idx]
		detections = append(detections, types.Detection{
			ClassID:    c.ClassID,
			Label:      b.labels.Name(c.ClassID),
			Confidence: float64(c.Score),
			Box: types.BoundingBox{
				X1: c.Rect.Min.X,
				Y1: c.Rect.Min.Y,
				X2: c.Rect.Max.X,
				Y2: c.Rect.Max.Y,
			},
		})
	}
	return detections, nil
}

// Close frees the network
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.net.Close()
}

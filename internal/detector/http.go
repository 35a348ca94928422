package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/dj-oyu/threat-cam/streaming-server/pkg/types"
)

// HTTPConfig configures the inference service client
type HTTPConfig struct {
	Endpoint    string        // Base URL of the inference service
	Timeout     time.Duration // Per-request timeout (default: 5s)
	JPEGQuality int           // Upload quality (default: 90)
}

// HTTPBackend sends frames to an external inference service that hosts the
// model. Frames are posted to <endpoint>/predict as a multipart JPEG upload.
type HTTPBackend struct {
	endpoint string
	quality  int
	labels   LabelTable
	client   *http.Client
}

// NewHTTPBackend creates a client for cfg. labels resolves class ids when
// the service does not send label names; it may be nil.
func NewHTTPBackend(cfg HTTPConfig, labels LabelTable) *HTTPBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	return &HTTPBackend{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		quality:  cfg.JPEGQuality,
		labels:   labels,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

type predictResponse struct {
	Detections []predictDetection `json:"detections"`
}

type predictDetection struct {
	ClassID    int        `json:"class_id"`
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"` // x1, y1, x2, y2 in pixels
}

// Detect implements Backend
func (b *HTTPBackend) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	var frame bytes.Buffer
	if err := jpeg.Encode(&frame, img, &jpeg.Options{Quality: b.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(frame.Bytes()); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/predict", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference failed with status %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return lo.Map(result.Detections, func(d predictDetection, _ int) types.Detection {
		label := d.Label
		if label == "" {
			label = b.labels.Name(d.ClassID)
		}
		return types.Detection{
			ClassID:    d.ClassID,
			Label:      label,
			Confidence: d.Confidence,
			Box: types.BoundingBox{
				X1: int(d.Box[0]),
				Y1: int(d.Box[1]),
				X2: int(d.Box[2]),
				Y2: int(d.Box[3]),
			},
		}
	}), nil
}

// CheckHealth probes <endpoint>/health
func (b *HTTPBackend) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

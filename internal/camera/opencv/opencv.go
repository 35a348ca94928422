// Package opencv implements camera.Source on top of an OpenCV VideoCapture.
package opencv

import (
	"fmt"
	"image"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/logger"
)

// Config selects the capture device
type Config struct {
	Device string // Device index ("0") or a file path / stream URL
	Width  int    // Requested frame width; 0 keeps the driver default
	Height int    // Requested frame height; 0 keeps the driver default
}

// Device is an OpenCV capture device. The handle is opened lazily by Open
// and kept until Release; reads are serialized by an internal mutex.
type Device struct {
	cfg Config

	mu       sync.Mutex
	capture  *gocv.VideoCapture
	mat      gocv.Mat
	released bool
}

// New returns a Device for cfg without touching the hardware
func New(cfg Config) *Device {
	if cfg.Device == "" {
		cfg.Device = "0"
	}
	return &Device{cfg: cfg, mat: gocv.NewMat()}
}

// deviceArg turns "0" into the integer index gocv expects for local cameras.
func deviceArg(device string) interface{} {
	if idx, err := strconv.Atoi(device); err == nil {
		return idx
	}
	return device
}

// Open reports whether the capture handle is open, creating it on first use.
func (d *Device) Open() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return false
	}
	if d.capture == nil {
		capture, err := gocv.OpenVideoCapture(deviceArg(d.cfg.Device))
		if err != nil {
			logger.Warn("Camera", "Failed to open device %s: %v", d.cfg.Device, err)
			return false
		}
		if d.cfg.Width > 0 {
			capture.Set(gocv.VideoCaptureFrameWidth, float64(d.cfg.Width))
		}
		if d.cfg.Height > 0 {
			capture.Set(gocv.VideoCaptureFrameHeight, float64(d.cfg.Height))
		}
		d.capture = capture
	}
	return d.capture.IsOpened()
}

// Read grabs the next frame and converts it to an image.Image.
func (d *Device) Read() (image.Image, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil || d.released {
		return nil, false
	}
	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, false
	}
	img, err := d.mat.ToImage()
	if err != nil {
		logger.Warn("Camera", "Frame conversion failed: %v", err)
		return nil, false
	}
	return img, true
}

// Release closes the capture handle if one was ever created.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil
	}
	d.released = true

	var err error
	if d.capture != nil {
		logger.Info("Camera", "Releasing camera resources...")
		if cerr := d.capture.Close(); cerr != nil {
			err = fmt.Errorf("close capture: %w", cerr)
		}
		d.capture = nil
	}
	if cerr := d.mat.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close frame buffer: %w", cerr)
	}
	return err
}

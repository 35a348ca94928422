// Package camera wraps the capture device and brings it online.
package camera

import "image"

// Source is a video capture device. Implementations are not safe for
// concurrent reads; callers serialize access.
type Source interface {
	// Open reports whether the device is open, opening it if needed.
	Open() bool
	// Read returns the next frame. ok is false on failure or end of stream.
	// The caller owns the frame and may draw on it; later reads never
	// return the same image.
	Read() (img image.Image, ok bool)
	// Release frees the device. It is safe to call more than once.
	Release() error
}

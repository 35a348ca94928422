// Package camtest provides a scripted camera.Source for tests.
package camtest

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
)

// Source is a camera.Source whose Open and Read results follow a script.
// Once a script runs out, its last entry repeats; an empty Opens script
// always opens and an empty Reads script always succeeds.
type Source struct {
	mu       sync.Mutex
	opens    []bool
	reads    []bool
	frame    image.Image
	openN    int
	readN    int
	released int
}

// New returns a Source following the given scripts, producing a fresh copy
// of frame on each successful read (a 64x48 gray image when frame is nil).
func New(opens, reads []bool, frame image.Image) *Source {
	if frame == nil {
		frame = Gray(64, 48)
	}
	return &Source{opens: opens, reads: reads, frame: frame}
}

// Gray returns a uniform mid-gray RGBA image
func Gray(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	return img
}

func step(script []bool, n int, fallback bool) bool {
	if len(script) == 0 {
		return fallback
	}
	if n >= len(script) {
		return script[len(script)-1]
	}
	return script[n]
}

func (s *Source) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := step(s.opens, s.openN, true)
	s.openN++
	return ok
}

func (s *Source) Read() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := step(s.reads, s.readN, true)
	s.readN++
	if !ok {
		return nil, false
	}
	b := s.frame.Bounds()
	img := image.NewRGBA(b)
	draw.Draw(img, b, s.frame, b.Min, draw.Src)
	return img, true
}

func (s *Source) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	return nil
}

// Opens returns how many times Open was called
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openN
}

// Reads returns how many times Read was called
func (s *Source) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readN
}

// Released returns how many times Release was called
func (s *Source) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

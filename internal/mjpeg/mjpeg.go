// Package mjpeg frames JPEG images for multipart/x-mixed-replace streaming.
package mjpeg

import (
	"bytes"
	"image"
	"image/jpeg"
	"strconv"
)

const (
	// Boundary separates parts in the stream
	Boundary = "frame"
	// ContentType is the response content type for a stream
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
	// DefaultQuality matches the usual OpenCV imencode default
	DefaultQuality = 95
)

// Encode compresses img as JPEG
func Encode(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Part frames one JPEG payload:
//
//	--frame\r\nContent-Type: image/jpeg\r\nContent-Length: <n>\r\n\r\n<payload>\r\n
func Part(payload []byte) []byte {
	length := strconv.Itoa(len(payload))

	var buf bytes.Buffer
	buf.Grow(len(payload) + 64)
	buf.WriteString("--" + Boundary + "\r\n")
	buf.WriteString("Content-Type: image/jpeg\r\n")
	buf.WriteString("Content-Length: " + length + "\r\n\r\n")
	buf.Write(payload)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

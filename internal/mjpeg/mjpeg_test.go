package mjpeg

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"strconv"
	"testing"
)

func TestPartLayout(t *testing.T) {
	got := Part([]byte("abc"))
	want := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 3\r\n\r\nabc\r\n"
	if string(got) != want {
		t.Fatalf("Part = %q, want %q", got, want)
	}
}

func TestContentLengthMatchesPayload(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	var stream bytes.Buffer
	var payloads [][]byte
	for q := 50; q <= 90; q += 20 {
		data, err := Encode(img, q)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		payloads = append(payloads, data)
		stream.Write(Part(data))
	}
	// Live streams never close; terminate so the reader sees a clean EOF.
	stream.WriteString("--" + Boundary + "--\r\n")

	reader := multipart.NewReader(&stream, Boundary)
	for i := 0; ; i++ {
		part, err := reader.NextPart()
		if err == io.EOF {
			if i != len(payloads) {
				t.Fatalf("read %d parts, want %d", i, len(payloads))
			}
			return
		}
		if err != nil {
			t.Fatalf("NextPart %d: %v", i, err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Fatalf("part %d content type = %q", i, ct)
		}
		body, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("read part %d: %v", i, err)
		}
		n, err := strconv.Atoi(part.Header.Get("Content-Length"))
		if err != nil {
			t.Fatalf("part %d content length: %v", i, err)
		}
		if n != len(body) || !bytes.Equal(body, payloads[i]) {
			t.Fatalf("part %d: content-length %d, body %d bytes", i, n, len(body))
		}
		if _, err := jpeg.Decode(bytes.NewReader(body)); err != nil {
			t.Fatalf("part %d is not a JPEG: %v", i, err)
		}
	}
}

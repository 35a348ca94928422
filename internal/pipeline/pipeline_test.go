package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"strconv"
	"strings"
	"testing"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/alert"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/camera/camtest"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/detector"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/metrics"
	"github.com/dj-oyu/threat-cam/streaming-server/pkg/types"
)

// scripted returns one detection list per call, then empty lists.
func scripted(frames ...[]types.Detection) detector.Backend {
	i := 0
	return detector.BackendFunc(func(ctx context.Context, img image.Image) ([]types.Detection, error) {
		if i >= len(frames) {
			return nil, nil
		}
		d := frames[i]
		i++
		return d, nil
	})
}

func box() types.BoundingBox {
	return types.BoundingBox{X1: 4, Y1: 14, X2: 40, Y2: 40}
}

func online() *alert.State {
	s := alert.NewState()
	s.MarkOnline()
	return s
}

// parsePart splits a framed part into its Content-Length and payload.
func parsePart(t *testing.T, part []byte) (int, []byte) {
	t.Helper()
	text := string(part)
	if !strings.HasPrefix(text, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: ") {
		t.Fatalf("unexpected part header: %q", text[:min(len(text), 80)])
	}
	headerEnd := strings.Index(text, "\r\n\r\n")
	if headerEnd < 0 {
		t.Fatalf("part has no header terminator")
	}
	lengthLine := text[len("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: "):headerEnd]
	n, err := strconv.Atoi(lengthLine)
	if err != nil {
		t.Fatalf("content length %q: %v", lengthLine, err)
	}
	payload := part[headerEnd+4:]
	if !bytes.HasSuffix(payload, []byte("\r\n")) {
		t.Fatalf("part does not end with CRLF")
	}
	return n, payload[:len(payload)-2]
}

func TestScenarioGunThenClear(t *testing.T) {
	state := online()
	src := camtest.New(nil, nil, nil)
	m := metrics.New(state.Online)
	p := New(src, scripted(
		[]types.Detection{{Label: "gun", Confidence: 0.8, Box: box()}},
		nil,
	), state, m, 0)

	if _, err := p.Next(context.Background()); err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	if got := state.Snapshot().Message; got != "Gun detected!" {
		t.Fatalf("after frame 1 message = %q, want %q", got, "Gun detected!")
	}

	if _, err := p.Next(context.Background()); err != nil {
		t.Fatalf("frame 2: %v", err)
	}
	if got := state.Snapshot().Message; got != alert.DefaultMessage {
		t.Fatalf("after frame 2 message = %q, want default", got)
	}
	if got := m.FramesCaptured.Load(); got != 2 {
		t.Fatalf("frames captured = %d, want 2", got)
	}
}

func decodeFrame(t *testing.T, part []byte) image.Image {
	t.Helper()
	_, payload := parsePart(t, part)
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("payload is not a JPEG: %v", err)
	}
	return img
}

func TestBoxesDoNotCarryOverFrames(t *testing.T) {
	state := online()
	p := New(camtest.New(nil, nil, nil), scripted(
		[]types.Detection{{Label: "gun", Box: box()}},
		nil,
	), state, nil, 0)

	first, err := p.Next(context.Background())
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	second, err := p.Next(context.Background())
	if err != nil {
		t.Fatalf("frame 2: %v", err)
	}

	// (20, 15) lies on the top edge of the box.
	r, g, _, _ := decodeFrame(t, first).At(20, 15).RGBA()
	if r>>8 < g>>8+80 {
		t.Fatalf("frame 1 edge pixel r=%d g=%d, want red", r>>8, g>>8)
	}
	r, g, _, _ = decodeFrame(t, second).At(20, 15).RGBA()
	if diff(r>>8, 128) > 16 || diff(g>>8, 128) > 16 {
		t.Fatalf("frame 2 edge pixel r=%d g=%d, want gray", r>>8, g>>8)
	}
}

func diff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestLastCriticalDetectionWins(t *testing.T) {
	state := online()
	p := New(camtest.New(nil, nil, nil), scripted([]types.Detection{
		{Label: "violence", Box: box()},
		{Label: "cell phone", Box: box()},
		{Label: "weapon", Box: box()},
	}), state, nil, 0)

	if _, err := p.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got := state.Snapshot().Message; got != "Weapon detected!" {
		t.Fatalf("message = %q, want %q", got, "Weapon detected!")
	}
}

func TestPartContentLengthMatchesPayload(t *testing.T) {
	state := online()
	p := New(camtest.New(nil, nil, nil), scripted([]types.Detection{{Label: "cell phone", Box: box()}}), state, nil, 80)

	part, err := p.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	n, payload := parsePart(t, part)
	if n != len(payload) {
		t.Fatalf("Content-Length %d, payload %d bytes", n, len(payload))
	}
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("payload is not a JPEG: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Fatalf("frame size = %v", img.Bounds())
	}
}

func TestOfflineBeforeFirstFrame(t *testing.T) {
	state := alert.NewState()
	src := camtest.New(nil, nil, nil)
	p := New(src, scripted(), state, nil, 0)

	_, err := p.Next(context.Background())
	if !errors.Is(err, ErrCameraOffline) {
		t.Fatalf("Next error = %v, want ErrCameraOffline", err)
	}
	if src.Reads() != 0 {
		t.Fatalf("camera read %d times while offline", src.Reads())
	}
}

func TestReadFailureIsTerminal(t *testing.T) {
	state := online()
	src := camtest.New(nil, []bool{true, false, true}, nil)
	m := metrics.New(state.Online)
	p := New(src, scripted(), state, m, 0)

	if _, err := p.Next(context.Background()); err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	_, err := p.Next(context.Background())
	if !errors.Is(err, ErrReadFailed) || !Ended(err) {
		t.Fatalf("frame 2 error = %v, want ErrReadFailed", err)
	}
	if state.Status() != types.CameraOffline {
		t.Fatalf("status = %q, want offline", state.Status())
	}

	// The next read would succeed, but the camera is never revisited.
	_, err = p.Next(context.Background())
	if !errors.Is(err, ErrCameraOffline) {
		t.Fatalf("frame 3 error = %v, want ErrCameraOffline", err)
	}
	if src.Reads() != 2 {
		t.Fatalf("reads = %d, want 2", src.Reads())
	}
	if state.MarkOnline() {
		t.Fatalf("camera went back online after a read failure")
	}
	if got := m.ReadErrors.Load(); got != 1 {
		t.Fatalf("read errors = %d, want 1", got)
	}
}

func TestBackendErrorAbortsWithoutStatusChange(t *testing.T) {
	state := online()
	boom := errors.New("cuda out of memory")
	p := New(camtest.New(nil, nil, nil), detector.BackendFunc(func(ctx context.Context, img image.Image) ([]types.Detection, error) {
		return nil, boom
	}), state, nil, 0)

	_, err := p.Next(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Next error = %v, want backend error", err)
	}
	if Ended(err) {
		t.Fatalf("backend error reported as a camera end")
	}
	if !state.Online() {
		t.Fatalf("backend error changed camera status")
	}
}

func TestCancelledContext(t *testing.T) {
	state := online()
	src := camtest.New(nil, nil, nil)
	p := New(src, scripted(), state, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next error = %v, want context.Canceled", err)
	}
	if src.Reads() != 0 {
		t.Fatalf("camera read after cancel")
	}
}

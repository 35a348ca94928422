package main

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/alert"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/camera/camtest"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/detector"
	"github.com/dj-oyu/threat-cam/streaming-server/pkg/types"
)

func TestBenchStopsAtFrameLimit(t *testing.T) {
	src := camtest.New(nil, nil, nil)
	state := alert.NewState()
	b := newBench(detector.BackendFunc(func(ctx context.Context, img image.Image) ([]types.Detection, error) {
		return []types.Detection{{Label: "weapon", Box: types.BoundingBox{X1: 2, Y1: 12, X2: 30, Y2: 30}}}, nil
	}), state)

	b.run(context.Background(), src, 5, 2)

	if b.count != 5 || src.Reads() != 5 {
		t.Fatalf("count = %d, reads = %d, want 5", b.count, src.Reads())
	}
	if b.last == nil {
		t.Fatalf("no annotated frame kept")
	}
	if got := state.Snapshot().Message; got != "Weapon detected!" {
		t.Fatalf("message = %q", got)
	}
}

func TestBenchStopsOnReadFailureAndBackendError(t *testing.T) {
	ok := detector.BackendFunc(func(ctx context.Context, img image.Image) ([]types.Detection, error) {
		return nil, nil
	})
	b := newBench(ok, alert.NewState())
	b.run(context.Background(), camtest.New(nil, []bool{true, true, false}, nil), 0, 0)
	if b.count != 2 {
		t.Fatalf("count after read failure = %d, want 2", b.count)
	}

	failing := detector.BackendFunc(func(ctx context.Context, img image.Image) ([]types.Detection, error) {
		return nil, errors.New("service down")
	})
	b = newBench(failing, alert.NewState())
	b.run(context.Background(), camtest.New(nil, nil, nil), 10, 0)
	if b.count != 0 {
		t.Fatalf("count after backend error = %d, want 0", b.count)
	}
}

func TestBenchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := camtest.New(nil, nil, nil)
	b := newBench(detector.BackendFunc(func(ctx context.Context, img image.Image) ([]types.Detection, error) {
		return nil, nil
	}), alert.NewState())
	b.run(ctx, src, 0, 0)
	if src.Reads() != 0 {
		t.Fatalf("read %d frames after cancel", src.Reads())
	}
}

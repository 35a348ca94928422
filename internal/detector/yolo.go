package detector

import (
	"fmt"
	"image"
)

// Candidate is one pre-NMS box decoded from a YOLO output tensor.
type Candidate struct {
	ClassID int
	Score   float32
	Rect    image.Rectangle
}

// YOLOOutput describes a YOLOv8 detection head output of shape
// [1, 4+classes, anchors], laid out row-major.
type YOLOOutput struct {
	Data    []float32
	Classes int
	Anchors int
	// ScaleX and ScaleY map model input pixels back to frame pixels.
	ScaleX float64
	ScaleY float64
}

// YOLOv8Anchors checks an output tensor shape against the class count and
// returns its anchor count. The shape must be [1, 4+classes, anchors].
func YOLOv8Anchors(dims []int, classes int) (int, error) {
	if len(dims) != 3 {
		return 0, fmt.Errorf("yolo: unexpected output rank %d", len(dims))
	}
	if dims[0] != 1 {
		return 0, fmt.Errorf("yolo: output batch %d, want 1", dims[0])
	}
	if dims[1] != 4+classes {
		return 0, fmt.Errorf("yolo: output has %d rows, label table implies %d", dims[1], 4+classes)
	}
	if dims[2] <= 0 {
		return 0, fmt.Errorf("yolo: output has no anchors")
	}
	return dims[2], nil
}

// DecodeYOLOv8 returns the best-scoring class of every anchor whose score
// reaches threshold. Boxes are converted from centre/size to corners and
// scaled into frame coordinates.
func DecodeYOLOv8(out YOLOOutput, threshold float32) ([]Candidate, error) {
	rows := 4 + out.Classes
	if out.Classes <= 0 || out.Anchors <= 0 {
		return nil, fmt.Errorf("yolo: invalid output shape [%d, %d]", rows, out.Anchors)
	}
	if len(out.Data) < rows*out.Anchors {
		return nil, fmt.Errorf("yolo: output has %d values, want %d", len(out.Data), rows*out.Anchors)
	}

	at := func(row, anchor int) float32 { return out.Data[row*out.Anchors+anchor] }

	var candidates []Candidate
	for a := 0; a < out.Anchors; a++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < out.Classes; c++ {
			if s := at(4+c, a); s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < threshold {
			continue
		}

		cx, cy, w, h := float64(at(0, a)), float64(at(1, a)), float64(at(2, a)), float64(at(3, a))
		x1 := int((cx - w/2) * out.ScaleX)
		y1 := int((cy - h/2) * out.ScaleY)
		x2 := int((cx + w/2) * out.ScaleX)
		y2 := int((cy + h/2) * out.ScaleY)

		candidates = append(candidates, Candidate{
			ClassID: best,
			Score:   bestScore,
			Rect:    image.Rect(x1, y1, x2, y2),
		})
	}
	return candidates, nil
}

package faces

import (
	"fmt"
	"image"
	"math"

	"github.com/andresmejia3/facedetectd/internal/vision"
)

const (
	// ConfidenceThreshold is the minimum locator score for a detection.
	ConfidenceThreshold = 0.98
	// locatorRowLen is the width of one output row:
	// (image id, class id, confidence, left, top, right, bottom).
	locatorRowLen = 7
)

// LocatorBlob is the input blob of the SSD face locator.
var LocatorBlob = vision.BlobParams{
	Scale: 1.0,
	Size:  image.Pt(128*8, 96*8),
	Mean:  [3]float64{104, 177, 123},
}

// NeuralDetector runs the locator network over the full image. Its reference
// frame is always the original image; the scale factor is ignored.
type NeuralDetector struct {
	locator vision.Network
}

func NewNeuralDetector(locator vision.Network) *NeuralDetector {
	return &NeuralDetector{locator: locator}
}

func (d *NeuralDetector) Detect(img vision.Image, _ float64) (Detection, error) {
	if d.locator == nil {
		return Detection{}, ErrNoDetector
	}
	frame := img.Size()

	out, err := d.locator.Forward(img, LocatorBlob)
	if err != nil {
		return Detection{}, fmt.Errorf("locator forward: %w", err)
	}
	return Detection{Rects: ParseLocatorOutput(out, frame, ConfidenceThreshold), Frame: frame}, nil
}

// ParseLocatorOutput reads locator rows, scales their normalized corners to
// frame, clamps them to the frame and keeps rows scoring above threshold
// that still span a positive area.
func ParseLocatorOutput(t vision.Tensor, frame image.Point, threshold float32) []image.Rectangle {
	w, h := float64(frame.X), float64(frame.Y)
	var rects []image.Rectangle

	for i := 0; i+locatorRowLen <= len(t.Data); i += locatorRowLen {
		row := t.Data[i : i+locatorRowLen]
		confidence := row[2]

		left := clamp(float64(row[3])*w, 0, w-1)
		top := clamp(float64(row[4])*h, 0, h-1)
		right := clamp(float64(row[5])*w, 0, w-1)
		bottom := clamp(float64(row[6])*h, 0, h-1)

		if !(confidence > threshold && left < right && top < bottom) {
			continue
		}
		x, y := roundInt(left), roundInt(top)
		rw, rh := roundInt(right-left), roundInt(bottom-top)
		if rw <= 0 || rh <= 0 {
			continue
		}
		rects = append(rects, image.Rect(x, y, x+rw, y+rh))
	}
	return rects
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

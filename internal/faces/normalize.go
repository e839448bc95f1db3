package faces

import (
	"image"
	"math"

	"github.com/andresmejia3/facedetectd/internal/types"
)

// Normalize converts pixel rectangles into fractions of frame, clamped so that
// every rectangle stays inside the unit square.
func Normalize(rects []image.Rectangle, frame image.Point) []types.Rect {
	if frame.X <= 0 || frame.Y <= 0 {
		return nil
	}
	fw, fh := float64(frame.X), float64(frame.Y)

	out := make([]types.Rect, 0, len(rects))
	for _, r := range rects {
		x := unit(float64(r.Min.X) / fw)
		y := unit(float64(r.Min.Y) / fh)
		out = append(out, types.Rect{
			X:      x,
			Y:      y,
			Width:  math.Min(math.Max(float64(r.Dx())/fw, 0), 1-x),
			Height: math.Min(math.Max(float64(r.Dy())/fh, 0), 1-y),
		})
	}
	return out
}

func unit(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

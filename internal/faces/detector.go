package faces

import (
	"fmt"
	"image"

	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/vision"
)

// Detection is the raw output of one detection pass: pixel rectangles and the
// size of the frame they are expressed in.
type Detection struct {
	Rects []image.Rectangle
	Frame image.Point
}

// Detector is implemented by both detection paths.
type Detector interface {
	Detect(img vision.Image, scale float64) (Detection, error)
}

// SelectStrategy picks the detection path from the loaded resources. The
// locator network wins over the cascades.
func SelectStrategy(res *Resources) types.Strategy {
	switch {
	case res.Loaded(types.LocatorNet):
		return types.StrategyNeural
	case res.Loaded(types.FrontalCascade):
		return types.StrategyClassical
	default:
		return types.StrategyNone
	}
}

// guard runs fn and turns a panic raised inside the backend into an error.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: backend fault: %v", op, r)
		}
	}()
	return fn()
}

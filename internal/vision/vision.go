// Package vision is the boundary between the face orchestration core and the
// image-processing / inference library that does the pixel and tensor work.
package vision

import (
	"errors"
	"image"
)

// ErrEmptyImage is returned when a decode or transform yields no pixels.
var ErrEmptyImage = errors.New("empty image")

// Image is an opaque decoded image owned by the backend. Callers must Close it.
type Image interface {
	Size() image.Point
	Close() error
}

// CascadeParams are the tuning constants of one multi-scale cascade search.
type CascadeParams struct {
	ScaleStep    float64
	MinNeighbors int
	MinSize      image.Point
}

// Cascade is a loaded classical sliding-window detector.
type Cascade interface {
	DetectMultiScale(gray Image, p CascadeParams) ([]image.Rectangle, error)
	Close() error
}

// BlobParams describe how an image is turned into a network input blob.
type BlobParams struct {
	Scale  float64
	Size   image.Point
	Mean   [3]float64
	SwapRB bool
}

// Tensor is a flattened network output in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Network is a loaded neural network.
type Network interface {
	Forward(img Image, p BlobParams) (Tensor, error)
	Close() error
}

// Toolkit holds the pixel operations the detectors rely on.
type Toolkit interface {
	Decode(path string) (Image, error)
	// PrepareGray converts to grayscale, resizes to size with linear
	// interpolation and equalizes the histogram.
	PrepareGray(img Image, size image.Point) (Image, error)
	Resize(img Image, size image.Point) (Image, error)
	Crop(img Image, r image.Rectangle) (Image, error)
}

// Backend loads model resources and exposes the pixel toolkit.
type Backend interface {
	Toolkit
	LoadCascade(path string) (Cascade, error)
	LoadCaffe(prototxt, model string) (Network, error)
	LoadTorch(model string) (Network, error)
}

// Package opencv implements vision.Backend on top of gocv.
package opencv

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/andresmejia3/facedetectd/internal/vision"
	"gocv.io/x/gocv"
)

// cascadeScaleImage mirrors OpenCV's CASCADE_SCALE_IMAGE flag.
const cascadeScaleImage = 2

type mat struct {
	m gocv.Mat
}

func (m *mat) Size() image.Point { return image.Pt(m.m.Cols(), m.m.Rows()) }
func (m *mat) Close() error      { return m.m.Close() }

func unwrap(img vision.Image) (gocv.Mat, error) {
	m, ok := img.(*mat)
	if !ok || m == nil {
		return gocv.Mat{}, fmt.Errorf("opencv: foreign image type %T", img)
	}
	if m.m.Empty() {
		return gocv.Mat{}, vision.ErrEmptyImage
	}
	return m.m, nil
}

// Backend is the gocv implementation of vision.Backend.
type Backend struct {
	NetBackend gocv.NetBackendType
	NetTarget  gocv.NetTargetType
}

// New returns a Backend running networks on the default backend and the CPU.
func New() *Backend {
	return &Backend{
		NetBackend: gocv.NetBackendDefault,
		NetTarget:  gocv.NetTargetCPU,
	}
}

// Decode reads a colour image from disk.
func (b *Backend) Decode(path string) (vision.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	m := gocv.IMRead(path, gocv.IMReadColor)
	if m.Empty() {
		m.Close()
		return nil, fmt.Errorf("decode %s: %w", path, vision.ErrEmptyImage)
	}
	return &mat{m: m}, nil
}

func (b *Backend) PrepareGray(img vision.Image, size image.Point) (vision.Image, error) {
	src, err := unwrap(img)
	if err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("prepare gray: invalid size %v", size)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(gray, &small, size, 0, 0, gocv.InterpolationLinear)

	equalized := gocv.NewMat()
	gocv.EqualizeHist(small, &equalized)
	if equalized.Empty() {
		equalized.Close()
		return nil, vision.ErrEmptyImage
	}
	return &mat{m: equalized}, nil
}

func (b *Backend) Resize(img vision.Image, size image.Point) (vision.Image, error) {
	src, err := unwrap(img)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	gocv.Resize(src, &dst, size, 0, 0, gocv.InterpolationLinear)
	if dst.Empty() {
		dst.Close()
		return nil, vision.ErrEmptyImage
	}
	return &mat{m: dst}, nil
}

// Crop copies the part of img inside r. The region is clipped to the image bounds.
func (b *Backend) Crop(img vision.Image, r image.Rectangle) (vision.Image, error) {
	src, err := unwrap(img)
	if err != nil {
		return nil, err
	}
	r = r.Intersect(image.Rect(0, 0, src.Cols(), src.Rows()))
	if r.Empty() {
		return nil, fmt.Errorf("crop %v: %w", r, vision.ErrEmptyImage)
	}
	region := src.Region(r)
	defer region.Close()
	return &mat{m: region.Clone()}, nil
}

type cascade struct {
	c gocv.CascadeClassifier
}

// LoadCascade loads a Haar/LBP cascade definition.
func (b *Backend) LoadCascade(path string) (vision.Cascade, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("could not load classifier cascade %q", path)
	}
	return &cascade{c: c}, nil
}

func (c *cascade) DetectMultiScale(gray vision.Image, p vision.CascadeParams) ([]image.Rectangle, error) {
	m, err := unwrap(gray)
	if err != nil {
		return nil, err
	}
	return c.c.DetectMultiScaleWithParams(m, p.ScaleStep, p.MinNeighbors, cascadeScaleImage, p.MinSize, image.Point{}), nil
}

func (c *cascade) Close() error { return c.c.Close() }

type network struct {
	net gocv.Net
}

// LoadCaffe loads a Caffe network from its deploy definition and weights.
func (b *Backend) LoadCaffe(prototxt, model string) (vision.Network, error) {
	for _, p := range []string{prototxt, model} {
		if _, err := os.Stat(p); err != nil {
			return nil, err
		}
	}
	net := gocv.ReadNetFromCaffe(prototxt, model)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("failed to load caffe model (prototxt=%s, model=%s)", prototxt, model)
	}
	return b.prepare(net), nil
}

// LoadTorch loads a serialized Torch7 network.
func (b *Backend) LoadTorch(model string) (vision.Network, error) {
	if _, err := os.Stat(model); err != nil {
		return nil, err
	}
	net := gocv.ReadNetFromTorch(model)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("failed to load torch model %s", model)
	}
	return b.prepare(net), nil
}

func (b *Backend) prepare(net gocv.Net) *network {
	net.SetPreferableBackend(b.NetBackend)
	net.SetPreferableTarget(b.NetTarget)
	return &network{net: net}
}

func (n *network) Forward(img vision.Image, p vision.BlobParams) (vision.Tensor, error) {
	src, err := unwrap(img)
	if err != nil {
		return vision.Tensor{}, err
	}

	blob := gocv.BlobFromImage(src, p.Scale, p.Size, gocv.NewScalar(p.Mean[0], p.Mean[1], p.Mean[2], 0), p.SwapRB, false)
	defer blob.Close()

	n.net.SetInput(blob, "")
	out := n.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return vision.Tensor{}, errors.New("network produced no output")
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return vision.Tensor{}, fmt.Errorf("read network output: %w", err)
	}
	// The Mat owns data; copy before it is closed.
	return vision.Tensor{
		Shape: out.Size(),
		Data:  append([]float32(nil), data...),
	}, nil
}

func (n *network) Close() error { return n.net.Close() }

package faces

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"path/filepath"

	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/vision"
)

// fakeImage stands in for a decoded image; only its size matters to the core.
type fakeImage struct {
	size   image.Point
	closed bool
}

func (f *fakeImage) Size() image.Point { return f.size }

func (f *fakeImage) Close() error {
	f.closed = true
	return nil
}

type fakeCascade struct {
	rects  []image.Rectangle
	err    error
	seen   []image.Point // sizes of the images scanned
	params []vision.CascadeParams
}

func (c *fakeCascade) DetectMultiScale(gray vision.Image, p vision.CascadeParams) ([]image.Rectangle, error) {
	c.seen = append(c.seen, gray.Size())
	c.params = append(c.params, p)
	if c.err != nil {
		return nil, c.err
	}
	return append([]image.Rectangle(nil), c.rects...), nil
}

func (c *fakeCascade) Close() error { return nil }

type fakeNet struct {
	forward func(img vision.Image, p vision.BlobParams) (vision.Tensor, error)
	calls   int
}

func (n *fakeNet) Forward(img vision.Image, p vision.BlobParams) (vision.Tensor, error) {
	n.calls++
	return n.forward(img, p)
}

func (n *fakeNet) Close() error { return nil }

// fakeBackend serves models and images from in-memory tables keyed by path.
type fakeBackend struct {
	images   map[string]image.Point
	cascades map[string]*fakeCascade
	nets     map[string]*fakeNet
	broken   map[string]bool // present but unloadable
	loads    map[string]int
	cropFn   func(r image.Rectangle) (vision.Image, error)
	resized  []image.Point
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		images:   make(map[string]image.Point),
		cascades: make(map[string]*fakeCascade),
		nets:     make(map[string]*fakeNet),
		broken:   make(map[string]bool),
		loads:    make(map[string]int),
	}
}

func (b *fakeBackend) addFrontal(dir string, rects ...image.Rectangle) *fakeCascade {
	c := &fakeCascade{rects: rects}
	b.cascades[filepath.Join(dir, FrontalCascadeFile)] = c
	return c
}

func (b *fakeBackend) addProfile(dir string, rects ...image.Rectangle) *fakeCascade {
	c := &fakeCascade{rects: rects}
	b.cascades[filepath.Join(dir, ProfileCascadeFile)] = c
	return c
}

func (b *fakeBackend) addLocator(dir string, rows ...[7]float32) *fakeNet {
	var data []float32
	for _, r := range rows {
		data = append(data, r[:]...)
	}
	n := &fakeNet{forward: func(vision.Image, vision.BlobParams) (vision.Tensor, error) {
		return vision.Tensor{Shape: []int{1, 1, len(rows), 7}, Data: data}, nil
	}}
	b.nets[filepath.Join(dir, LocatorModelFile)] = n
	return n
}

// addEmbedder installs an embedding network that returns a vector whose
// first value is the width of the input it was given.
func (b *fakeBackend) addEmbedder(dir string) *fakeNet {
	n := &fakeNet{forward: func(img vision.Image, _ vision.BlobParams) (vision.Tensor, error) {
		out := make([]float32, types.EmbeddingDim)
		out[0] = float32(img.Size().X)
		return vision.Tensor{Shape: []int{1, types.EmbeddingDim}, Data: out}, nil
	}}
	b.nets[filepath.Join(dir, EmbeddingModelFile)] = n
	return n
}

func notExist(path string) error {
	return &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
}

func (b *fakeBackend) Decode(path string) (vision.Image, error) {
	size, ok := b.images[path]
	if !ok {
		return nil, notExist(path)
	}
	return &fakeImage{size: size}, nil
}

func (b *fakeBackend) PrepareGray(img vision.Image, size image.Point) (vision.Image, error) {
	return &fakeImage{size: size}, nil
}

func (b *fakeBackend) Resize(img vision.Image, size image.Point) (vision.Image, error) {
	b.resized = append(b.resized, size)
	return &fakeImage{size: size}, nil
}

func (b *fakeBackend) Crop(img vision.Image, r image.Rectangle) (vision.Image, error) {
	if b.cropFn != nil {
		return b.cropFn(r)
	}
	return &fakeImage{size: r.Size()}, nil
}

func (b *fakeBackend) LoadCascade(path string) (vision.Cascade, error) {
	b.loads[path]++
	if b.broken[path] {
		return nil, errors.New("parse error")
	}
	c, ok := b.cascades[path]
	if !ok {
		return nil, notExist(path)
	}
	return c, nil
}

func (b *fakeBackend) LoadCaffe(prototxt, model string) (vision.Network, error) {
	b.loads[model]++
	if b.broken[model] {
		return nil, fmt.Errorf("read net: bad model")
	}
	n, ok := b.nets[model]
	if !ok {
		return nil, notExist(model)
	}
	return n, nil
}

func (b *fakeBackend) LoadTorch(model string) (vision.Network, error) {
	b.loads[model]++
	if b.broken[model] {
		panic("torch: corrupt file")
	}
	n, ok := b.nets[model]
	if !ok {
		return nil, notExist(model)
	}
	return n, nil
}

package faces

import (
	"fmt"
	"image"

	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/vision"
	"github.com/sirupsen/logrus"
)

// EmbedBlob is the input blob of the embedding network.
var EmbedBlob = vision.BlobParams{
	Scale:  1.0 / 255,
	Size:   image.Pt(96, 96),
	SwapRB: true,
}

// Embedder turns face crops into fixed-length vectors.
type Embedder struct {
	toolkit vision.Toolkit
	net     vision.Network
	log     *logrus.Logger
}

func NewEmbedder(toolkit vision.Toolkit, net vision.Network, log *logrus.Logger) *Embedder {
	return &Embedder{toolkit: toolkit, net: net, log: log}
}

// Embed runs one face crop through the network.
func (e *Embedder) Embed(face vision.Image) ([]float64, error) {
	if e.net == nil {
		return nil, fmt.Errorf("embedding network not loaded")
	}
	var vec []float64
	err := guard("embed", func() error {
		out, err := e.net.Forward(face, EmbedBlob)
		if err != nil {
			return err
		}
		if len(out.Data) != types.EmbeddingDim {
			return fmt.Errorf("embedding has %d values, want %d", len(out.Data), types.EmbeddingDim)
		}
		vec = make([]float64, len(out.Data))
		for i, v := range out.Data {
			vec[i] = float64(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedRegions embeds every rectangle of a detection. Rectangles are expressed
// in frame, so the color image is brought to that size before cropping. A
// region that fails gets a nil vector; the others are unaffected.
func (e *Embedder) EmbedRegions(img vision.Image, rects []image.Rectangle, frame image.Point) [][]float64 {
	vecs := make([][]float64, len(rects))
	if len(rects) == 0 {
		return vecs
	}

	src := img
	if img.Size() != frame {
		var resized vision.Image
		err := guard("resize to frame", func() error {
			var err error
			resized, err = e.toolkit.Resize(img, frame)
			return err
		})
		if err != nil {
			e.log.WithField("error", err).Warn("Could not bring image to the detection frame, skipping embeddings")
			return vecs
		}
		defer resized.Close()
		src = resized
	}

	for i, r := range rects {
		vec, err := e.embedRegion(src, r)
		if err != nil {
			e.log.WithFields(logrus.Fields{"region": i, "error": err}).Warn("Face embedding failed")
			continue
		}
		vecs[i] = vec
	}
	return vecs
}

func (e *Embedder) embedRegion(src vision.Image, r image.Rectangle) ([]float64, error) {
	var face vision.Image
	err := guard("crop", func() error {
		var err error
		face, err = e.toolkit.Crop(src, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer face.Close()
	return e.Embed(face)
}

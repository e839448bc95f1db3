package types

import "fmt"

// EmbeddingDim is the fixed length of a face vector produced by the embedding network.
const EmbeddingDim = 128

// ResourceKind identifies one of the model resources the service can load.
type ResourceKind int

const (
	FrontalCascade ResourceKind = iota
	ProfileCascade
	LocatorNet
	EmbeddingNet
)

// AllResourceKinds lists every kind in load order.
var AllResourceKinds = []ResourceKind{FrontalCascade, ProfileCascade, LocatorNet, EmbeddingNet}

func (k ResourceKind) String() string {
	switch k {
	case FrontalCascade:
		return "frontal-cascade"
	case ProfileCascade:
		return "profile-cascade"
	case LocatorNet:
		return "locator-net"
	case EmbeddingNet:
		return "embedding-net"
	default:
		return fmt.Sprintf("resource(%d)", int(k))
	}
}

// Strategy is the detection path chosen for a single call.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyClassical
	StrategyNeural
)

func (s Strategy) String() string {
	switch s {
	case StrategyClassical:
		return "classical"
	case StrategyNeural:
		return "neural"
	default:
		return "none"
	}
}

// Rect is a rectangle in fractional coordinates relative to a reference frame.
type Rect struct {
	X      float64 `msgpack:"x" json:"x"`
	Y      float64 `msgpack:"y" json:"y"`
	Width  float64 `msgpack:"w" json:"width"`
	Height float64 `msgpack:"h" json:"height"`
}

// FaceRegion is one detected face. Vec is either empty or EmbeddingDim long.
type FaceRegion struct {
	Rect
	Vec []float64 `msgpack:"vec" json:"vec,omitempty"`
}

// DetectRequest describes a single detectFaces call.
// Scale only affects the classical path; values below 1 are treated as 1.
type DetectRequest struct {
	ImagePath string
	Scale     float64
	Infer     bool
}

// ZeroVec returns an all-zero vector of the fixed embedding length.
func ZeroVec() []float64 {
	return make([]float64, EmbeddingDim)
}

package faces

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/vision"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotReady     = errors.New("no detection resources loaded")
	ErrShuttingDown = errors.New("service is shutting down")
	ErrNoInput      = errors.New("no input file")
)

// InputError reports an image that could not be decoded.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("could not load %q: %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// State is the lifecycle state of a Service.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting-down"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Service is the face detection facade. Calls are serialized: one call runs
// to completion before the next one starts.
type Service struct {
	backend vision.Backend
	res     *Resources
	loader  *Loader
	log     *logrus.Logger

	call  sync.Mutex
	state atomic.Int32
}

func NewService(backend vision.Backend, log *logrus.Logger) *Service {
	res := NewResources()
	return &Service{
		backend: backend,
		res:     res,
		loader:  NewLoader(backend, res, log),
		log:     log,
	}
}

func (s *Service) State() State { return State(s.state.Load()) }

// Resources returns the loaded kinds and their origins.
func (s *Service) Resources() map[types.ResourceKind]string { return s.res.Snapshot() }

// Strategy returns the detection path the next call would take.
func (s *Service) Strategy() types.Strategy { return SelectStrategy(s.res) }

// LoadNet scans a colon-separated search path for model resources. Repeated
// calls are harmless: kinds already loaded are skipped.
func (s *Service) LoadNet(searchPath string) bool {
	s.call.Lock()
	defer s.call.Unlock()

	prev := s.State()
	if prev == StateShuttingDown {
		s.log.Warn(ErrShuttingDown.Error())
		return false
	}

	s.state.Store(int32(StateLoading))
	if s.loader.Load(SplitSearchPath(searchPath)) {
		s.state.Store(int32(StateReady))
		return true
	}
	s.state.Store(int32(prev))
	return false
}

// LoadCascade loads a frontal cascade from an explicit file.
func (s *Service) LoadCascade(path string) error {
	s.call.Lock()
	defer s.call.Unlock()

	if s.State() == StateShuttingDown {
		return ErrShuttingDown
	}
	if err := s.loader.LoadCascadeFile(types.FrontalCascade, path); err != nil {
		return fmt.Errorf("load cascade %s: %w", path, err)
	}
	s.state.Store(int32(StateReady))
	return nil
}

// DetectFaces never fails: any error is logged and yields an empty result.
func (s *Service) DetectFaces(req types.DetectRequest) []types.FaceRegion {
	regions, err := s.Detect(req)
	if err != nil {
		s.report(err, req.ImagePath)
		return []types.FaceRegion{}
	}
	return regions
}

// Detect runs one detection call and returns the fractional regions found.
func (s *Service) Detect(req types.DetectRequest) ([]types.FaceRegion, error) {
	s.call.Lock()
	defer s.call.Unlock()

	switch s.State() {
	case StateReady:
	case StateShuttingDown:
		return nil, ErrShuttingDown
	default:
		return nil, ErrNotReady
	}
	if req.ImagePath == "" {
		return nil, ErrNoInput
	}

	var det Detector
	scale := req.Scale
	switch SelectStrategy(s.res) {
	case types.StrategyNeural:
		det = NewNeuralDetector(s.res.locatorNet())
		scale = 1
	case types.StrategyClassical:
		frontal, profile := s.res.cascades()
		det = NewClassicalDetector(s.backend, frontal, profile, s.log)
		if scale < 1 || math.IsNaN(scale) || math.IsInf(scale, 0) {
			s.log.WithField("scale", req.Scale).Warn("Invalid scale, using 1")
			scale = 1
		}
	default:
		return nil, ErrNoDetector
	}

	img, err := s.decode(req.ImagePath)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	var found Detection
	err = guard("detect", func() error {
		var err error
		found, err = det.Detect(img, scale)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", req.ImagePath, err)
	}

	rects := Normalize(found.Rects, found.Frame)
	regions := make([]types.FaceRegion, len(rects))
	for i, r := range rects {
		regions[i].Rect = r
	}

	if req.Infer && len(regions) > 0 {
		net := s.res.embeddingNet()
		if net == nil {
			s.log.Info("Embedding model not loaded, vectors left empty")
			return regions, nil
		}
		vecs := NewEmbedder(s.backend, net, s.log).EmbedRegions(img, found.Rects, found.Frame)
		for i := range regions {
			regions[i].Vec = vecs[i]
		}
	}
	return regions, nil
}

// FaceToVec embeds an image that is assumed to be a single face crop. It
// returns the zero vector on any failure.
func (s *Service) FaceToVec(path string) []float64 {
	vec, err := s.Embed(path)
	if err != nil {
		s.report(err, path)
		return types.ZeroVec()
	}
	return vec
}

// Embed is FaceToVec with the error exposed.
func (s *Service) Embed(path string) ([]float64, error) {
	s.call.Lock()
	defer s.call.Unlock()

	if s.State() == StateShuttingDown {
		return nil, ErrShuttingDown
	}
	if path == "" {
		return nil, ErrNoInput
	}
	net := s.res.embeddingNet()
	if net == nil {
		return nil, fmt.Errorf("embedding model not loaded")
	}

	img, err := s.decode(path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	return NewEmbedder(s.backend, net, s.log).Embed(img)
}

// Terminate moves the service to its terminal state. It waits for an
// in-flight call to finish.
func (s *Service) Terminate() {
	s.call.Lock()
	defer s.call.Unlock()
	s.state.Store(int32(StateShuttingDown))
}

// Close terminates the service and releases the loaded resources.
func (s *Service) Close() error {
	s.Terminate()
	return s.res.Close()
}

func (s *Service) decode(path string) (vision.Image, error) {
	var img vision.Image
	err := guard("decode", func() error {
		var err error
		img, err = s.backend.Decode(path)
		return err
	})
	if err != nil {
		return nil, &InputError{Path: path, Err: err}
	}
	return img, nil
}

func (s *Service) report(err error, path string) {
	var inputErr *InputError
	switch {
	case errors.As(err, &inputErr):
		s.log.WithFields(logrus.Fields{"filename": inputErr.Path, "error": inputErr.Err}).Error("Could not load the file to process.")
	case errors.Is(err, ErrNoInput):
		s.log.Error("You must specify the file to process.")
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrNoDetector), errors.Is(err, ErrShuttingDown):
		s.log.WithField("filename", path).Error(err.Error())
	default:
		s.log.WithFields(logrus.Fields{"filename": path, "error": err}).Error("Face processing failed")
	}
}

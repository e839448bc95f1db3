package faces

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/vision"
	"github.com/sirupsen/logrus"
)

// Well-known resource file names looked up in every search-path directory.
const (
	FrontalCascadeFile = "haarcascade_frontalface_alt.xml"
	ProfileCascadeFile = "haarcascade_profileface.xml"
	LocatorProtoFile   = "deploy.prototxt"
	LocatorModelFile   = "res10_300x300_ssd_iter_140000_fp16.caffemodel"
	EmbeddingModelFile = "openface.nn4.small2.v1.t7"
)

// ErrNoDetector means neither a frontal cascade nor a locator network is loaded.
var ErrNoDetector = errors.New("no usable detection method")

// SplitSearchPath splits a colon-separated list of directories, dropping empty entries.
func SplitSearchPath(s string) []string {
	var dirs []string
	for _, d := range strings.Split(s, ":") {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Loader discovers model resources across a search path and stores them in Resources.
type Loader struct {
	backend vision.Backend
	res     *Resources
	log     *logrus.Logger
}

func NewLoader(backend vision.Backend, res *Resources, log *logrus.Logger) *Loader {
	return &Loader{backend: backend, res: res, log: log}
}

// Load tries every kind that is not loaded yet in every directory, in order.
// Individual failures are logged; the result is false only when no detection
// method is available after the scan.
func (l *Loader) Load(searchPath []string) bool {
	for _, dir := range searchPath {
		for _, kind := range types.AllResourceKinds {
			if l.res.Loaded(kind) {
				continue
			}
			if err := l.loadKind(kind, dir); err != nil {
				fields := logrus.Fields{"kind": kind, "dir": dir, "error": err}
				if errors.Is(err, fs.ErrNotExist) {
					l.log.WithFields(fields).Debug("Resource not present")
				} else {
					l.log.WithFields(fields).Warn("Resource load failed")
				}
				continue
			}
			l.log.WithFields(logrus.Fields{"kind": kind, "origin": l.res.Origin(kind)}).Info("Resource loaded")
		}
	}

	if !l.res.Loaded(types.FrontalCascade) && !l.res.Loaded(types.LocatorNet) {
		l.log.WithField("search_path", strings.Join(searchPath, ":")).Error(ErrNoDetector.Error())
		return false
	}
	if !l.res.Loaded(types.EmbeddingNet) {
		l.log.Info("Embedding model not loaded, face vectors disabled")
	}
	return true
}

// LoadCascadeFile loads a cascade of the given kind from an explicit file.
func (l *Loader) LoadCascadeFile(kind types.ResourceKind, path string) error {
	if l.res.Loaded(kind) {
		return nil
	}
	return guard("load "+kind.String(), func() error {
		c, err := l.backend.LoadCascade(path)
		if err != nil {
			return err
		}
		if !l.res.setCascade(kind, c, path) {
			c.Close()
		}
		return nil
	})
}

func (l *Loader) loadKind(kind types.ResourceKind, dir string) error {
	switch kind {
	case types.FrontalCascade:
		return l.LoadCascadeFile(kind, filepath.Join(dir, FrontalCascadeFile))
	case types.ProfileCascade:
		return l.LoadCascadeFile(kind, filepath.Join(dir, ProfileCascadeFile))
	case types.LocatorNet:
		model := filepath.Join(dir, LocatorModelFile)
		return guard("load "+kind.String(), func() error {
			n, err := l.backend.LoadCaffe(filepath.Join(dir, LocatorProtoFile), model)
			if err != nil {
				return err
			}
			if !l.res.setNetwork(kind, n, model) {
				n.Close()
			}
			return nil
		})
	case types.EmbeddingNet:
		model := filepath.Join(dir, EmbeddingModelFile)
		return guard("load "+kind.String(), func() error {
			n, err := l.backend.LoadTorch(model)
			if err != nil {
				return err
			}
			if !l.res.setNetwork(kind, n, model) {
				n.Close()
			}
			return nil
		})
	}
	return nil
}

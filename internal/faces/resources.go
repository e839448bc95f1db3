package faces

import (
	"errors"
	"sync"

	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/vision"
)

// Resources holds the model handles of one service instance. Each kind is
// written at most once and read many times afterwards.
type Resources struct {
	mu       sync.RWMutex
	frontal  vision.Cascade
	profile  vision.Cascade
	locator  vision.Network
	embedder vision.Network
	origins  map[types.ResourceKind]string
}

func NewResources() *Resources {
	return &Resources{origins: make(map[types.ResourceKind]string)}
}

// Loaded reports whether a resource of the given kind is in place.
func (r *Resources) Loaded(kind types.ResourceKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.origins[kind]
	return ok
}

// Origin returns the path a resource was loaded from, or "" if it is not loaded.
func (r *Resources) Origin(kind types.ResourceKind) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.origins[kind]
}

// Snapshot returns the loaded kinds and their origins.
func (r *Resources) Snapshot() map[types.ResourceKind]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[types.ResourceKind]string, len(r.origins))
	for k, v := range r.origins {
		out[k] = v
	}
	return out
}

func (r *Resources) setCascade(kind types.ResourceKind, c vision.Cascade, origin string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.origins[kind]; ok {
		return false
	}
	switch kind {
	case types.FrontalCascade:
		r.frontal = c
	case types.ProfileCascade:
		r.profile = c
	default:
		return false
	}
	r.origins[kind] = origin
	return true
}

func (r *Resources) setNetwork(kind types.ResourceKind, n vision.Network, origin string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.origins[kind]; ok {
		return false
	}
	switch kind {
	case types.LocatorNet:
		r.locator = n
	case types.EmbeddingNet:
		r.embedder = n
	default:
		return false
	}
	r.origins[kind] = origin
	return true
}

func (r *Resources) cascades() (frontal, profile vision.Cascade) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frontal, r.profile
}

func (r *Resources) locatorNet() vision.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locator
}

func (r *Resources) embeddingNet() vision.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embedder
}

// Close releases every loaded handle. It is only called on process shutdown.
func (r *Resources) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, c := range []vision.Cascade{r.frontal, r.profile} {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	for _, n := range []vision.Network{r.locator, r.embedder} {
		if n != nil {
			errs = append(errs, n.Close())
		}
	}
	r.frontal, r.profile, r.locator, r.embedder = nil, nil, nil, nil
	r.origins = make(map[types.ResourceKind]string)
	return errors.Join(errs...)
}

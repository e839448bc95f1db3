package faces

import (
	"image"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestSplitSearchPath(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/a", []string{"/a"}},
		{"/a:/b", []string{"/a", "/b"}},
		{" /a ::/b:", []string{"/a", "/b"}},
		{":::", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SplitSearchPath(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitSearchPath(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	b := newFakeBackend()
	b.addFrontal("/models", image.Rect(0, 0, 40, 40))
	b.addEmbedder("/models")
	log, _ := test.NewNullLogger()

	res := NewResources()
	l := NewLoader(b, res, log)

	if !l.Load([]string{"/models"}) {
		t.Fatal("first load failed")
	}
	first := res.Snapshot()

	if !l.Load([]string{"/models"}) {
		t.Fatal("second load failed")
	}
	if second := res.Snapshot(); !reflect.DeepEqual(first, second) {
		t.Errorf("resource set changed: %v -> %v", first, second)
	}

	frontal := filepath.Join("/models", FrontalCascadeFile)
	if n := b.loads[frontal]; n != 1 {
		t.Errorf("frontal cascade loaded %d times, want 1", n)
	}
}

func TestLoadFirstDirectoryWins(t *testing.T) {
	b := newFakeBackend()
	b.addFrontal("/one")
	b.addFrontal("/two")
	b.addProfile("/two")
	log, _ := test.NewNullLogger()

	res := NewResources()
	if !NewLoader(b, res, log).Load([]string{"/one", "/two"}) {
		t.Fatal("load failed")
	}

	if got, want := res.Origin(types.FrontalCascade), filepath.Join("/one", FrontalCascadeFile); got != want {
		t.Errorf("frontal origin = %q, want %q", got, want)
	}
	if got, want := res.Origin(types.ProfileCascade), filepath.Join("/two", ProfileCascadeFile); got != want {
		t.Errorf("profile origin = %q, want %q", got, want)
	}
	if n := b.loads[filepath.Join("/two", FrontalCascadeFile)]; n != 0 {
		t.Errorf("frontal cascade retried in second directory %d times", n)
	}
}

func TestLoadWithoutDetector(t *testing.T) {
	b := newFakeBackend()
	b.addEmbedder("/models")
	log, hook := test.NewNullLogger()

	res := NewResources()
	if NewLoader(b, res, log).Load([]string{"/models"}) {
		t.Fatal("load succeeded with only an embedding model")
	}
	if !res.Loaded(types.EmbeddingNet) {
		t.Error("embedding model should still be loaded")
	}

	last := hook.LastEntry()
	if last == nil || last.Level != logrus.ErrorLevel || last.Message != ErrNoDetector.Error() {
		t.Errorf("expected %q error diagnostic, got %+v", ErrNoDetector, last)
	}
}

func TestLoadToleratesBrokenResources(t *testing.T) {
	b := newFakeBackend()
	b.addFrontal("/models")
	b.addLocator("/models")
	b.broken[filepath.Join("/models", LocatorModelFile)] = true
	b.addEmbedder("/models")
	b.broken[filepath.Join("/models", EmbeddingModelFile)] = true // panics
	log, hook := test.NewNullLogger()

	res := NewResources()
	if !NewLoader(b, res, log).Load([]string{"/models"}) {
		t.Fatal("load failed although the frontal cascade is usable")
	}
	if res.Loaded(types.LocatorNet) || res.Loaded(types.EmbeddingNet) {
		t.Error("broken resources reported as loaded")
	}

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("expected 2 load warnings, got %d", warnings)
	}
}

package faces

import (
	"errors"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/vision"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *fakeBackend)
		want  types.Strategy
	}{
		{"nothing", func(b *fakeBackend) {}, types.StrategyNone},
		{"frontal", func(b *fakeBackend) { b.addFrontal("/m") }, types.StrategyClassical},
		{"locator", func(b *fakeBackend) { b.addLocator("/m") }, types.StrategyNeural},
		{"both", func(b *fakeBackend) { b.addFrontal("/m"); b.addLocator("/m") }, types.StrategyNeural},
		{"profile only", func(b *fakeBackend) { b.addProfile("/m") }, types.StrategyNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			tt.setup(b)
			log, _ := test.NewNullLogger()
			res := NewResources()
			NewLoader(b, res, log).Load([]string{"/m"})
			if got := SelectStrategy(res); got != tt.want {
				t.Errorf("SelectStrategy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGuardRecoversPanics(t *testing.T) {
	err := guard("op", func() error { panic("boom") })
	if err == nil || err.Error() != "op: backend fault: boom" {
		t.Errorf("unexpected error: %v", err)
	}
	sentinel := errors.New("plain")
	if err := guard("op", func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("guard changed a plain error: %v", err)
	}
}

func TestMergeRectangles(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if got := MergeRectangles(nil, 1, MergeEps); len(got) != 0 {
			t.Errorf("expected no rectangles, got %v", got)
		}
	})

	t.Run("overlapping collapse", func(t *testing.T) {
		got := MergeRectangles([]image.Rectangle{
			image.Rect(100, 100, 200, 200),
			image.Rect(104, 98, 206, 202),
		}, 1, MergeEps)
		if len(got) != 1 {
			t.Fatalf("expected 1 rectangle, got %v", got)
		}
		if want := image.Rect(102, 99, 203, 201); got[0] != want {
			t.Errorf("merged = %v, want %v", got[0], want)
		}
	})

	t.Run("disjoint kept", func(t *testing.T) {
		got := MergeRectangles([]image.Rectangle{
			image.Rect(0, 0, 50, 50),
			image.Rect(200, 200, 260, 260),
		}, 1, MergeEps)
		if len(got) != 2 {
			t.Errorf("expected 2 rectangles, got %v", got)
		}
	})

	t.Run("corroborated inside lone box", func(t *testing.T) {
		got := MergeRectangles([]image.Rectangle{
			image.Rect(100, 100, 200, 200),
			image.Rect(103, 97, 204, 201),
			image.Rect(60, 60, 260, 260),
		}, 1, MergeEps)
		want := []image.Rectangle{image.Rect(102, 99, 202, 201), image.Rect(60, 60, 260, 260)}
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("nested dropped", func(t *testing.T) {
		got := MergeRectangles([]image.Rectangle{
			image.Rect(0, 0, 200, 200),
			image.Rect(60, 60, 120, 120),
		}, 1, MergeEps)
		if len(got) != 1 || got[0] != image.Rect(0, 0, 200, 200) {
			t.Errorf("expected only the outer rectangle, got %v", got)
		}
	})

	t.Run("min group", func(t *testing.T) {
		got := MergeRectangles([]image.Rectangle{
			image.Rect(0, 0, 50, 50),
			image.Rect(1, 1, 51, 51),
			image.Rect(300, 300, 350, 350),
		}, 2, MergeEps)
		if len(got) != 1 {
			t.Errorf("expected the lone rectangle to be dropped, got %v", got)
		}
	})
}

func TestNormalizeBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	frame := image.Pt(640, 480)

	var rects []image.Rectangle
	for i := 0; i < 500; i++ {
		x, y := rng.Intn(800)-80, rng.Intn(600)-60
		rects = append(rects, image.Rect(x, y, x+rng.Intn(400), y+rng.Intn(400)))
	}

	for i, r := range Normalize(rects, frame) {
		const tol = 1e-9
		if r.X < 0 || r.Y < 0 || r.Width < 0 || r.Height < 0 {
			t.Fatalf("rect %d has negative component: %+v", i, r)
		}
		if r.X+r.Width > 1+tol || r.Y+r.Height > 1+tol {
			t.Fatalf("rect %d leaves the unit square: %+v", i, r)
		}
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]image.Rectangle{image.Rect(160, 120, 320, 360)}, image.Pt(640, 480))
	want := types.Rect{X: 0.25, Y: 0.25, Width: 0.25, Height: 0.5}
	if len(got) != 1 || got[0] != want {
		t.Errorf("Normalize = %+v, want %+v", got, want)
	}
	if got := Normalize([]image.Rectangle{image.Rect(0, 0, 1, 1)}, image.Point{}); got != nil {
		t.Errorf("expected nil for an empty frame, got %v", got)
	}
}

func TestParseLocatorOutput(t *testing.T) {
	frame := image.Pt(1000, 500)
	tests := []struct {
		name string
		row  [7]float32
		want []image.Rectangle
	}{
		{"accepted", [7]float32{0, 1, 0.99, 0.1, 0.2, 0.3, 0.6}, []image.Rectangle{image.Rect(100, 100, 300, 300)}},
		{"below threshold", [7]float32{0, 1, 0.98, 0.1, 0.2, 0.3, 0.6}, nil},
		{"degenerate", [7]float32{0, 1, 0.999, 0.3, 0.2, 0.3, 0.6}, nil},
		{"inverted", [7]float32{0, 1, 0.999, 0.5, 0.2, 0.3, 0.6}, nil},
		{"clamped", [7]float32{0, 1, 0.999, -0.2, -0.1, 1.4, 1.2}, []image.Rectangle{image.Rect(0, 0, 999, 499)}},
		{"outside", [7]float32{0, 1, 0.999, 1.2, 0.1, 1.5, 0.4}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLocatorOutput(vision.Tensor{Data: tt.row[:]}, frame, ConfidenceThreshold)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("rect %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseLocatorOutputIgnoresTrailingPartialRow(t *testing.T) {
	data := []float32{0, 1, 0.99, 0.1, 0.1, 0.2, 0.2, 0, 1, 0.99}
	if got := ParseLocatorOutput(vision.Tensor{Data: data}, image.Pt(100, 100), ConfidenceThreshold); len(got) != 1 {
		t.Errorf("expected 1 rectangle, got %v", got)
	}
}

func TestNeuralDetectorUsesOriginalFrame(t *testing.T) {
	b := newFakeBackend()
	net := b.addLocator("/m", [7]float32{0, 1, 0.995, 0.25, 0.25, 0.75, 0.75})

	var blob vision.BlobParams
	forward := net.forward
	net.forward = func(img vision.Image, p vision.BlobParams) (vision.Tensor, error) {
		blob = p
		return forward(img, p)
	}

	got, err := NewNeuralDetector(net).Detect(&fakeImage{size: image.Pt(800, 600)}, 2.5)
	if err != nil {
		t.Fatal(err)
	}
	if got.Frame != image.Pt(800, 600) {
		t.Errorf("frame = %v, want the original image size", got.Frame)
	}
	if len(got.Rects) != 1 || got.Rects[0] != image.Rect(200, 150, 600, 450) {
		t.Errorf("rects = %v", got.Rects)
	}
	if blob.Size != image.Pt(1024, 768) || blob.SwapRB || blob.Mean != [3]float64{104, 177, 123} {
		t.Errorf("unexpected blob params %+v", blob)
	}
}

func TestWorkingSize(t *testing.T) {
	tests := []struct {
		size  image.Point
		scale float64
		want  image.Point
	}{
		{image.Pt(1000, 800), 1, image.Pt(1000, 800)},
		{image.Pt(1000, 800), 1.3, image.Pt(769, 615)},
		{image.Pt(1000, 800), 0.5, image.Pt(1000, 800)},
		{image.Pt(1000, 800), math.NaN(), image.Pt(1000, 800)},
		{image.Pt(3, 3), 100, image.Pt(1, 1)},
	}
	for _, tt := range tests {
		if got := WorkingSize(tt.size, tt.scale); got != tt.want {
			t.Errorf("WorkingSize(%v, %v) = %v, want %v", tt.size, tt.scale, got, tt.want)
		}
	}
}

func TestClassicalDetector(t *testing.T) {
	img := &fakeImage{size: image.Pt(1000, 800)}
	frontalHit := image.Rect(100, 100, 200, 200)

	t.Run("frontal only skips merging", func(t *testing.T) {
		log, _ := test.NewNullLogger()
		b := newFakeBackend()
		frontal := &fakeCascade{rects: []image.Rectangle{frontalHit, frontalHit}}

		got, err := NewClassicalDetector(b, frontal, nil, log).Detect(img, 1.3)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Rects) != 2 {
			t.Errorf("expected frontal detections as-is, got %v", got.Rects)
		}
		if got.Frame != image.Pt(769, 615) || frontal.seen[0] != got.Frame {
			t.Errorf("frame = %v, scanned %v", got.Frame, frontal.seen)
		}
		if frontal.params[0] != FrontalParams {
			t.Errorf("frontal params = %+v", frontal.params[0])
		}
	})

	t.Run("profile pooled and merged", func(t *testing.T) {
		log, _ := test.NewNullLogger()
		b := newFakeBackend()
		frontal := &fakeCascade{rects: []image.Rectangle{frontalHit}}
		profile := &fakeCascade{rects: []image.Rectangle{
			image.Rect(103, 97, 204, 201), // same face, seen in profile
			image.Rect(500, 300, 580, 380),
		}}

		got, err := NewClassicalDetector(b, frontal, profile, log).Detect(img, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Rects) != 2 {
			t.Fatalf("expected 2 merged rectangles, got %v", got.Rects)
		}
		for i := range got.Rects {
			for j := i + 1; j < len(got.Rects); j++ {
				if similar(got.Rects[i], got.Rects[j], MergeEps) {
					t.Errorf("duplicate rectangles survived: %v %v", got.Rects[i], got.Rects[j])
				}
			}
		}
		if profile.params[0] != ProfileParams {
			t.Errorf("profile params = %+v", profile.params[0])
		}
	})

	t.Run("profile failure keeps frontal", func(t *testing.T) {
		log, hook := test.NewNullLogger()
		b := newFakeBackend()
		frontal := &fakeCascade{rects: []image.Rectangle{frontalHit}}
		profile := &fakeCascade{err: errors.New("cascade fault")}

		got, err := NewClassicalDetector(b, frontal, profile, log).Detect(img, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Rects) != 1 {
			t.Errorf("expected the frontal detection, got %v", got.Rects)
		}
		if hook.LastEntry() == nil {
			t.Error("expected a warning")
		}
	})

	t.Run("no frontal", func(t *testing.T) {
		log, _ := test.NewNullLogger()
		if _, err := NewClassicalDetector(newFakeBackend(), nil, nil, log).Detect(img, 1); !errors.Is(err, ErrNoDetector) {
			t.Errorf("expected ErrNoDetector, got %v", err)
		}
	})
}

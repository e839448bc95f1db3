package faces

import (
	"fmt"
	"image"
	"math"

	"github.com/andresmejia3/facedetectd/internal/vision"
	"github.com/sirupsen/logrus"
)

// Cascade tuning.
var (
	FrontalParams = vision.CascadeParams{ScaleStep: 1.1, MinNeighbors: 2, MinSize: image.Pt(30, 30)}
	ProfileParams = vision.CascadeParams{ScaleStep: 1.2, MinNeighbors: 2, MinSize: image.Pt(30, 30)}
)

const (
	// MergeMinGroup is the number of detections a merged cluster needs to be
	// kept. A detection counts as its own corroboration.
	MergeMinGroup = 1
	MergeEps      = 0.2
)

// ClassicalDetector runs the frontal cascade, and the profile cascade when it
// is loaded, over a downscaled, equalized grayscale copy of the image.
type ClassicalDetector struct {
	toolkit vision.Toolkit
	frontal vision.Cascade
	profile vision.Cascade
	log     *logrus.Logger
}

func NewClassicalDetector(toolkit vision.Toolkit, frontal, profile vision.Cascade, log *logrus.Logger) *ClassicalDetector {
	return &ClassicalDetector{toolkit: toolkit, frontal: frontal, profile: profile, log: log}
}

// WorkingSize is the size of the image the cascades scan for a given scale.
func WorkingSize(size image.Point, scale float64) image.Point {
	if scale < 1 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1
	}
	return image.Pt(
		max(1, roundInt(float64(size.X)/scale)),
		max(1, roundInt(float64(size.Y)/scale)),
	)
}

func (d *ClassicalDetector) Detect(img vision.Image, scale float64) (Detection, error) {
	if d.frontal == nil {
		return Detection{}, ErrNoDetector
	}
	working := WorkingSize(img.Size(), scale)

	gray, err := d.toolkit.PrepareGray(img, working)
	if err != nil {
		return Detection{}, fmt.Errorf("prepare working image: %w", err)
	}
	defer gray.Close()

	faces, err := d.frontal.DetectMultiScale(gray, FrontalParams)
	if err != nil {
		return Detection{}, fmt.Errorf("frontal cascade: %w", err)
	}

	if d.profile == nil {
		return Detection{Rects: faces, Frame: working}, nil
	}

	profiles, err := d.profile.DetectMultiScale(gray, ProfileParams)
	if err != nil {
		d.log.WithField("error", err).Warn("Profile cascade failed, returning frontal detections")
		return Detection{Rects: faces, Frame: working}, nil
	}

	// Frontal and profile hits are pooled before merging so that a face seen
	// by both passes collapses into one rectangle.
	pooled := append(append([]image.Rectangle(nil), faces...), profiles...)
	return Detection{Rects: MergeRectangles(pooled, MergeMinGroup, MergeEps), Frame: working}, nil
}

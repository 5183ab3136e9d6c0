package cctv

import (
	"context"

	"github.com/trayvision/trayvision-go/internal/conf"
)

// Pose is one detected person pose, reduced to what the fall rule needs.
// Coordinates grow downward, so HeadY > HipY means the head is below the hip.
type Pose struct {
	HeadY       float64
	HipY        float64
	AspectRatio float64 // bounding box height / width
	Confidence  float64
}

// PoseEstimator is the opaque person pose capability.
type PoseEstimator interface {
	Poses(ctx context.Context, frame Frame) ([]Pose, error)
}

// MotionClassifier is the opaque violence classifier capability. It returns
// the probability that the frame shows violent motion.
type MotionClassifier interface {
	ViolenceProbability(ctx context.Context, frame Frame) (float64, error)
}

// ObjectClass is one classified object with its confidence.
type ObjectClass struct {
	Label      string
	Confidence float64
}

// ObjectClassifier is the opaque object classification capability used for
// mobility aid detection.
type ObjectClassifier interface {
	Classify(ctx context.Context, frame Frame) ([]ObjectClass, error)
}

// --- Fall detector ---

// fallDetector flags a frame when any pose has its head below the hip and a
// wider-than-tall bounding box: a person lying on the ground.
type fallDetector struct {
	poses PoseEstimator
	cfg   conf.DetectorSettings
}

// NewFallDetector wraps a pose estimator into a fall detector.
func NewFallDetector(poses PoseEstimator, cfg conf.DetectorSettings) Detector {
	return &fallDetector{poses: poses, cfg: cfg}
}

func (d *fallDetector) Name() string         { return "fall" }
func (d *fallDetector) EventType() EventType { return EventFall }

func (d *fallDetector) ProcessFrame(ctx context.Context, frame Frame) (Signal, error) {
	poses, err := d.poses.Poses(ctx, frame)
	if err != nil {
		return Signal{}, err
	}
	for _, p := range poses {
		if p.HeadY > p.HipY && p.AspectRatio < 1.0 {
			return Signal{Positive: true, Confidence: p.Confidence}, nil
		}
	}
	return Signal{}, nil
}

// --- Violence detector ---

// violenceDetector thresholds the classifier probability per frame. The
// shared debounce turns the per-frame votes into a confirmation.
type violenceDetector struct {
	classifier MotionClassifier
	cfg        conf.DetectorSettings
}

// NewViolenceDetector wraps a motion classifier into a violence detector.
func NewViolenceDetector(classifier MotionClassifier, cfg conf.DetectorSettings) Detector {
	return &violenceDetector{classifier: classifier, cfg: cfg}
}

func (d *violenceDetector) Name() string         { return "violence" }
func (d *violenceDetector) EventType() EventType { return EventViolence }

func (d *violenceDetector) ProcessFrame(ctx context.Context, frame Frame) (Signal, error) {
	prob, err := d.classifier.ViolenceProbability(ctx, frame)
	if err != nil {
		return Signal{}, err
	}
	if prob >= d.cfg.Threshold {
		return Signal{Positive: true, Confidence: prob}, nil
	}
	return Signal{Confidence: prob}, nil
}

// --- Mobility aid detector ---

// mobility aid object labels recognized by the classifier.
var mobilityAidLabels = map[string]struct{}{
	"wheelchair": {},
	"crutches":   {},
	"walker":     {},
}

// mobilityAidDetector flags frames containing a mobility aid so staff can
// offer assistance at the checkout.
type mobilityAidDetector struct {
	classifier ObjectClassifier
	cfg        conf.DetectorSettings
}

// NewMobilityAidDetector wraps an object classifier into a mobility aid
// detector.
func NewMobilityAidDetector(classifier ObjectClassifier, cfg conf.DetectorSettings) Detector {
	return &mobilityAidDetector{classifier: classifier, cfg: cfg}
}

func (d *mobilityAidDetector) Name() string         { return "mobility-aid" }
func (d *mobilityAidDetector) EventType() EventType { return EventWheelchair }

func (d *mobilityAidDetector) ProcessFrame(ctx context.Context, frame Frame) (Signal, error) {
	classes, err := d.classifier.Classify(ctx, frame)
	if err != nil {
		return Signal{}, err
	}
	for _, c := range classes {
		if _, ok := mobilityAidLabels[c.Label]; !ok {
			continue
		}
		if c.Confidence >= d.cfg.Threshold {
			return Signal{Positive: true, Confidence: c.Confidence}, nil
		}
	}
	return Signal{}, nil
}

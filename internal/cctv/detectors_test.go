package cctv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trayvision/trayvision-go/internal/conf"
)

type stubPoses struct {
	poses []Pose
	err   error
}

func (s *stubPoses) Poses(context.Context, Frame) ([]Pose, error) { return s.poses, s.err }

func TestFallDetectorRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pose Pose
		want bool
	}{
		{"standing person", Pose{HeadY: 100, HipY: 300, AspectRatio: 2.5}, false},
		{"lying down", Pose{HeadY: 320, HipY: 300, AspectRatio: 0.4, Confidence: 0.85}, true},
		{"head below hip but upright box", Pose{HeadY: 320, HipY: 300, AspectRatio: 1.8}, false},
		{"wide box but head above hip", Pose{HeadY: 100, HipY: 300, AspectRatio: 0.4}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			det := NewFallDetector(&stubPoses{poses: []Pose{tt.pose}}, conf.DetectorSettings{})
			signal, err := det.ProcessFrame(context.Background(), Frame{Index: 1})
			require.NoError(t, err)
			assert.Equal(t, tt.want, signal.Positive)
		})
	}
}

func TestFallDetectorEmptyFrame(t *testing.T) {
	t.Parallel()

	det := NewFallDetector(&stubPoses{}, conf.DetectorSettings{})
	signal, err := det.ProcessFrame(context.Background(), Frame{})
	require.NoError(t, err)
	assert.False(t, signal.Positive)
	assert.Equal(t, EventFall, det.EventType())
}

type stubMotion struct {
	prob float64
	err  error
}

func (s *stubMotion) ViolenceProbability(context.Context, Frame) (float64, error) {
	return s.prob, s.err
}

func TestViolenceDetectorThreshold(t *testing.T) {
	t.Parallel()

	cfg := conf.DetectorSettings{Threshold: 0.4}

	det := NewViolenceDetector(&stubMotion{prob: 0.39}, cfg)
	signal, err := det.ProcessFrame(context.Background(), Frame{})
	require.NoError(t, err)
	assert.False(t, signal.Positive)
	assert.InDelta(t, 0.39, signal.Confidence, 1e-9)

	det = NewViolenceDetector(&stubMotion{prob: 0.4}, cfg)
	signal, err = det.ProcessFrame(context.Background(), Frame{})
	require.NoError(t, err)
	assert.True(t, signal.Positive)
	assert.Equal(t, EventViolence, det.EventType())
}

type stubClasses struct {
	classes []ObjectClass
}

func (s *stubClasses) Classify(context.Context, Frame) ([]ObjectClass, error) {
	return s.classes, nil
}

func TestMobilityAidDetector(t *testing.T) {
	t.Parallel()

	cfg := conf.DetectorSettings{Threshold: 0.5}

	tests := []struct {
		name    string
		classes []ObjectClass
		want    bool
	}{
		{"wheelchair above threshold", []ObjectClass{{Label: "wheelchair", Confidence: 0.8}}, true},
		{"wheelchair below threshold", []ObjectClass{{Label: "wheelchair", Confidence: 0.3}}, false},
		{"crutches", []ObjectClass{{Label: "crutches", Confidence: 0.7}}, true},
		{"unrelated object", []ObjectClass{{Label: "shopping-cart", Confidence: 0.99}}, false},
		{"empty frame", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			det := NewMobilityAidDetector(&stubClasses{classes: tt.classes}, cfg)
			signal, err := det.ProcessFrame(context.Background(), Frame{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, signal.Positive)
		})
	}
}

func TestMobilityAidEventType(t *testing.T) {
	t.Parallel()

	det := NewMobilityAidDetector(&stubClasses{}, conf.DetectorSettings{})
	assert.Equal(t, EventWheelchair, det.EventType())
	assert.Equal(t, "mobility-aid", det.Name())
}

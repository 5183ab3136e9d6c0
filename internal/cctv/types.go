// Package cctv implements the safety event detector pipeline: independent
// detectors scan camera frames for falls, violence and mobility-aid
// appearances, debounce their raw per-frame signals into confirmed events and
// hand those events to a sink fan-out.
package cctv

import (
	"context"
	"image"
	"time"
)

// EventType identifies a confirmed safety event.
type EventType string

const (
	EventFall       EventType = "FALL"
	EventViolence   EventType = "VIOLENCE"
	EventWheelchair EventType = "WHEELCHAIR"
	// EventVandalism is reserved for the vandalism detector; no bundled
	// capability emits it yet.
	EventVandalism EventType = "VANDALISM"
)

// Frame is one camera frame with its position in the stream. Index is
// monotonically increasing per camera.
type Frame struct {
	Index      int
	CapturedAt time.Time
	Image      image.Image
}

// Signal is a detector's raw verdict for a single frame, before debouncing.
type Signal struct {
	Positive   bool
	Confidence float64
}

// Detector scans frames for one event type. Implementations own their
// internal state and are driven by exactly one goroutine at a time; the
// pipeline never shares a detector between concurrent batches.
type Detector interface {
	Name() string
	EventType() EventType
	ProcessFrame(ctx context.Context, frame Frame) (Signal, error)
}

// Event is a debounced, confirmed safety event. The clip window brackets the
// confirming frame with the configured half window on each side, clamped to
// the frames the ring buffer still holds.
type Event struct {
	Type       EventType
	Detector   string
	Confidence float64
	StoreCode  string
	DeviceCode string

	// Confirmation position.
	FrameIndex int
	StartedAt  time.Time
	EndedAt    time.Time

	// Clip window frame indices, inclusive.
	ClipStart int
	ClipEnd   int
	Clip      []Frame

	Meta map[string]any
}

// EventSink receives confirmed events. Sinks are best-effort and independent;
// a failing sink never blocks the others.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

package cctv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trayvision/trayvision-go/internal/conf"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedDetector returns a prepared signal per frame index and records the
// order frames were seen in.
type scriptedDetector struct {
	name      string
	eventType EventType
	positives map[int]bool
	errOn     map[int]bool
	delay     time.Duration

	mu   sync.Mutex
	seen []int
}

func (d *scriptedDetector) Name() string         { return d.name }
func (d *scriptedDetector) EventType() EventType { return d.eventType }

func (d *scriptedDetector) ProcessFrame(_ context.Context, frame Frame) (Signal, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	d.seen = append(d.seen, frame.Index)
	d.mu.Unlock()

	if d.errOn[frame.Index] {
		return Signal{}, errors.New("frame unreadable")
	}
	if d.positives[frame.Index] {
		return Signal{Positive: true, Confidence: 0.9}, nil
	}
	return Signal{}, nil
}

func (d *scriptedDetector) seenFrames() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.seen))
	copy(out, d.seen)
	return out
}

// captureSink collects published events.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func testCCTVSettings() conf.CCTVSettings {
	return conf.CCTVSettings{
		FPS:               10,
		ClipHalfWindowSec: 1,
		Fall:              conf.DetectorSettings{Enabled: true, MinConsecutiveFrames: 2},
		Violence:          conf.DetectorSettings{Enabled: true, MinConsecutiveFrames: 2},
		MobilityAid:       conf.DetectorSettings{Enabled: true, MinConsecutiveFrames: 2},
	}
}

func batch(n int) []Frame {
	base := time.Now()
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = Frame{Index: i, CapturedAt: base.Add(time.Duration(i) * 100 * time.Millisecond)}
	}
	return frames
}

func TestPipelineConfirmsDebouncedEvent(t *testing.T) {
	fall := &scriptedDetector{
		name: "fall", eventType: EventFall,
		positives: map[int]bool{3: true, 4: true},
	}
	sink := &captureSink{}
	p := NewPipeline([]Detector{fall}, testCCTVSettings(),
		WithSinks(sink), WithSource("S001", "CAM-1"))

	events := p.ProcessBatch(context.Background(), batch(10))
	p.Wait()

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, EventFall, ev.Type)
	assert.Equal(t, "fall", ev.Detector)
	assert.Equal(t, 4, ev.FrameIndex, "confirmation lands on the second consecutive hit")
	assert.Equal(t, "S001", ev.StoreCode)
	assert.Equal(t, "CAM-1", ev.DeviceCode)

	require.Len(t, sink.all(), 1)
}

func TestPipelineSingleHitDoesNotConfirm(t *testing.T) {
	fall := &scriptedDetector{
		name: "fall", eventType: EventFall,
		positives: map[int]bool{3: true, 5: true, 7: true}, // never consecutive
	}
	p := NewPipeline([]Detector{fall}, testCCTVSettings())

	events := p.ProcessBatch(context.Background(), batch(10))
	assert.Empty(t, events)
}

func TestPipelineDetectorsRunIndependently(t *testing.T) {
	fall := &scriptedDetector{
		name: "fall", eventType: EventFall,
		errOn: map[int]bool{0: true, 1: true, 2: true}, // fall detector broken
	}
	violence := &scriptedDetector{
		name: "violence", eventType: EventViolence,
		positives: map[int]bool{1: true, 2: true},
	}
	p := NewPipeline([]Detector{fall, violence}, testCCTVSettings())

	events := p.ProcessBatch(context.Background(), batch(5))

	// The broken detector confirms nothing and does not cancel the other.
	require.Len(t, events, 1)
	assert.Equal(t, EventViolence, events[0].Type)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, fall.seenFrames(), "errors skip the frame, not the batch")
}

func TestPipelineFramesInOrderPerDetector(t *testing.T) {
	slow := &scriptedDetector{name: "fall", eventType: EventFall, delay: time.Millisecond}
	fast := &scriptedDetector{name: "violence", eventType: EventViolence}
	p := NewPipeline([]Detector{slow, fast}, testCCTVSettings())

	p.ProcessBatch(context.Background(), batch(8))

	want := []int{0, 1, 2, 3, 4, 5, 6, 7}
	assert.Equal(t, want, slow.seenFrames())
	assert.Equal(t, want, fast.seenFrames())
}

func TestPipelineStatePersistsAcrossBatches(t *testing.T) {
	fall := &scriptedDetector{
		name: "fall", eventType: EventFall,
		positives: map[int]bool{4: true, 5: true},
	}
	p := NewPipeline([]Detector{fall}, testCCTVSettings())

	frames := batch(10)
	// Split so the two consecutive hits straddle the batch boundary.
	assert.Empty(t, p.ProcessBatch(context.Background(), frames[:5]))
	events := p.ProcessBatch(context.Background(), frames[5:])
	require.Len(t, events, 1)
	assert.Equal(t, 5, events[0].FrameIndex)
}

func TestPipelineEmptyInputs(t *testing.T) {
	p := NewPipeline(nil, testCCTVSettings())
	assert.Nil(t, p.ProcessBatch(context.Background(), batch(3)))

	p = NewPipeline([]Detector{&scriptedDetector{name: "fall", eventType: EventFall}}, testCCTVSettings())
	assert.Nil(t, p.ProcessBatch(context.Background(), nil))
}

type failingSink struct{ calls int }

func (s *failingSink) Publish(context.Context, Event) error {
	s.calls++
	return errors.New("sink unavailable")
}

func TestPipelineSinkFailureIsSwallowed(t *testing.T) {
	fall := &scriptedDetector{
		name: "fall", eventType: EventFall,
		positives: map[int]bool{0: true, 1: true},
	}
	good := &captureSink{}
	p := NewPipeline([]Detector{fall}, testCCTVSettings(),
		WithSinks(&failingSink{}, good))

	events := p.ProcessBatch(context.Background(), batch(4))
	p.Wait()

	require.Len(t, events, 1)
	assert.Len(t, good.all(), 1, "a failing sink never blocks the others")
}

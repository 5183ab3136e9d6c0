package cctv

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/logging"
	"github.com/trayvision/trayvision-go/internal/observability"
)

// detectorSlot pairs a detector with its private debounce state. The slot is
// owned by exactly one goroutine per batch, so no locking happens on the hot
// frame path.
type detectorSlot struct {
	detector Detector
	state    *debounceState
}

// Pipeline fans frame batches out to all registered detectors concurrently.
// Frames are processed strictly in order within each detector; detectors
// never wait on each other, and one detector failing confirms nothing and
// cancels nobody.
type Pipeline struct {
	slots      []*detectorSlot
	sinks      []EventSink
	storeCode  string
	deviceCode string
	metrics    *observability.CCTVMetrics
	logger     *slog.Logger

	mu     sync.Mutex // serializes ProcessBatch; slots hold per-batch state
	sinkWG sync.WaitGroup
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSinks registers event sinks.
func WithSinks(sinks ...EventSink) PipelineOption {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

// WithSource tags emitted events with the originating store and device.
func WithSource(storeCode, deviceCode string) PipelineOption {
	return func(p *Pipeline) {
		p.storeCode = storeCode
		p.deviceCode = deviceCode
	}
}

// WithMetrics attaches the detector metric collectors.
func WithMetrics(m *observability.CCTVMetrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline builds a pipeline from the enabled detectors.
func NewPipeline(detectors []Detector, cfg conf.CCTVSettings, opts ...PipelineOption) *Pipeline {
	logger := logging.ForService("cctv")
	if logger == nil {
		logger = slog.Default().With("service", "cctv")
	}
	p := &Pipeline{logger: logger}
	for _, o := range opts {
		o(p)
	}

	for _, det := range detectors {
		p.slots = append(p.slots, &detectorSlot{
			detector: det,
			state:    newDebounceState(detectorConfig(det, cfg), cfg.FPS, cfg.ClipHalfWindowSec),
		})
	}
	return p
}

// detectorConfig resolves the per-detector settings block by event type.
func detectorConfig(det Detector, cfg conf.CCTVSettings) conf.DetectorSettings {
	switch det.EventType() {
	case EventFall:
		return cfg.Fall
	case EventViolence:
		return cfg.Violence
	case EventWheelchair:
		return cfg.MobilityAid
	default:
		return conf.DetectorSettings{MinConsecutiveFrames: 1}
	}
}

// ProcessBatch runs every detector over the batch concurrently and returns
// the confirmed events, in no particular order across detectors. The call
// blocks until all detectors finish the batch. Detector errors are logged and
// skipped for the failing frame only.
func (p *Pipeline) ProcessBatch(ctx context.Context, frames []Frame) []Event {
	if len(frames) == 0 || len(p.slots) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	results := make(chan Event, len(p.slots)*len(frames))
	var wg sync.WaitGroup
	for _, slot := range p.slots {
		wg.Add(1)
		go func(slot *detectorSlot) {
			defer wg.Done()
			p.runDetector(ctx, slot, frames, results)
		}(slot)
	}
	wg.Wait()
	close(results)

	var events []Event
	for ev := range results {
		events = append(events, ev)
		p.dispatch(ctx, ev)
	}
	return events
}

// runDetector feeds the batch through one detector in frame order.
func (p *Pipeline) runDetector(ctx context.Context, slot *detectorSlot, frames []Frame, out chan<- Event) {
	det := slot.detector
	for _, frame := range frames {
		if ctx.Err() != nil {
			return
		}
		signal, err := det.ProcessFrame(ctx, frame)
		if p.metrics != nil {
			p.metrics.FramesProcessed.WithLabelValues(det.Name()).Inc()
		}
		if err != nil {
			if p.metrics != nil {
				p.metrics.DetectorErrors.WithLabelValues(det.Name()).Inc()
			}
			// An unreadable frame for one detector is not an incident and
			// not a reason to stop scanning.
			p.logger.Error("detector frame failed",
				"detector", det.Name(),
				"frame", frame.Index,
				"error", err)
			signal = Signal{}
		}

		confirmed := slot.state.observe(frame, signal)
		if confirmed == nil {
			continue
		}
		confirmed.Type = det.EventType()
		confirmed.Detector = det.Name()
		confirmed.StoreCode = p.storeCode
		confirmed.DeviceCode = p.deviceCode
		if p.metrics != nil {
			p.metrics.EventsConfirmed.WithLabelValues(string(confirmed.Type)).Inc()
		}

		p.logger.Info("event confirmed",
			"detector", det.Name(),
			"type", confirmed.Type,
			"frame", confirmed.FrameIndex,
			"confidence", confirmed.Confidence,
			"clip_start", confirmed.ClipStart,
			"clip_end", confirmed.ClipEnd)
		out <- *confirmed
	}
}

// dispatch fans the event out to all sinks, each best-effort on its own
// goroutine.
func (p *Pipeline) dispatch(ctx context.Context, event Event) {
	for _, sink := range p.sinks {
		p.sinkWG.Add(1)
		go func(sink EventSink) {
			defer p.sinkWG.Done()
			if err := sink.Publish(ctx, event); err != nil {
				if p.metrics != nil {
					p.metrics.SinkFailures.WithLabelValues(fmt.Sprintf("%T", sink)).Inc()
				}
				p.logger.Warn("event sink failed",
					"type", event.Type,
					"error", err)
			}
		}(sink)
	}
}

// Wait blocks until in-flight sink deliveries finish. Call on shutdown.
func (p *Pipeline) Wait() {
	p.sinkWG.Wait()
}

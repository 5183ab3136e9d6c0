package recognition

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"

	"github.com/trayvision/trayvision-go/internal/catalog"
	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/logging"
)

// subImager is implemented by the stdlib image types the decoder produces.
type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Pipeline orchestrates detector -> crop -> embed -> knn -> gate ->
// aggregate for one frame. It holds no mutable shared state besides the
// swappable index pointer and is safe for concurrent Infer calls.
type Pipeline struct {
	detector ObjectDetector
	encoder  Encoder
	index    atomic.Pointer[catalog.Index]
	cfg      conf.RecognitionSettings
	logger   *slog.Logger
}

// NewPipeline constructs a pipeline with explicit configuration. Thresholds
// come from the caller, never from process-wide state, so tests can
// instantiate arbitrary policies.
func NewPipeline(detector ObjectDetector, encoder Encoder, index *catalog.Index, cfg conf.RecognitionSettings) *Pipeline {
	p := &Pipeline{
		detector: detector,
		encoder:  encoder,
		cfg:      cfg,
		logger:   logging.ForService("recognition"),
	}
	if p.logger == nil {
		p.logger = slog.Default().With("service", "recognition")
	}
	if index != nil {
		p.index.Store(index)
	}
	return p
}

// SetIndex swaps the catalog index, e.g. after a prototype set activation.
// Safe to call while Infer runs; in-flight queries keep the old index.
func (p *Pipeline) SetIndex(index *catalog.Index) {
	p.index.Store(index)
}

// IndexLoaded reports whether a catalog index is available.
func (p *Pipeline) IndexLoaded() bool {
	idx := p.index.Load()
	return idx != nil && idx.Len() > 0
}

// Infer runs the recognition pipeline on one frame. Capability failures and
// a missing catalog are downgraded to UNKNOWN results with a note: "I don't
// know" is a valid business answer, a crash is not. The returned result is
// never nil.
func (p *Pipeline) Infer(ctx context.Context, frame image.Image) *Result {
	index := p.index.Load()
	if index == nil || index.Len() == 0 {
		p.logger.Warn("inference without catalog index, reporting UNKNOWN")
		return &Result{Decision: DecisionUnknown, Notes: "prototype index not loaded"}
	}

	detections, err := p.detector.Detect(ctx, frame)
	if err != nil {
		p.logger.Error("object detector failed", "error", err)
		return &Result{Decision: DecisionUnknown, Notes: fmt.Sprintf("detector error: %v", err)}
	}

	detections = p.filterConfident(detections)
	if len(detections) == 0 {
		// No encoder call for empty frames.
		return &Result{Decision: DecisionUnknown, Notes: "no detections"}
	}

	instances := make([]Instance, 0, len(detections))
	for i := range detections {
		inst, err := p.matchInstance(ctx, index, frame, &detections[i], len(instances)+1)
		if err != nil {
			p.logger.Error("instance matching failed", "instance", i+1, "error", err)
			return &Result{Decision: DecisionUnknown, Notes: fmt.Sprintf("encoder error: %v", err)}
		}
		instances = append(instances, *inst)
	}

	decision, items := Aggregate(instances)
	result := &Result{
		Decision:     decision,
		OverlapScore: overlapScore(detections),
		Instances:    instances,
		Items:        items,
	}

	// Heavy instance overlap means items may occlude each other; force a
	// human look instead of trusting the match. Review-queue insertion is
	// suppressed for overlap blocks so the kiosk can prompt a re-placement.
	if result.OverlapScore >= p.cfg.OverlapBlockThreshold && p.cfg.OverlapBlockThreshold > 0 && len(instances) > 1 {
		if result.Decision == DecisionAuto {
			result.Decision = DecisionReview
		}
		result.BlockReason = "OVERLAP"
	}

	return result
}

// filterConfident drops detections below the configured detector confidence.
func (p *Pipeline) filterConfident(detections []Detection) []Detection {
	if p.cfg.DetectorConfidence <= 0 {
		return detections
	}
	kept := detections[:0]
	for _, d := range detections {
		if d.Confidence >= p.cfg.DetectorConfidence {
			kept = append(kept, d)
		}
	}
	return kept
}

// matchInstance crops the detection region, embeds it and gates the ranked
// neighbor list into a per-instance state. The index is the snapshot taken
// at the top of Infer so every instance in one frame matches against the
// same catalog.
func (p *Pipeline) matchInstance(ctx context.Context, index *catalog.Index, frame image.Image, det *Detection, instanceID int) (*Instance, error) {
	crop := cropFrame(frame, det.BBox)
	query, err := p.encoder.Embed(ctx, crop)
	if err != nil {
		return nil, err
	}

	topK := index.KNN(query, p.cfg.TopK)

	inst := &Instance{
		InstanceID: instanceID,
		Confidence: det.Confidence,
		BBox:       det.BBox,
		MaskArea:   det.MaskArea,
		TopK:       topK,
		Qty:        1,
	}
	if len(topK) == 0 {
		inst.State = DecisionUnknown
		return inst, nil
	}

	state, margin := GateNeighbors(topK, p.cfg.UnknownDistanceThreshold, p.cfg.MarginThreshold)
	inst.BestItemID = topK[0].ItemID
	inst.MatchDistance = topK[0].Distance
	inst.MatchMargin = margin
	inst.State = state
	return inst, nil
}

// cropFrame extracts the detection region, clamped to frame bounds. Frames
// decoded by image/jpeg and image/png support SubImage; anything else falls
// back to the whole frame.
func cropFrame(frame image.Image, box BBox) image.Image {
	rect := box.Rect().Intersect(frame.Bounds())
	if rect.Empty() {
		return frame
	}
	if si, ok := frame.(subImager); ok {
		return si.SubImage(rect)
	}
	return frame
}

// overlapScore is the maximum pairwise intersection-over-union across
// detected instances. 0 when fewer than two instances exist.
func overlapScore(detections []Detection) float64 {
	var maxIoU float64
	for i := 0; i < len(detections); i++ {
		for j := i + 1; j < len(detections); j++ {
			if iou := boxIoU(detections[i].BBox, detections[j].BBox); iou > maxIoU {
				maxIoU = iou
			}
		}
	}
	return maxIoU
}

func boxIoU(a, b BBox) float64 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0
	}
	interArea := inter.Dx() * inter.Dy()
	union := a.Area() + b.Area() - interArea
	if union <= 0 {
		return 0
	}
	return float64(interArea) / float64(union)
}

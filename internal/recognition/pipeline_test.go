package recognition

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trayvision/trayvision-go/internal/catalog"
	"github.com/trayvision/trayvision-go/internal/conf"
)

func testRecognitionSettings() conf.RecognitionSettings {
	return conf.RecognitionSettings{
		UnknownDistanceThreshold: 0.35,
		MarginThreshold:          0.03,
		TopK:                     5,
		OverlapBlockThreshold:    0.25,
	}
}

func testFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 640, 480))
}

// twoItemIndex holds two well-separated prototypes so an exact query on
// either one gates to AUTO.
func twoItemIndex(t *testing.T) (*catalog.Index, []float32, []float32) {
	t.Helper()
	vecA := []float32{1, 0, 0, 0}
	vecB := []float32{0, 1, 0, 0}
	idx, err := catalog.NewIndex([]int{101, 205}, [][]float32{vecA, vecB})
	require.NoError(t, err)
	return idx, vecA, vecB
}

func TestInferMissingIndexIsUnknown(t *testing.T) {
	t.Parallel()

	p := NewPipeline(&MockDetector{}, &MockEncoder{}, nil, testRecognitionSettings())
	res := p.Infer(context.Background(), testFrame())
	require.NotNil(t, res)
	assert.Equal(t, DecisionUnknown, res.Decision)
	assert.Empty(t, res.Items)
	assert.False(t, p.IndexLoaded())
}

func TestInferZeroDetectionsIsUnknown(t *testing.T) {
	t.Parallel()

	idx, _, _ := twoItemIndex(t)
	encoder := &MockEncoder{Err: errors.New("encoder must not be called for empty frames")}
	p := NewPipeline(&MockDetector{}, encoder, idx, testRecognitionSettings())

	res := p.Infer(context.Background(), testFrame())
	assert.Equal(t, DecisionUnknown, res.Decision)
	assert.Empty(t, res.Items)
	assert.Empty(t, res.Instances)
}

func TestInferExactMatchIsAuto(t *testing.T) {
	t.Parallel()

	idx, vecA, _ := twoItemIndex(t)
	detector := &MockDetector{Detections: []Detection{
		{BBox: BBox{X: 10, Y: 10, W: 100, H: 100}, Confidence: 0.95},
	}}
	p := NewPipeline(detector, &MockEncoder{Vectors: [][]float32{vecA}}, idx, testRecognitionSettings())

	res := p.Infer(context.Background(), testFrame())
	require.Len(t, res.Instances, 1)
	assert.Equal(t, DecisionAuto, res.Decision)
	assert.Equal(t, 1, res.Instances[0].InstanceID)
	assert.Equal(t, 101, res.Instances[0].BestItemID)
	assert.InDelta(t, 0.0, res.Instances[0].MatchDistance, 1e-6)
	assert.Equal(t, []ItemCount{{ItemID: 101, Qty: 1}}, res.Items)
	assert.Empty(t, res.BlockReason)
}

func TestInferTwoInstancesTallyPerItem(t *testing.T) {
	t.Parallel()

	idx, vecA, vecB := twoItemIndex(t)
	detector := &MockDetector{Detections: []Detection{
		{BBox: BBox{X: 0, Y: 0, W: 100, H: 100}, Confidence: 0.9},
		{BBox: BBox{X: 300, Y: 300, W: 100, H: 100}, Confidence: 0.9},
	}}
	p := NewPipeline(detector, &MockEncoder{Vectors: [][]float32{vecA, vecB}}, idx, testRecognitionSettings())

	res := p.Infer(context.Background(), testFrame())
	require.Len(t, res.Instances, 2)
	assert.Equal(t, DecisionAuto, res.Decision)
	assert.Equal(t, []ItemCount{{ItemID: 101, Qty: 1}, {ItemID: 205, Qty: 1}}, res.Items)
	assert.Zero(t, res.OverlapScore)
}

func TestInferDetectorErrorDowngradesToUnknown(t *testing.T) {
	t.Parallel()

	idx, _, _ := twoItemIndex(t)
	detector := &MockDetector{Err: errors.New("model backend unavailable")}
	p := NewPipeline(detector, &MockEncoder{}, idx, testRecognitionSettings())

	res := p.Infer(context.Background(), testFrame())
	assert.Equal(t, DecisionUnknown, res.Decision)
	assert.Contains(t, res.Notes, "detector error")
}

func TestInferEncoderErrorDowngradesToUnknown(t *testing.T) {
	t.Parallel()

	idx, _, _ := twoItemIndex(t)
	detector := &MockDetector{Detections: []Detection{
		{BBox: BBox{X: 10, Y: 10, W: 50, H: 50}, Confidence: 0.9},
	}}
	p := NewPipeline(detector, &MockEncoder{Err: errors.New("embed timeout")}, idx, testRecognitionSettings())

	res := p.Infer(context.Background(), testFrame())
	assert.Equal(t, DecisionUnknown, res.Decision)
	assert.Contains(t, res.Notes, "encoder error")
}

func TestInferLowConfidenceDetectionsDropped(t *testing.T) {
	t.Parallel()

	cfg := testRecognitionSettings()
	cfg.DetectorConfidence = 0.5
	idx, vecA, _ := twoItemIndex(t)
	detector := &MockDetector{Detections: []Detection{
		{BBox: BBox{X: 10, Y: 10, W: 50, H: 50}, Confidence: 0.2},
		{BBox: BBox{X: 200, Y: 200, W: 50, H: 50}, Confidence: 0.8},
	}}
	p := NewPipeline(detector, &MockEncoder{Vectors: [][]float32{vecA}}, idx, cfg)

	res := p.Infer(context.Background(), testFrame())
	require.Len(t, res.Instances, 1)
	assert.InDelta(t, 0.8, res.Instances[0].Confidence, 1e-9)
}

func TestInferOverlapForcesReview(t *testing.T) {
	t.Parallel()

	idx, vecA, vecB := twoItemIndex(t)
	// Nearly coincident boxes: IoU well above the 0.25 block threshold.
	detector := &MockDetector{Detections: []Detection{
		{BBox: BBox{X: 10, Y: 10, W: 100, H: 100}, Confidence: 0.9},
		{BBox: BBox{X: 20, Y: 10, W: 100, H: 100}, Confidence: 0.9},
	}}
	p := NewPipeline(detector, &MockEncoder{Vectors: [][]float32{vecA, vecB}}, idx, testRecognitionSettings())

	res := p.Infer(context.Background(), testFrame())
	assert.Equal(t, DecisionReview, res.Decision)
	assert.Equal(t, "OVERLAP", res.BlockReason)
	assert.GreaterOrEqual(t, res.OverlapScore, 0.25)
	// Item tally is still reported so the kiosk can show what it saw.
	assert.Len(t, res.Items, 2)
}

func TestInferSingleInstanceNeverOverlapBlocked(t *testing.T) {
	t.Parallel()

	idx, vecA, _ := twoItemIndex(t)
	detector := &MockDetector{Detections: []Detection{
		{BBox: BBox{X: 10, Y: 10, W: 100, H: 100}, Confidence: 0.9},
	}}
	p := NewPipeline(detector, &MockEncoder{Vectors: [][]float32{vecA}}, idx, testRecognitionSettings())

	res := p.Infer(context.Background(), testFrame())
	assert.Equal(t, DecisionAuto, res.Decision)
	assert.Empty(t, res.BlockReason)
}

// hookedEncoder runs a hook before each embedding, letting a test mutate the
// pipeline mid-frame.
type hookedEncoder struct {
	inner MockEncoder
	hook  func(call int)
	calls int
}

func (h *hookedEncoder) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	h.calls++
	if h.hook != nil {
		h.hook(h.calls)
	}
	return h.inner.Embed(ctx, crop)
}

func TestInferUsesOneIndexSnapshotPerFrame(t *testing.T) {
	t.Parallel()

	idx, vecA, _ := twoItemIndex(t)
	detector := &MockDetector{Detections: []Detection{
		{BBox: BBox{X: 10, Y: 10, W: 100, H: 100}, Confidence: 0.9},
		{BBox: BBox{X: 300, Y: 10, W: 100, H: 100}, Confidence: 0.9},
	}}
	encoder := &hookedEncoder{inner: MockEncoder{Vectors: [][]float32{vecA, vecA}}}
	p := NewPipeline(detector, encoder, idx, testRecognitionSettings())

	swapped, err := catalog.NewIndex([]int{777}, [][]float32{vecA})
	require.NoError(t, err)
	encoder.hook = func(call int) {
		if call == 2 {
			p.SetIndex(swapped)
		}
	}

	res := p.Infer(context.Background(), testFrame())
	require.Len(t, res.Instances, 2)
	// The swap landed mid-frame; every instance still matches the catalog
	// the frame started with.
	assert.Equal(t, 101, res.Instances[0].BestItemID)
	assert.Equal(t, 101, res.Instances[1].BestItemID)

	res = p.Infer(context.Background(), testFrame())
	assert.Equal(t, 777, res.Instances[0].BestItemID)
}

func TestSetIndexHotSwap(t *testing.T) {
	t.Parallel()

	idx, vecA, _ := twoItemIndex(t)
	detector := &MockDetector{Detections: []Detection{
		{BBox: BBox{X: 10, Y: 10, W: 100, H: 100}, Confidence: 0.9},
	}}
	p := NewPipeline(detector, &MockEncoder{Vectors: [][]float32{vecA, vecA}}, idx, testRecognitionSettings())

	res := p.Infer(context.Background(), testFrame())
	assert.Equal(t, 101, res.Instances[0].BestItemID)

	swapped, err := catalog.NewIndex([]int{777}, [][]float32{vecA})
	require.NoError(t, err)
	p.SetIndex(swapped)

	res = p.Infer(context.Background(), testFrame())
	assert.Equal(t, 777, res.Instances[0].BestItemID)
}

package recognition

import (
	"context"
	"hash/fnv"
	"image"
)

// ObjectDetector is the external object detection capability. Models are
// opaque; only this contract matters to the pipeline.
type ObjectDetector interface {
	// Detect returns zero or more detected instances for the frame.
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)
}

// Encoder is the external embedding encoder capability. It maps a cropped
// instance image to a fixed-length query vector.
type Encoder interface {
	Embed(ctx context.Context, crop image.Image) ([]float32, error)
}

// FrameFetcher resolves a storage URI to raw frame bytes. Object storage is
// an external collaborator; this is its only relevant behavior.
type FrameFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// --- Mock capabilities ---
//
// Used when recognition.mockmode is enabled and throughout tests. The mock
// encoder is deterministic per crop geometry so knn behavior is reproducible.

// MockDetector returns a fixed set of detections for any frame.
type MockDetector struct {
	Detections []Detection
	Err        error
}

func (m *MockDetector) Detect(_ context.Context, _ image.Image) ([]Detection, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]Detection, len(m.Detections))
	copy(out, m.Detections)
	return out, nil
}

// MockEncoder returns deterministic pseudo-embeddings derived from the crop
// bounds, or a fixed sequence of vectors when Vectors is set.
type MockEncoder struct {
	Dim     int
	Vectors [][]float32 // served in order when non-empty
	Err     error

	next int
}

func (m *MockEncoder) Embed(_ context.Context, crop image.Image) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Vectors) > 0 {
		v := m.Vectors[m.next%len(m.Vectors)]
		m.next++
		return v, nil
	}

	dim := m.Dim
	if dim == 0 {
		dim = 8
	}
	h := fnv.New64a()
	b := crop.Bounds()
	_, _ = h.Write([]byte{
		byte(b.Min.X), byte(b.Min.Y), byte(b.Max.X), byte(b.Max.Y),
	})
	seed := h.Sum64()

	vec := make([]float32, dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)%1000) / 1000.0
	}
	return vec, nil
}

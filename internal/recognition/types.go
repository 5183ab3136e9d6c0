// Package recognition implements the tray recognition decision engine:
// gating policy, per-frame aggregation and the detector -> crop -> embed ->
// match pipeline.
package recognition

import (
	"image"

	"github.com/trayvision/trayvision-go/internal/catalog"
)

// DecisionState is the per-instance and session-level decision outcome.
type DecisionState string

const (
	DecisionAuto    DecisionState = "AUTO"
	DecisionReview  DecisionState = "REVIEW"
	DecisionUnknown DecisionState = "UNKNOWN"
)

// Valid reports whether s is one of the three decision states.
func (s DecisionState) Valid() bool {
	switch s {
	case DecisionAuto, DecisionReview, DecisionUnknown:
		return true
	default:
		return false
	}
}

// BBox is a serializable bounding region.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect converts the box to an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Area returns the box area in pixels.
func (b BBox) Area() int {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Detection is one detected object instance produced by the external object
// detector capability. Ephemeral, consumed immediately by matching.
type Detection struct {
	BBox       BBox
	Confidence float64
	MaskArea   int // optional, 0 when the detector provides no mask
}

// Instance is the per-detection match result.
type Instance struct {
	InstanceID    int                `json:"instance_id"`
	Confidence    float64            `json:"confidence"`
	BBox          BBox               `json:"bbox"`
	MaskArea      int                `json:"mask_area,omitempty"`
	TopK          []catalog.Neighbor `json:"top_k"`
	BestItemID    int                `json:"best_item_id"`
	MatchDistance float64            `json:"match_distance"`
	MatchMargin   float64            `json:"match_margin"`
	State         DecisionState      `json:"state"`
	Qty           int                `json:"qty"`
}

// ItemCount is an aggregated (item, quantity) pair for billing.
type ItemCount struct {
	ItemID int `json:"item_id"`
	Qty    int `json:"qty"`
}

// Result is the full outcome of one frame inference.
type Result struct {
	Decision     DecisionState `json:"decision"`
	OverlapScore float64       `json:"overlap_score"`
	Instances    []Instance    `json:"instances"`
	Items        []ItemCount   `json:"items"`
	BlockReason  string        `json:"block_reason,omitempty"`
	Notes        string        `json:"notes,omitempty"`
}

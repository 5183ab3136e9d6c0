// Package catalog provides the in-memory similarity index over catalog item
// embeddings and its loading from the prototype store.
package catalog

import (
	"fmt"
	"math"
	"sort"
)

// Neighbor is one ranked k-nearest-neighbor result.
type Neighbor struct {
	ItemID   int     `json:"item_id"`
	Distance float64 `json:"distance"`
}

// Index is an immutable in-memory store of catalog item embeddings. It is
// read-only after construction and safe for concurrent queries.
type Index struct {
	itemIDs []int
	vectors [][]float32 // L2-normalized at load time
	dim     int
}

// NewIndex builds an index from parallel slices of item ids and embedding
// vectors. Vectors are normalized on load so queries compare by cosine
// distance directly. Building is the only mutation path; there is no
// incremental insert.
func NewIndex(itemIDs []int, vectors [][]float32) (*Index, error) {
	if len(itemIDs) != len(vectors) {
		return nil, fmt.Errorf("item id count %d does not match vector count %d", len(itemIDs), len(vectors))
	}
	idx := &Index{
		itemIDs: make([]int, len(itemIDs)),
		vectors: make([][]float32, len(vectors)),
	}
	copy(idx.itemIDs, itemIDs)

	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding for item %d", itemIDs[i])
		}
		if idx.dim == 0 {
			idx.dim = len(v)
		} else if len(v) != idx.dim {
			return nil, fmt.Errorf("embedding dimension mismatch for item %d: got %d, want %d", itemIDs[i], len(v), idx.dim)
		}
		idx.vectors[i] = normalize(v)
	}
	return idx, nil
}

// Len returns the number of catalog entries in the index.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.itemIDs)
}

// Dim returns the embedding dimension, 0 for an empty index.
func (idx *Index) Dim() int {
	if idx == nil {
		return 0
	}
	return idx.dim
}

// KNN returns the k nearest catalog entries to the query by cosine distance
// (1 - cosine similarity), ascending. The query is normalized inside the
// call, so callers need not pre-normalize. An empty index yields an empty
// list rather than an error so callers can fall back to UNKNOWN.
func (idx *Index) KNN(query []float32, k int) []Neighbor {
	if idx == nil || len(idx.itemIDs) == 0 || k <= 0 || len(query) == 0 {
		return nil
	}

	q := normalize(query)
	neighbors := make([]Neighbor, 0, len(idx.itemIDs))
	for i, v := range idx.vectors {
		neighbors = append(neighbors, Neighbor{
			ItemID:   idx.itemIDs[i],
			Distance: 1.0 - dot(v, q),
		})
	}

	sort.SliceStable(neighbors, func(a, b int) bool {
		return neighbors[a].Distance < neighbors[b].Distance
	})

	if k < len(neighbors) {
		neighbors = neighbors[:k]
	}
	return neighbors
}

// normalize returns v scaled to unit length. A small epsilon keeps the zero
// vector from dividing by zero, matching the loader's behavior for stored
// prototypes.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + 1e-12
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// dot computes the inner product of two equal-length vectors. Dimension
// mismatches contribute only over the shorter prefix; NewIndex guarantees
// stored vectors share one dimension.
func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

package cctv

import (
	"context"
	"image"

	"github.com/trayvision/trayvision-go/internal/cctv"
)

// Stand-in capabilities for environments without model serving. The motion
// heuristic measures inter-frame pixel change; pose and object capabilities
// report nothing, so their detectors stay silent until real backends are
// wired in deployment.

type heuristicPoses struct{}

func (heuristicPoses) Poses(context.Context, cctv.Frame) ([]cctv.Pose, error) {
	return nil, nil
}

type heuristicObjects struct{}

func (heuristicObjects) Classify(context.Context, cctv.Frame) ([]cctv.ObjectClass, error) {
	return nil, nil
}

const motionGrid = 32 // downsample edge length for the motion heuristic

type heuristicMotion struct {
	prev *[motionGrid][motionGrid]uint8
}

// ViolenceProbability approximates motion energy as the fraction of
// downsampled cells whose luminance moved by more than 10%.
func (h *heuristicMotion) ViolenceProbability(_ context.Context, frame cctv.Frame) (float64, error) {
	if frame.Image == nil {
		return 0, nil
	}
	grid := downsample(frame.Image)
	if h.prev == nil {
		h.prev = grid
		return 0, nil
	}

	changed := 0
	for y := 0; y < motionGrid; y++ {
		for x := 0; x < motionGrid; x++ {
			diff := int(grid[y][x]) - int(h.prev[y][x])
			if diff < 0 {
				diff = -diff
			}
			if diff > 25 {
				changed++
			}
		}
	}
	h.prev = grid
	return float64(changed) / float64(motionGrid*motionGrid), nil
}

func downsample(img image.Image) *[motionGrid][motionGrid]uint8 {
	bounds := img.Bounds()
	var grid [motionGrid][motionGrid]uint8
	if bounds.Empty() {
		return &grid
	}
	for gy := 0; gy < motionGrid; gy++ {
		for gx := 0; gx < motionGrid; gx++ {
			px := bounds.Min.X + gx*bounds.Dx()/motionGrid
			py := bounds.Min.Y + gy*bounds.Dy()/motionGrid
			r, g, b, _ := img.At(px, py).RGBA()
			grid[gy][gx] = uint8((299*r + 587*g + 114*b) / 1000 >> 8)
		}
	}
	return &grid
}

package cctv

import (
	"time"

	"github.com/trayvision/trayvision-go/internal/conf"
)

// debounceState turns a detector's raw per-frame signals into confirmations.
// A confirmation requires minConsecutive positive frames in a row; any
// negative frame resets the streak. After a confirmation the detector is held
// in cooldown so one incident does not fire a burst of events.
//
// The state also keeps a bounded ring of recent frames for clip extraction.
// The ring holds at most 2·halfWindow·fps frames, enough to cover the full
// clip window around any confirmation.
type debounceState struct {
	minConsecutive int
	cooldown       time.Duration
	halfWindow     int // clip half window in frames

	streak        int
	lastConfirmed time.Time
	confirmedOnce bool

	ring []Frame
	cap  int
}

func newDebounceState(cfg conf.DetectorSettings, fps, clipHalfWindowSec int) *debounceState {
	minConsecutive := cfg.MinConsecutiveFrames
	if minConsecutive < 1 {
		minConsecutive = 1
	}
	halfWindow := clipHalfWindowSec * fps
	capacity := 2 * halfWindow
	if capacity < 1 {
		capacity = 1
	}
	return &debounceState{
		minConsecutive: minConsecutive,
		cooldown:       cfg.Cooldown,
		halfWindow:     halfWindow,
		cap:            capacity,
	}
}

// observe records the frame and applies the signal. Returns a confirmation
// event skeleton when the streak reaches the threshold outside cooldown, nil
// otherwise.
func (d *debounceState) observe(frame Frame, signal Signal) *Event {
	d.push(frame)

	if !signal.Positive {
		d.streak = 0
		return nil
	}

	d.streak++
	if d.streak < d.minConsecutive {
		return nil
	}

	now := frame.CapturedAt
	if now.IsZero() {
		now = time.Now()
	}
	if d.confirmedOnce && d.cooldown > 0 && now.Sub(d.lastConfirmed) < d.cooldown {
		// Still in cooldown: keep the streak so a long incident confirms
		// again as soon as the cooldown ends.
		return nil
	}

	d.lastConfirmed = now
	d.confirmedOnce = true
	d.streak = 0

	clipStart, clipEnd, clip := d.clipWindow(frame.Index)
	return &Event{
		Confidence: signal.Confidence,
		FrameIndex: frame.Index,
		StartedAt:  now,
		EndedAt:    now,
		ClipStart:  clipStart,
		ClipEnd:    clipEnd,
		Clip:       clip,
	}
}

// push appends the frame to the ring, evicting the oldest past capacity.
func (d *debounceState) push(frame Frame) {
	d.ring = append(d.ring, frame)
	if len(d.ring) > d.cap {
		// Shift instead of reslice so evicted frames are collectable.
		copy(d.ring, d.ring[len(d.ring)-d.cap:])
		d.ring = d.ring[:d.cap]
	}
}

// clipWindow resolves [idx-halfWindow, idx+halfWindow] against the frames the
// ring still holds. Frames after idx may not exist yet; the window clamps to
// whatever is buffered.
func (d *debounceState) clipWindow(idx int) (int, int, []Frame) {
	wantStart := idx - d.halfWindow
	wantEnd := idx + d.halfWindow

	if len(d.ring) == 0 {
		return idx, idx, nil
	}

	oldest := d.ring[0].Index
	newest := d.ring[len(d.ring)-1].Index
	start := max(wantStart, oldest)
	end := min(wantEnd, newest)

	clip := make([]Frame, 0, end-start+1)
	for _, f := range d.ring {
		if f.Index >= start && f.Index <= end {
			clip = append(clip, f)
		}
	}
	return start, end, clip
}

package cctv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trayvision/trayvision-go/internal/conf"
)

func frameAt(idx int, at time.Time) Frame {
	return Frame{Index: idx, CapturedAt: at}
}

func TestDebounceRequiresConsecutiveHits(t *testing.T) {
	t.Parallel()

	state := newDebounceState(conf.DetectorSettings{MinConsecutiveFrames: 3}, 10, 1)
	base := time.Now()

	// Two positives, a negative reset, then three positives in a row.
	sequence := []bool{true, true, false, true, true, true, false}
	var confirmedAt []int
	for i, positive := range sequence {
		ev := state.observe(frameAt(i, base.Add(time.Duration(i)*100*time.Millisecond)),
			Signal{Positive: positive, Confidence: 0.9})
		if ev != nil {
			confirmedAt = append(confirmedAt, i)
		}
	}

	// Exactly one confirmation, at the third consecutive positive.
	assert.Equal(t, []int{5}, confirmedAt)
}

func TestDebounceCooldownSuppressesRepeat(t *testing.T) {
	t.Parallel()

	state := newDebounceState(conf.DetectorSettings{
		MinConsecutiveFrames: 2,
		Cooldown:             time.Minute,
	}, 10, 1)
	base := time.Now()

	var confirmations int
	for i := 0; i < 20; i++ {
		if ev := state.observe(frameAt(i, base.Add(time.Duration(i)*50*time.Millisecond)),
			Signal{Positive: true, Confidence: 0.8}); ev != nil {
			confirmations++
		}
	}
	assert.Equal(t, 1, confirmations, "second confirmation must wait out the cooldown")
}

func TestDebounceConfirmsAgainAfterCooldown(t *testing.T) {
	t.Parallel()

	state := newDebounceState(conf.DetectorSettings{
		MinConsecutiveFrames: 2,
		Cooldown:             time.Second,
	}, 10, 1)
	base := time.Now()

	var confirmations int
	for i := 0; i < 100; i++ {
		// 100ms per frame: the 1s cooldown spans ten frames.
		if ev := state.observe(frameAt(i, base.Add(time.Duration(i)*100*time.Millisecond)),
			Signal{Positive: true, Confidence: 0.8}); ev != nil {
			confirmations++
		}
	}
	assert.Greater(t, confirmations, 1, "a long incident re-confirms once the cooldown ends")
}

func TestDebounceClipWindowClamped(t *testing.T) {
	t.Parallel()

	// fps 10, half window 1s -> 10 frames each side, ring cap 20.
	state := newDebounceState(conf.DetectorSettings{MinConsecutiveFrames: 1}, 10, 1)
	base := time.Now()

	// Confirm on the very first frame: nothing before it exists.
	ev := state.observe(frameAt(0, base), Signal{Positive: true, Confidence: 0.9})
	require.NotNil(t, ev)
	assert.Equal(t, 0, ev.ClipStart)
	assert.Equal(t, 0, ev.ClipEnd)
	require.Len(t, ev.Clip, 1)
	assert.Equal(t, 0, ev.Clip[0].Index)
}

func TestDebounceClipWindowCoversHalfWindow(t *testing.T) {
	t.Parallel()

	state := newDebounceState(conf.DetectorSettings{
		MinConsecutiveFrames: 1,
		Cooldown:             time.Hour, // only the first confirmation fires
	}, 10, 1)
	base := time.Now()

	// Feed 14 negative frames, then a positive at index 14.
	for i := 0; i < 14; i++ {
		require.Nil(t, state.observe(frameAt(i, base.Add(time.Duration(i)*time.Millisecond)), Signal{}))
	}
	ev := state.observe(frameAt(14, base), Signal{Positive: true, Confidence: 0.9})
	require.NotNil(t, ev)

	// Half window is 10 frames; frames 4..14 are buffered and in range.
	assert.Equal(t, 4, ev.ClipStart)
	assert.Equal(t, 14, ev.ClipEnd)
	assert.Len(t, ev.Clip, 11)
}

func TestDebounceRingBounded(t *testing.T) {
	t.Parallel()

	// Cap is 2 * halfWindow * fps = 20 frames.
	state := newDebounceState(conf.DetectorSettings{MinConsecutiveFrames: 1, Cooldown: time.Hour}, 10, 1)
	base := time.Now()

	for i := 0; i < 500; i++ {
		state.observe(frameAt(i, base.Add(time.Duration(i)*time.Millisecond)), Signal{})
	}
	assert.LessOrEqual(t, len(state.ring), 20)
	assert.Equal(t, 499, state.ring[len(state.ring)-1].Index)
	assert.Equal(t, 480, state.ring[0].Index)
}

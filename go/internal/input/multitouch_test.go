package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawEvent struct {
	etype, code uint16
	value       int32
}

func feedAll(d *mtDecoder, events []rawEvent) []TouchEvent {
	var out []TouchEvent
	for _, e := range events {
		if ev, ok := d.feed(e.etype, e.code, e.value); ok {
			out = append(out, ev)
		}
	}
	return out
}

func TestMTDecoder_TwoFingerTapSequence(t *testing.T) {
	d := newMTDecoder(axisRange{min: 0, max: 1000, pixels: 100}, axisRange{min: 0, max: 1000, pixels: 200})

	got := feedAll(d, []rawEvent{
		{evAbs, absMTSlot, 0},
		{evAbs, absMTTrackingID, 7},
		{evAbs, absMTPositionX, 500},
		{evAbs, absMTPositionY, 500},
		{evSyn, synReport, 0},
		{evAbs, absMTSlot, 1},
		{evAbs, absMTTrackingID, 8},
		{evAbs, absMTPositionX, 100},
		{evAbs, absMTPositionY, 100},
		{evSyn, synReport, 0},
		{evAbs, absMTSlot, 0},
		{evAbs, absMTPositionX, 600},
		{evSyn, synReport, 0},
		{evAbs, absMTSlot, 1},
		{evAbs, absMTTrackingID, -1},
		{evSyn, synReport, 0},
		{evAbs, absMTSlot, 0},
		{evAbs, absMTTrackingID, -1},
		{evSyn, synReport, 0},
	})

	require.Len(t, got, 5)
	assert.Equal(t, TouchEvent{Phase: PhaseStart, Fingers: 1, X: 50, Y: 100}, got[0])
	assert.Equal(t, PhaseStart, got[1].Phase)
	assert.Equal(t, 2, got[1].Fingers)
	assert.Equal(t, TouchEvent{Phase: PhaseMove, Fingers: 2, X: 60, Y: 100}, got[2])
	assert.Equal(t, TouchEvent{Phase: PhaseEnd, Fingers: 1, X: 60, Y: 100}, got[3])
	assert.Equal(t, PhaseEnd, got[4].Phase)
	assert.Equal(t, 0, got[4].Fingers)
}

func TestMTDecoder_IgnoresEmptyFrames(t *testing.T) {
	d := newMTDecoder(axisRange{}, axisRange{})
	got := feedAll(d, []rawEvent{
		{evSyn, synReport, 0},
		{evAbs, absMTSlot, 42},
		{evSyn, synReport, 0},
	})
	assert.Empty(t, got)
}

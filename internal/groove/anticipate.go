package groove

import (
	"math"

	"github.com/eric-decompiled/midisense/internal/song"
)

// Anticipation window constants. The lookahead follows an empirical
// power law in BPM; the lower bound trims notes already at the play
// head; the floor keeps a note visible for at least ~5 frames at 60fps.
const (
	lookaheadScale = 10.0
	lookaheadExp   = -0.68
	lowerBoundDiv  = 40.0
	minVisible     = 0.080
)

// Window bounds which upcoming notes count as "about to play": a note
// sounding at noteTime is anticipated at playback time t when
// LowerBound < noteTime-t <= Lookahead. Both bounds are seconds.
type Window struct {
	Lookahead  float64
	LowerBound float64
}

// Visible is the width of the window in seconds, never below minVisible.
func (w Window) Visible() float64 { return w.Lookahead - w.LowerBound }

// Contains reports whether a note delta seconds ahead falls in the window.
func (w Window) Contains(delta float64) bool {
	return delta > w.LowerBound && delta <= w.Lookahead
}

// WindowForBPM computes the anticipation window for one tempo.
// Non-positive BPM falls back to the default tempo.
func WindowForBPM(bpm float64) Window {
	if bpm <= 0 {
		bpm = song.DefaultBPM
	}
	beatDur := 60.0 / bpm
	look := lookaheadScale * math.Pow(bpm, lookaheadExp) * beatDur
	lower := look / lowerBoundDiv
	if look-lower < minVisible {
		look = lower + minVisible
	}
	return Window{Lookahead: look, LowerBound: lower}
}

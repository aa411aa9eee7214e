// Package groove turns the tempo and meter maps into continuous beat
// curves: phase, arrival and anticipation impulses, and the bar-long
// groove oscillation. Everything here is a pure function of playback
// time over tables built once per load, so per-frame cost is two binary
// searches.
package groove

import (
	"math"
	"sort"

	"github.com/eric-decompiled/midisense/internal/song"
)

// arrivalDecay is the per-second decay rate of the beat/bar arrival
// impulse. At moderate tempo the impulse is near zero before the next
// beat lands (exp(-6*0.5) < 0.05 at 120 BPM).
const arrivalDecay = 6.0

// anticipationPower shapes how late the anticipation curve rises: the
// cube keeps it near zero through the first half of the beat, then
// sweeps to 1 at the next onset.
const anticipationPower = 3.0

// Snapshot is the beat clock probed at one instant.
type Snapshot struct {
	BPM          float64
	BeatDuration float64 // seconds per beat
	BeatsPerBar  float64

	BeatPhase float64 // [0,1) position within the current beat
	BarPhase  float64 // [0,1) position within the current bar
	BeatIndex int     // absolute beat count since t=0
	BeatInBar int     // 0-based beat within the bar

	Arrival      float64 // impulse decaying from the last beat onset
	BarArrival   float64 // impulse decaying from the last bar start
	Anticipation float64 // rises toward the next beat onset
	Groove       float64 // 0.5+0.5*sin over the bar, never binary
}

// DownBeat reports whether the snapshot sits on the first beat of a bar.
func (s Snapshot) DownBeat() bool { return s.BeatInBar == 0 }

// tempoSeg is one constant-tempo stretch with its starting beat count.
type tempoSeg struct {
	t0         float64
	beat0      float64
	secPerBeat float64
}

// sigSeg restarts the bar grid where a time signature lands.
type sigSeg struct {
	beat0       float64
	beatsPerBar float64
}

// Clock precomputes cumulative beat positions for every tempo and
// time-signature boundary so At can answer in O(log n). Build one per
// loaded timeline; it holds no reference to the timeline afterwards.
type Clock struct {
	tempo []tempoSeg
	sigs  []sigSeg

	// anticipation window cache, valid while the tempo segment holds
	winBPM float64
	win    Window
	winOK  bool
}

func NewClock(tempo []song.TempoEvent, sigs []song.TimeSignatureEvent) *Clock {
	c := &Clock{}
	if len(tempo) == 0 {
		tempo = []song.TempoEvent{{Time: 0, MicrosecondsPerBeat: song.DefaultMicrosecondsPerBeat}}
	}
	c.tempo = make([]tempoSeg, len(tempo))
	beats := 0.0
	for i, ev := range tempo {
		if i > 0 {
			prev := c.tempo[i-1]
			beats = prev.beat0 + (ev.Time-prev.t0)/prev.secPerBeat
		}
		c.tempo[i] = tempoSeg{t0: ev.Time, beat0: beats, secPerBeat: 60.0 / ev.BPM()}
	}
	if len(sigs) == 0 {
		sigs = []song.TimeSignatureEvent{{Time: 0, Numerator: song.DefaultNumerator, Denominator: song.DefaultDenominator}}
	}
	c.sigs = make([]sigSeg, len(sigs))
	for i, ev := range sigs {
		c.sigs[i] = sigSeg{beat0: c.beatsAt(ev.Time), beatsPerBar: ev.BeatsPerBar()}
	}
	return c
}

// At probes the clock at playback time t (clamped to zero on the left).
func (c *Clock) At(t float64) Snapshot {
	if t < 0 {
		t = 0
	}
	seg := c.tempo[c.tempoIndex(t)]
	beats := seg.beat0 + (t-seg.t0)/seg.secPerBeat

	sig := c.sigs[c.sigIndex(beats)]
	barBeats := beats - sig.beat0
	if barBeats < 0 {
		barBeats = 0
	}
	barPos := math.Mod(barBeats, sig.beatsPerBar)

	beatPhase := beats - math.Floor(beats)
	s := Snapshot{
		BPM:          60.0 / seg.secPerBeat,
		BeatDuration: seg.secPerBeat,
		BeatsPerBar:  sig.beatsPerBar,
		BeatPhase:    beatPhase,
		BarPhase:     barPos / sig.beatsPerBar,
		BeatIndex:    int(beats),
		BeatInBar:    int(barPos),
	}
	s.Arrival = math.Exp(-arrivalDecay * beatPhase * seg.secPerBeat)
	s.BarArrival = math.Exp(-arrivalDecay * barPos * seg.secPerBeat)
	s.Anticipation = math.Pow(beatPhase, anticipationPower)
	s.Groove = 0.5 + 0.5*math.Sin(s.BarPhase*2*math.Pi)
	return s
}

// WindowAt returns the anticipation window for the tempo active at t.
// The window depends only on BPM, so it is recomputed only when the
// tempo segment changes.
func (c *Clock) WindowAt(t float64) Window {
	if t < 0 {
		t = 0
	}
	bpm := 60.0 / c.tempo[c.tempoIndex(t)].secPerBeat
	if c.winOK && bpm == c.winBPM {
		return c.win
	}
	c.win = WindowForBPM(bpm)
	c.winBPM = bpm
	c.winOK = true
	return c.win
}

func (c *Clock) beatsAt(t float64) float64 {
	seg := c.tempo[c.tempoIndex(t)]
	return seg.beat0 + (t-seg.t0)/seg.secPerBeat
}

func (c *Clock) tempoIndex(t float64) int {
	i := sort.Search(len(c.tempo), func(k int) bool { return c.tempo[k].t0 > t }) - 1
	if i < 0 {
		return 0
	}
	return i
}

func (c *Clock) sigIndex(beats float64) int {
	i := sort.Search(len(c.sigs), func(k int) bool { return c.sigs[k].beat0 > beats }) - 1
	if i < 0 {
		return 0
	}
	return i
}

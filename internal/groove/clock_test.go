package groove

import (
	"math"
	"testing"

	"github.com/eric-decompiled/midisense/internal/song"
)

func constantClock(bpm float64, num, den int) *Clock {
	us := int(math.Round(60e6 / bpm))
	return NewClock(
		[]song.TempoEvent{{Time: 0, MicrosecondsPerBeat: us}},
		[]song.TimeSignatureEvent{{Time: 0, Numerator: num, Denominator: den}},
	)
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestClockConstantTempo(t *testing.T) {
	c := constantClock(120, 4, 4)

	s := c.At(0)
	if s.BPM != 120 || s.BeatDuration != 0.5 || s.BeatsPerBar != 4 {
		t.Fatalf("t=0 tempo fields = %+v", s)
	}
	if s.BeatIndex != 0 || s.BeatInBar != 0 || !near(s.BeatPhase, 0) || !near(s.BarPhase, 0) {
		t.Fatalf("t=0 position = %+v", s)
	}
	if !near(s.Arrival, 1) || !near(s.BarArrival, 1) || !near(s.Anticipation, 0) || !near(s.Groove, 0.5) {
		t.Fatalf("t=0 curves = %+v", s)
	}

	s = c.At(0.25)
	if s.BeatIndex != 0 || !near(s.BeatPhase, 0.5) || !near(s.Anticipation, 0.125) {
		t.Fatalf("mid-beat snapshot = %+v", s)
	}

	s = c.At(0.5)
	if s.BeatIndex != 1 || s.BeatInBar != 1 || !near(s.BeatPhase, 0) {
		t.Fatalf("beat 1 snapshot = %+v", s)
	}
	if !near(s.Groove, 1) { // quarter of the bar, sine peak
		t.Fatalf("groove at bar quarter = %v, want 1", s.Groove)
	}

	s = c.At(1.5)
	if s.BeatInBar != 3 || !near(s.Groove, 0) {
		t.Fatalf("groove at bar three-quarter = %+v", s)
	}

	s = c.At(2.0)
	if s.BeatIndex != 4 || s.BeatInBar != 0 || !near(s.BarPhase, 0) || !s.DownBeat() {
		t.Fatalf("bar 1 downbeat = %+v", s)
	}
}

func TestClockArrivalDecay(t *testing.T) {
	c := constantClock(120, 4, 4)
	if got, want := c.At(0.1).Arrival, math.Exp(-0.6); !near(got, want) {
		t.Fatalf("arrival 0.1s after beat = %v, want %v", got, want)
	}
	if c.At(0.05).Arrival <= c.At(0.1).Arrival {
		t.Fatal("arrival should decay within the beat")
	}
	// Mid-bar the bar impulse has decayed further than the beat impulse.
	s := c.At(0.6)
	if s.BarArrival >= s.Arrival {
		t.Fatalf("bar arrival %v not below beat arrival %v", s.BarArrival, s.Arrival)
	}
	if got, want := s.BarArrival, math.Exp(-6*0.6); !near(got, want) {
		t.Fatalf("bar arrival = %v, want %v", got, want)
	}
}

func TestClockTempoChange(t *testing.T) {
	c := NewClock(
		[]song.TempoEvent{
			{Time: 0, MicrosecondsPerBeat: 500000},
			{Time: 2, MicrosecondsPerBeat: 250000},
		},
		[]song.TimeSignatureEvent{{Time: 0, Numerator: 4, Denominator: 4}},
	)
	if s := c.At(1.75); s.BPM != 120 || s.BeatIndex != 3 {
		t.Fatalf("before change = %+v", s)
	}
	s := c.At(3)
	if s.BPM != 240 || s.BeatDuration != 0.25 {
		t.Fatalf("after change tempo = %+v", s)
	}
	if s.BeatIndex != 8 || s.BeatInBar != 0 {
		t.Fatalf("after change position = %+v, want beat 8", s)
	}
}

func TestClockMeterChange(t *testing.T) {
	c := NewClock(
		[]song.TempoEvent{{Time: 0, MicrosecondsPerBeat: 500000}},
		[]song.TimeSignatureEvent{
			{Time: 0, Numerator: 4, Denominator: 4},
			{Time: 2, Numerator: 3, Denominator: 4},
		},
	)
	if s := c.At(1.5); s.BeatInBar != 3 || s.BeatsPerBar != 4 {
		t.Fatalf("still 4/4 = %+v", s)
	}
	s := c.At(2.0)
	if s.BeatsPerBar != 3 || s.BeatInBar != 0 || !near(s.BarPhase, 0) {
		t.Fatalf("meter change restarts the bar: %+v", s)
	}
	if s := c.At(2.5); s.BeatInBar != 1 || !near(s.BarPhase, 1.0/3.0) {
		t.Fatalf("3/4 bar position = %+v", s)
	}
	if s := c.At(3.5); !s.DownBeat() {
		t.Fatalf("second 3/4 bar downbeat = %+v", s)
	}
}

func TestClockCompoundMeter(t *testing.T) {
	c := constantClock(120, 6, 8)
	if s := c.At(0); s.BeatsPerBar != 3 {
		t.Fatalf("6/8 beats per bar = %v, want 3 quarter beats", s.BeatsPerBar)
	}
	if s := c.At(1.0); s.BeatInBar != 2 {
		t.Fatalf("6/8 at t=1 = %+v", s)
	}
	if s := c.At(1.5); s.BeatInBar != 0 || !near(s.BarPhase, 0) {
		t.Fatalf("6/8 bar boundary = %+v", s)
	}
}

func TestClockNegativeTimeClamps(t *testing.T) {
	c := constantClock(120, 4, 4)
	a, b := c.At(-5), c.At(0)
	if a != b {
		t.Fatalf("At(-5) = %+v, want At(0) = %+v", a, b)
	}
}

func TestClockEmptyListsDefault(t *testing.T) {
	c := NewClock(nil, nil)
	s := c.At(1)
	if s.BPM != song.DefaultBPM || s.BeatsPerBar != 4 {
		t.Fatalf("default clock = %+v", s)
	}
}

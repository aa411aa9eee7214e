package song

import "sort"

type KeyMode int

const (
	ModeMajor KeyMode = iota
	ModeMinor
)

func (m KeyMode) String() string {
	if m == ModeMinor {
		return "minor"
	}
	return "major"
}

type ChordQuality int

const (
	QualityMajor ChordQuality = iota + 1
	QualityMinor
	QualityDom7
	QualityMin7
	QualityDim
	QualityAug
	QualitySus2
	QualitySus4
	QualityMaj7
	QualityHalfDim7
	QualityDim7
	QualityUnknown
)

func (q ChordQuality) String() string {
	switch q {
	case QualityMajor:
		return "major"
	case QualityMinor:
		return "minor"
	case QualityDom7:
		return "dom7"
	case QualityMin7:
		return "min7"
	case QualityDim:
		return "dim"
	case QualityAug:
		return "aug"
	case QualitySus2:
		return "sus2"
	case QualitySus4:
		return "sus4"
	case QualityMaj7:
		return "maj7"
	case QualityHalfDim7:
		return "hdim7"
	case QualityDim7:
		return "dim7"
	default:
		return "unknown"
	}
}

// NoteEvent is a matched note-on/note-off pair on a melodic channel.
// Time and Duration are in seconds, Velocity is normalized to 0..1.
type NoteEvent struct {
	Time     float64
	Duration float64
	Midi     int
	Velocity float64
	Channel  int
}

// DrumHit is a percussion strike (GM channel 10). Drum note-offs carry no
// musical information, so hits have no duration.
type DrumHit struct {
	Time     float64
	Midi     int
	Velocity float64
}

// TempoEvent defines the tempo from Time until the next entry. The list is
// piecewise constant and always holds at least one entry at t=0.
type TempoEvent struct {
	Time                float64
	MicrosecondsPerBeat int
}

func (e TempoEvent) BPM() float64 {
	if e.MicrosecondsPerBeat <= 0 {
		return DefaultBPM
	}
	return 60e6 / float64(e.MicrosecondsPerBeat)
}

type TimeSignatureEvent struct {
	Time        float64
	Numerator   int
	Denominator int
}

// ChordEvent is one detected harmony segment. Degree is the scale-degree
// index 1..7 within the song key, 0 when the root is non-diatonic.
type ChordEvent struct {
	Time    float64
	Root    int
	Quality ChordQuality
	Degree  int
	Tension float64
}

// KeySignature is the raw FF 59 meta content, kept as an analysis hint.
type KeySignature struct {
	SharpsFlats int
	Minor       bool
}

// Timeline is the canonical parsed-and-analyzed song. It is assembled by the
// parser and the harmonic analyzer during a load and must be treated as
// read-only afterwards; a new load replaces it wholesale.
type Timeline struct {
	Tempo   []TempoEvent
	TimeSig []TimeSignatureEvent
	Notes   []NoteEvent
	Drums   []DrumHit
	Chords  []ChordEvent
	Key     int
	Mode    KeyMode
	KeySig  *KeySignature

	// Duration is max(note end) over all notes, never less than the last
	// drum or meta event time.
	Duration float64

	// LongestNote bounds how far back a sounding-note scan must look.
	LongestNote float64
}

const (
	DefaultBPM                 = 120.0
	DefaultMicrosecondsPerBeat = 500000
	DefaultNumerator           = 4
	DefaultDenominator         = 4
)

// General MIDI percussion numbers used for rotation impulses.
const (
	gmKickAcoustic  = 35
	gmKickElectric  = 36
	gmSnareAcoustic = 38
	gmSnareElectric = 40
)

func IsKick(midi int) bool  { return midi == gmKickAcoustic || midi == gmKickElectric }
func IsSnare(midi int) bool { return midi == gmSnareAcoustic || midi == gmSnareElectric }

// TempoAt returns the tempo in effect at time t: the last entry with
// Time <= t, or the first entry when t precedes the whole list.
func (tl *Timeline) TempoAt(t float64) TempoEvent {
	i := lastAtOrBefore(len(tl.Tempo), t, func(k int) float64 { return tl.Tempo[k].Time })
	if i < 0 {
		if len(tl.Tempo) == 0 {
			return TempoEvent{Time: 0, MicrosecondsPerBeat: DefaultMicrosecondsPerBeat}
		}
		return tl.Tempo[0]
	}
	return tl.Tempo[i]
}

func (tl *Timeline) BPMAt(t float64) float64 { return tl.TempoAt(t).BPM() }

// BeatDurationAt returns the length of one beat in seconds at time t.
func (tl *Timeline) BeatDurationAt(t float64) float64 {
	return 60.0 / tl.BPMAt(t)
}

// BeatsPerBar converts the signature to quarter-note beats, the unit the
// tempo map counts in. 6/8 is three beats, not six.
func (e TimeSignatureEvent) BeatsPerBar() float64 {
	if e.Denominator <= 0 {
		return float64(DefaultNumerator)
	}
	return float64(e.Numerator) * 4.0 / float64(e.Denominator)
}

func (tl *Timeline) TimeSigAt(t float64) TimeSignatureEvent {
	i := lastAtOrBefore(len(tl.TimeSig), t, func(k int) float64 { return tl.TimeSig[k].Time })
	if i < 0 {
		if len(tl.TimeSig) == 0 {
			return TimeSignatureEvent{Time: 0, Numerator: DefaultNumerator, Denominator: DefaultDenominator}
		}
		return tl.TimeSig[0]
	}
	return tl.TimeSig[i]
}

// ChordAt returns the active chord at t (last with Time <= t) and its index.
// The analyzer guarantees a chord at t=0, so lookup never comes up empty for
// a valid timeline.
func (tl *Timeline) ChordAt(t float64) (ChordEvent, int) {
	i := lastAtOrBefore(len(tl.Chords), t, func(k int) float64 { return tl.Chords[k].Time })
	if i < 0 {
		if len(tl.Chords) == 0 {
			return ChordEvent{Quality: QualityUnknown, Degree: 1}, -1
		}
		return tl.Chords[0], 0
	}
	return tl.Chords[i], i
}

// ExtremesAt reports the lowest and highest MIDI notes sounding at t.
// ok is false during silence.
func (tl *Timeline) ExtremesAt(t float64) (lowest, highest int, ok bool) {
	if len(tl.Notes) == 0 {
		return 0, 0, false
	}
	// Only notes starting within LongestNote before t can still sound.
	hi := sort.Search(len(tl.Notes), func(k int) bool { return tl.Notes[k].Time > t })
	cutoff := t - tl.LongestNote
	lowest, highest = 128, -1
	for i := hi - 1; i >= 0; i-- {
		n := tl.Notes[i]
		if n.Time < cutoff {
			break
		}
		if n.Time+n.Duration <= t {
			continue
		}
		if n.Midi < lowest {
			lowest = n.Midi
		}
		if n.Midi > highest {
			highest = n.Midi
		}
	}
	if highest < 0 {
		return 0, 0, false
	}
	return lowest, highest, true
}

// NotesBetween returns the subslice of notes with start times in (t0, t1].
// The result aliases the timeline and must not be mutated.
func (tl *Timeline) NotesBetween(t0, t1 float64) []NoteEvent {
	lo := sort.Search(len(tl.Notes), func(k int) bool { return tl.Notes[k].Time > t0 })
	hi := sort.Search(len(tl.Notes), func(k int) bool { return tl.Notes[k].Time > t1 })
	return tl.Notes[lo:hi]
}

// DrumEnergy sums kick and snare hit velocities in the interval (t0, t1].
func (tl *Timeline) DrumEnergy(t0, t1 float64) (kick, snare float64) {
	lo := sort.Search(len(tl.Drums), func(k int) bool { return tl.Drums[k].Time > t0 })
	hi := sort.Search(len(tl.Drums), func(k int) bool { return tl.Drums[k].Time > t1 })
	for _, d := range tl.Drums[lo:hi] {
		switch {
		case IsKick(d.Midi):
			kick += d.Velocity
		case IsSnare(d.Midi):
			snare += d.Velocity
		}
	}
	return kick, snare
}

// lastAtOrBefore finds the greatest index whose time is <= t, -1 if none.
func lastAtOrBefore(n int, t float64, timeOf func(int) float64) int {
	return sort.Search(n, func(k int) bool { return timeOf(k) > t }) - 1
}

var (
	majorScale = [7]int{0, 2, 4, 5, 7, 9, 11}
	minorScale = [7]int{0, 2, 3, 5, 7, 8, 10}
)

// DegreeOf maps a chord root to its scale degree 1..7 in the given key,
// 0 when the root is non-diatonic.
func DegreeOf(root, key int, mode KeyMode) int {
	rel := ((root-key)%12 + 12) % 12
	scale := majorScale
	if mode == ModeMinor {
		scale = minorScale
	}
	for i, step := range scale {
		if step == rel {
			return i + 1
		}
	}
	return 0
}

// NearestDegree maps any root to the diatonic degree whose pitch class is
// closest in semitones, lower degree winning ties. Used where a
// non-diatonic chord still needs a stable diatonic slot.
func NearestDegree(root, key int, mode KeyMode) int {
	rel := ((root-key)%12 + 12) % 12
	scale := majorScale
	if mode == ModeMinor {
		scale = minorScale
	}
	best, bestDist := 1, 12
	for i, step := range scale {
		d := rel - step
		if d < 0 {
			d = -d
		}
		if 12-d < d {
			d = 12 - d
		}
		if d < bestDist {
			best, bestDist = i+1, d
		}
	}
	return best
}

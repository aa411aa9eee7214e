package midisense

import (
	"math"

	intgroove "github.com/eric-decompiled/midisense/internal/groove"
	intorbit "github.com/eric-decompiled/midisense/internal/orbit"
	intsong "github.com/eric-decompiled/midisense/internal/song"
)

// MusicParams is one frame's worth of analysis: everything a renderer
// needs to react to the music at time Time. Values are plain data; copy
// freely.
type MusicParams struct {
	Dt   float64
	Time float64

	// Key is the tonic pitch class 0..11; KeyRotation maps it onto a
	// circle, 2π/12 per semitone, for renderers that orient by key.
	Key         int
	KeyMode     KeyMode
	KeyRotation float64

	ChordRoot    int
	ChordQuality ChordQuality
	// ChordDegree is the scale degree 1..7 of the chord root, 0 when the
	// root is outside the key.
	ChordDegree int
	// Tension is the smoothed harmonic tension, 0 calm .. 1 strained.
	Tension float64

	BPM       float64
	BeatPhase float64
	BarPhase  float64
	BeatIndex int
	BeatInBar int

	// BeatGroove swells over each bar, BeatArrival spikes on each beat
	// and decays, BeatAnticipation rises into the next beat.
	BeatGroove       float64
	BeatArrival      float64
	BeatAnticipation float64

	// MelodyMidiNote and BassMidiNote are the highest and lowest sounding
	// notes, held through silence so registers never snap to zero.
	MelodyMidiNote int
	BassMidiNote   int
}

// Update advances the engine to playback time t and returns the frame
// snapshot. dt is the wall-clock step since the previous Update; negative
// steps are treated as zero.
func (e *Engine) Update(t, dt float64) MusicParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dt < 0 {
		dt = 0
	}
	p := e.frameLocked(t, dt)
	e.lastParams = p
	e.lastTime = t
	e.haveParams = true
	return p
}

func (e *Engine) frameLocked(t, dt float64) MusicParams {
	if e.tl == nil {
		p := e.mapper.idleFrame(t, dt)
		barPhase := p.BarPhase
		e.orb.Advance(intorbit.Params{
			Dt:           dt,
			Degree:       p.ChordDegree,
			Quality:      p.ChordQuality,
			Tension:      p.Tension,
			BarSeconds:   idleBarSeconds,
			Groove:       p.BeatGroove,
			Arrival:      p.BeatArrival,
			BarArrival:   math.Exp(-idleArrivalDecay * barPhase * idleBarSeconds),
			Anticipation: p.BeatAnticipation,
			BeatIndex:    p.BeatIndex,
		})
		return p
	}

	snap := e.clock.At(t)
	chord, _ := e.tl.ChordAt(t)
	p := e.mapper.songFrame(e.tl, snap, chord, t, dt)
	kick, snare := e.tl.DrumEnergy(t-dt, t)
	e.orb.Advance(intorbit.Params{
		Dt:           dt,
		Root:         chord.Root,
		Key:          e.tl.Key,
		Mode:         e.tl.Mode,
		Degree:       chord.Degree,
		Quality:      chord.Quality,
		Tension:      p.Tension,
		BarSeconds:   snap.BeatsPerBar * snap.BeatDuration,
		Groove:       snap.Groove,
		Arrival:      snap.Arrival,
		BarArrival:   snap.BarArrival,
		Anticipation: snap.Anticipation,
		BeatIndex:    snap.BeatIndex,
		Kick:         kick,
		Snare:        snare,
	})
	return p
}

// mapper turns raw analysis into presentation values: it smooths tension
// so chord boundaries read as swells rather than steps, holds melody and
// bass registers through silence, and runs a slow autonomous pulse while
// no song is loaded.
type mapper struct {
	rate          float64
	melodyDefault int
	bassDefault   int

	tension     float64
	haveTension bool
	melody      int
	bass        int
	haveNotes   bool

	// idleTime is the accumulated unloaded time driving the idle pulse.
	// It survives reset so the pulse never visibly restarts.
	idleTime float64
}

func newMapper(cfg engineConfig) mapper {
	return mapper{
		rate:          cfg.tensionRate,
		melodyDefault: cfg.melodyDefault,
		bassDefault:   cfg.bassDefault,
	}
}

func (m *mapper) reset() {
	m.tension = 0
	m.haveTension = false
	m.melody = 0
	m.bass = 0
	m.haveNotes = false
}

func (m *mapper) songFrame(tl *intsong.Timeline, snap intgroove.Snapshot, chord intsong.ChordEvent, t, dt float64) MusicParams {
	target := clamp01(chord.Tension)
	if !m.haveTension {
		// First frame after a load or seek snaps straight to the target.
		m.tension = target
		m.haveTension = true
	} else {
		f := m.rate * dt
		if f > 1 {
			f = 1
		}
		m.tension = clamp01(m.tension + (target-m.tension)*f)
	}

	if lo, hi, ok := tl.ExtremesAt(t); ok {
		m.bass, m.melody = lo, hi
		m.haveNotes = true
	} else if !m.haveNotes {
		m.melody = m.melodyDefault
		m.bass = m.bassDefault
	}

	return MusicParams{
		Dt:   dt,
		Time: t,

		Key:         tl.Key,
		KeyMode:     tl.Mode,
		KeyRotation: keyRotation(tl.Key),

		ChordRoot:    chord.Root,
		ChordQuality: chord.Quality,
		ChordDegree:  chord.Degree,
		Tension:      m.tension,

		BPM:       snap.BPM,
		BeatPhase: snap.BeatPhase,
		BarPhase:  snap.BarPhase,
		BeatIndex: snap.BeatIndex,
		BeatInBar: snap.BeatInBar,

		BeatGroove:       snap.Groove,
		BeatArrival:      snap.Arrival,
		BeatAnticipation: snap.Anticipation,

		MelodyMidiNote: m.melody,
		BassMidiNote:   m.bass,
	}
}

// The idle pulse: a 60 BPM heartbeat in 4/4 with tension breathing a
// little over a slow drift cycle, so renderers have something alive to
// show before the first song arrives.
const (
	idleBPM          = 60.0
	idleBeatsPerBar  = 4
	idleBarSeconds   = idleBeatsPerBar * 60.0 / idleBPM
	idleArrivalDecay = 6.0
	idleTensionMid   = 0.25
	idleTensionSwing = 0.10
	idleDriftHz      = 0.05
)

func (m *mapper) idleFrame(t, dt float64) MusicParams {
	m.idleTime += dt
	beat := m.idleTime * idleBPM / 60.0
	beatPhase := beat - math.Floor(beat)
	barPhase := math.Mod(beat/idleBeatsPerBar, 1)
	tension := idleTensionMid + idleTensionSwing*math.Sin(2*math.Pi*idleDriftHz*m.idleTime)

	return MusicParams{
		Dt:   dt,
		Time: t,

		KeyMode:     ModeMajor,
		KeyRotation: 0,

		ChordQuality: QualityUnknown,
		ChordDegree:  1,
		Tension:      tension,

		BPM:       idleBPM,
		BeatPhase: beatPhase,
		BarPhase:  barPhase,
		BeatIndex: int(beat),
		BeatInBar: int(beat) % idleBeatsPerBar,

		BeatGroove:       0.5 + 0.5*math.Sin(barPhase*2*math.Pi),
		BeatArrival:      math.Exp(-idleArrivalDecay * beatPhase * 60.0 / idleBPM),
		BeatAnticipation: beatPhase * beatPhase * beatPhase,

		MelodyMidiNote: m.melodyDefault,
		BassMidiNote:   m.bassDefault,
	}
}

func keyRotation(key int) float64 {
	return 2 * math.Pi * float64(key) / 12
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

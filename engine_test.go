package midisense

import (
	"bytes"
	"math"
	"sync"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// writeSMF renders tracks into raw file bytes at 480 ticks per quarter.
func writeSMF(t *testing.T, tracks ...smf.Track) []byte {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(480)
	for _, tr := range tracks {
		s.Add(tr)
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("write smf: %v", err)
	}
	return buf.Bytes()
}

// progressionSong is four bars of C major (C, G7, Am, C) at 120 BPM in
// 4/4, with kick and snare alternating on the quarters.
func progressionSong(t *testing.T) []byte {
	t.Helper()

	var meta smf.Track
	meta.Add(0, smf.MetaTempo(120))
	meta.Add(0, smf.MetaMeter(4, 4))
	meta.Close(0)

	bars := [][]uint8{
		{36, 60, 64, 67},
		{43, 59, 62, 65},
		{45, 60, 64},
		{36, 60, 64, 67},
	}
	var piano smf.Track
	for _, chord := range bars {
		for _, k := range chord {
			piano.Add(0, midi.NoteOn(0, k, 96))
		}
		for i, k := range chord {
			delta := uint32(0)
			if i == 0 {
				delta = 4 * 480
			}
			piano.Add(delta, midi.NoteOff(0, k))
		}
	}
	piano.Close(0)

	var drums smf.Track
	for beat := 0; beat < 16; beat++ {
		k := uint8(36)
		if beat%2 == 1 {
			k = 38
		}
		delta := uint32(0)
		if beat > 0 {
			delta = 450
		}
		drums.Add(delta, midi.NoteOn(9, k, 100))
		drums.Add(30, midi.NoteOff(9, k))
	}
	drums.Close(0)

	return writeSMF(t, meta, piano, drums)
}

// sustainedSong is one held C major chord for the given number of beats.
func sustainedSong(t *testing.T, bpm float64, beats uint32) []byte {
	t.Helper()

	var meta smf.Track
	meta.Add(0, smf.MetaTempo(bpm))
	meta.Close(0)

	voices := []uint8{48, 60, 64, 67}
	var piano smf.Track
	for _, k := range voices {
		piano.Add(0, midi.NoteOn(0, k, 90))
	}
	for i, k := range voices {
		delta := uint32(0)
		if i == 0 {
			delta = beats * 480
		}
		piano.Add(delta, midi.NoteOff(0, k))
	}
	piano.Close(0)

	return writeSMF(t, meta, piano)
}

func TestEngineLoadProgression(t *testing.T) {
	eng := NewEngine()
	outcome, err := eng.LoadSong(progressionSong(t))
	if err != nil || outcome != LoadApplied {
		t.Fatalf("LoadSong = %v, %v, want applied", outcome, err)
	}
	if !eng.Loaded() {
		t.Fatal("Loaded() = false after applied load")
	}
	if d := eng.Duration(); math.Abs(d-8.0) > 0.01 {
		t.Fatalf("duration = %v, want 8s", d)
	}
	tonic, mode, ok := eng.KeyInfo()
	if !ok || tonic != 0 || mode != ModeMajor {
		t.Fatalf("key = %d %v ok=%v, want C major", tonic, mode, ok)
	}

	p := eng.Update(0, 0)
	if math.Abs(p.BPM-120) > 0.01 {
		t.Fatalf("bpm = %v, want 120", p.BPM)
	}
	if p.BeatPhase > 1e-9 {
		t.Fatalf("beat phase at t=0 = %v, want 0", p.BeatPhase)
	}
	if p.ChordRoot != 0 || p.ChordQuality != QualityMajor || p.ChordDegree != 1 {
		t.Fatalf("opening chord = root %d %v degree %d, want C major I",
			p.ChordRoot, p.ChordQuality, p.ChordDegree)
	}
	if p.KeyRotation != 0 {
		t.Fatalf("key rotation = %v, want 0 for C", p.KeyRotation)
	}

	// 120 BPM window: ~193ms lookahead, lower bound 1/40th of that.
	w := eng.AnticipationWindow()
	if w.Lookahead < 0.19 || w.Lookahead > 0.20 {
		t.Fatalf("lookahead = %v, want ~0.193", w.Lookahead)
	}
	if math.Abs(w.LowerBound-w.Lookahead/40) > 1e-12 {
		t.Fatalf("lower bound = %v, want lookahead/40", w.LowerBound)
	}
	if w.Visible() < 0.08 {
		t.Fatalf("visible window = %v, want >= 80ms", w.Visible())
	}

	p = eng.Update(2.25, 1.0/60)
	if p.ChordRoot != 7 || p.ChordQuality != QualityDom7 || p.ChordDegree != 5 {
		t.Fatalf("bar-two chord = root %d %v degree %d, want G7 V",
			p.ChordRoot, p.ChordQuality, p.ChordDegree)
	}
	if p.BassMidiNote != 43 || p.MelodyMidiNote != 65 {
		t.Fatalf("registers = %d/%d, want 43/65", p.BassMidiNote, p.MelodyMidiNote)
	}
}

func TestEngineNotesInWindow(t *testing.T) {
	eng := NewEngine()
	if _, err := eng.LoadSong(progressionSong(t)); err != nil {
		t.Fatalf("load: %v", err)
	}

	// Just ahead of bar two the four G7 onsets are anticipated; the drum
	// hit on the same tick is not a melodic note.
	notes := eng.NotesInWindow(1.9)
	if len(notes) != 4 {
		t.Fatalf("windowed notes = %d, want 4", len(notes))
	}
	for _, n := range notes {
		if math.Abs(n.Time-2.0) > 1e-9 {
			t.Fatalf("windowed onset at %v, want 2.0", n.Time)
		}
	}

	// Mid-bar with the next onsets out of reach the window is empty.
	if notes := eng.NotesInWindow(1.0); len(notes) != 0 {
		t.Fatalf("mid-bar windowed notes = %d, want 0", len(notes))
	}
}

func TestEngineFailedLoadKeepsTimeline(t *testing.T) {
	eng := NewEngine()
	if _, err := eng.LoadSong(progressionSong(t)); err != nil {
		t.Fatalf("load: %v", err)
	}

	bad := []byte{'M', 'T', 'h', 'd', 0, 0, 0, 5, 0, 0, 0, 1, 1, 0xE0}
	outcome, err := eng.LoadSong(bad)
	if outcome != LoadFailed || err == nil {
		t.Fatalf("bad load = %v, %v, want failed with error", outcome, err)
	}
	if !eng.Loaded() {
		t.Fatal("prior timeline dropped after failed load")
	}
	if d := eng.Duration(); math.Abs(d-8.0) > 0.01 {
		t.Fatalf("duration after failed load = %v, want 8s", d)
	}
	p := eng.Update(0.5, 1.0/60)
	if math.Abs(p.BPM-120) > 0.01 {
		t.Fatalf("bpm after failed load = %v, want 120", p.BPM)
	}
}

func TestEngineStaleLoadDiscarded(t *testing.T) {
	eng := NewEngine()
	if _, err := eng.LoadSong(progressionSong(t)); err != nil {
		t.Fatalf("load: %v", err)
	}

	// A load that began before the current one must be dropped no matter
	// how late its result arrives.
	stale, err := eng.parser.Parse(sustainedSong(t, 90, 8))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	outcome, err := eng.finishLoad(eng.loadToken-1, stale, nil)
	if outcome != LoadSuperseded || err != nil {
		t.Fatalf("stale finish = %v, %v, want superseded, nil", outcome, err)
	}
	if d := eng.Duration(); math.Abs(d-8.0) > 0.01 {
		t.Fatalf("duration = %v, want the newest load's 8s", d)
	}
}

func TestEngineConcurrentLoadsConverge(t *testing.T) {
	eng := NewEngine()
	fast := sustainedSong(t, 140, 8)
	slow := sustainedSong(t, 90, 8)

	const n = 16
	outcomes := make([]LoadOutcome, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		data := fast
		if i%2 == 0 {
			data = slow
		}
		wg.Add(1)
		go func(i int, data []byte) {
			defer wg.Done()
			outcomes[i], errs[i] = eng.LoadSong(data)
		}(i, data)
	}
	wg.Wait()

	applied := 0
	for i := range outcomes {
		if errs[i] != nil {
			t.Fatalf("load %d: %v", i, errs[i])
		}
		switch outcomes[i] {
		case LoadApplied:
			applied++
		case LoadSuperseded:
		default:
			t.Fatalf("load %d outcome = %v", i, outcomes[i])
		}
	}
	if applied == 0 {
		t.Fatal("no load applied")
	}
	if !eng.Loaded() {
		t.Fatal("engine empty after concurrent loads")
	}
	p := eng.Update(0, 0)
	if math.Abs(p.BPM-140) > 0.01 && math.Abs(p.BPM-90) > 0.01 {
		t.Fatalf("bpm = %v, want one of the loaded songs", p.BPM)
	}
}

func TestEngineResetIdempotent(t *testing.T) {
	data := progressionSong(t)
	run := func(resets int) []MusicParams {
		eng := NewEngine()
		if _, err := eng.LoadSong(data); err != nil {
			t.Fatalf("load: %v", err)
		}
		dt := 1.0 / 60
		for i := 0; i < 150; i++ {
			eng.Update(float64(i)*dt, dt)
		}
		for i := 0; i < resets; i++ {
			eng.Reset()
		}
		out := make([]MusicParams, 0, 30)
		for i := 0; i < 30; i++ {
			out = append(out, eng.Update(3.0+float64(i)*dt, dt))
		}
		return out
	}

	once := run(1)
	twice := run(2)
	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("frame %d diverges after double reset:\n%+v\n%+v", i, once[i], twice[i])
		}
	}
}

func TestEngineSeekClearsSmoothing(t *testing.T) {
	eng := NewEngine()
	if _, err := eng.LoadSong(progressionSong(t)); err != nil {
		t.Fatalf("load: %v", err)
	}

	// Build up smoothing inside bar one, then jump into bar two.
	dt := 1.0 / 60
	for i := 0; i < 60; i++ {
		eng.Update(float64(i)*dt, dt)
	}
	eng.Seek(2.5)

	chord, _ := eng.tl.ChordAt(2.5)
	if math.Abs(eng.mapper.tension-chord.Tension) > 1e-9 {
		t.Fatalf("tension after seek = %v, want snapped to %v", eng.mapper.tension, chord.Tension)
	}
	p := eng.Update(2.5+dt, dt)
	if p.ChordRoot != 7 || p.ChordQuality != QualityDom7 {
		t.Fatalf("chord after seek = root %d %v, want G7", p.ChordRoot, p.ChordQuality)
	}
}

func TestEngineOptions(t *testing.T) {
	eng := NewEngine(WithTensionRate(-5), WithDefaultNotes(72, 200), WithLogger(nil))
	if eng.mapper.rate != 2.0 {
		t.Fatalf("tension rate = %v, want default 2.0 for non-positive input", eng.mapper.rate)
	}
	if eng.mapper.melodyDefault != 72 || eng.mapper.bassDefault != 127 {
		t.Fatalf("default notes = %d/%d, want 72/127", eng.mapper.melodyDefault, eng.mapper.bassDefault)
	}
	if eng.logger == nil {
		t.Fatal("nil logger option must keep the discard logger")
	}
	p := eng.Update(0, 1.0/60)
	if p.MelodyMidiNote != 72 || p.BassMidiNote != 127 {
		t.Fatalf("idle registers = %d/%d, want the configured defaults", p.MelodyMidiNote, p.BassMidiNote)
	}
}

func TestEngineAssumedKey(t *testing.T) {
	eng := NewEngine(WithAssumedKey(21, ModeMinor)) // 21 wraps to pitch class 9
	if _, err := eng.LoadSong(progressionSong(t)); err != nil {
		t.Fatalf("load: %v", err)
	}
	tonic, mode, ok := eng.KeyInfo()
	if !ok || tonic != 9 || mode != ModeMinor {
		t.Fatalf("key = %d %v, want A minor", tonic, mode)
	}
	p := eng.Update(4.5, 0) // the A minor bar
	if p.ChordRoot != 9 || p.ChordQuality != QualityMinor || p.ChordDegree != 1 {
		t.Fatalf("chord = root %d %v degree %d, want Am i under assumed key",
			p.ChordRoot, p.ChordQuality, p.ChordDegree)
	}
}

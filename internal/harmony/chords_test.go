package harmony

import (
	"testing"

	"github.com/eric-decompiled/midisense/internal/song"
)

func TestDetectChordsProgression(t *testing.T) {
	var notes []song.NoteEvent
	notes = append(notes, chordNotes(0, 1.9, 36, 60, 64, 67)...) // C
	notes = append(notes, chordNotes(2, 1.9, 43, 59, 62, 65)...) // G7
	notes = append(notes, chordNotes(4, 1.9, 45, 60, 64)...)     // Am
	notes = append(notes, chordNotes(6, 1.9, 36, 60, 64, 67)...) // C
	tl := testTimeline(notes)
	Analyze(tl)

	if tl.Key != 0 || tl.Mode != song.ModeMajor {
		t.Fatalf("key = %d %v, want C major", tl.Key, tl.Mode)
	}
	want := []struct {
		root    int
		quality song.ChordQuality
		degree  int
	}{
		{0, song.QualityMajor, 1},
		{7, song.QualityDom7, 5},
		{9, song.QualityMinor, 6},
		{0, song.QualityMajor, 1},
	}
	if len(tl.Chords) != len(want) {
		t.Fatalf("detected %d chords, want %d: %+v", len(tl.Chords), len(want), tl.Chords)
	}
	for i, w := range want {
		c := tl.Chords[i]
		if c.Root != w.root || c.Quality != w.quality || c.Degree != w.degree {
			t.Errorf("chord %d = root %d %v degree %d, want root %d %v degree %d",
				i, c.Root, c.Quality, c.Degree, w.root, w.quality, w.degree)
		}
		if c.Tension < 0 || c.Tension > 1 {
			t.Errorf("chord %d tension %v out of range", i, c.Tension)
		}
		if i > 0 && c.Time < tl.Chords[i-1].Time {
			t.Errorf("chord %d at %v before chord %d at %v", i, c.Time, i-1, tl.Chords[i-1].Time)
		}
	}
	if tl.Chords[0].Time != 0 {
		t.Errorf("first chord at %v, want 0", tl.Chords[0].Time)
	}
}

func TestChordCoverageAcrossSilence(t *testing.T) {
	var notes []song.NoteEvent
	notes = append(notes, chordNotes(0, 1.9, 48, 60, 64, 67)...) // C, bar 0
	notes = append(notes, chordNotes(4, 1.9, 53, 65, 69, 72)...) // F, bar 2; bar 1 silent
	tl := testTimeline(notes)
	Analyze(tl)

	if len(tl.Chords) != 2 {
		t.Fatalf("detected %d chords, want 2: %+v", len(tl.Chords), tl.Chords)
	}
	for tq := 0.0; tq <= tl.Duration; tq += 0.25 {
		if _, i := tl.ChordAt(tq); i < 0 {
			t.Fatalf("no active chord at %v", tq)
		}
	}
	if c, _ := tl.ChordAt(3.0); c.Root != 0 {
		t.Errorf("silent bar holds root %d, want 0", c.Root)
	}
	if c, _ := tl.ChordAt(4.5); c.Root != 5 || c.Quality != song.QualityMajor || c.Degree != 4 {
		t.Errorf("bar 2 chord = %+v, want F major degree 4", c)
	}
}

func TestAnalyzeNoNotes(t *testing.T) {
	tl := testTimeline(nil)
	Analyze(tl)
	if tl.Key != 0 || tl.Mode != song.ModeMajor {
		t.Fatalf("empty timeline key = %d %v, want C major", tl.Key, tl.Mode)
	}
	if len(tl.Chords) != 1 {
		t.Fatalf("empty timeline chords = %+v, want one neutral entry", tl.Chords)
	}
	c := tl.Chords[0]
	if c.Time != 0 || c.Root != 0 || c.Quality != song.QualityUnknown || c.Degree != 1 || c.Tension != 0 {
		t.Fatalf("neutral chord = %+v", c)
	}
}

func TestAnalyzeSinglePitch(t *testing.T) {
	tl := testTimeline([]song.NoteEvent{note(0, 4, 45, 0.7)})
	Analyze(tl)
	if tl.Key != 9 {
		t.Fatalf("single-pitch key = %d, want 9", tl.Key)
	}
	if len(tl.Chords) != 1 {
		t.Fatalf("single-pitch chords = %+v, want one neutral entry", tl.Chords)
	}
	c := tl.Chords[0]
	if c.Root != tl.Key || c.Quality != song.QualityUnknown || c.Degree != 1 || c.Tension != 0 {
		t.Fatalf("single-pitch chord = %+v, want unknown on the tonic", c)
	}
}

func TestMatchWindowUnknownCluster(t *testing.T) {
	var chroma [12]float64
	chroma[0], chroma[2], chroma[4] = 1.0, 0.9, 0.8 // C D E cluster
	root, quality := matchWindow(chroma, 0)
	if quality != song.QualityUnknown || root != 0 {
		t.Fatalf("cluster matched %d %v, want 0 unknown", root, quality)
	}
}

func TestMatchWindowSusAmbiguityFollowsBass(t *testing.T) {
	var chroma [12]float64
	chroma[0], chroma[2], chroma[7] = 1, 1, 1 // C D G reads as Csus2 or Gsus4
	if root, q := matchWindow(chroma, 0); root != 0 || q != song.QualitySus2 {
		t.Fatalf("bass C matched %d %v, want Csus2", root, q)
	}
	if root, q := matchWindow(chroma, 7); root != 7 || q != song.QualitySus4 {
		t.Fatalf("bass G matched %d %v, want Gsus4", root, q)
	}
}

func TestMatchWindowDim7(t *testing.T) {
	var chroma [12]float64
	chroma[0], chroma[3], chroma[6], chroma[9] = 1, 1, 1, 1
	if root, q := matchWindow(chroma, 0); root != 0 || q != song.QualityDim7 {
		t.Fatalf("matched %d %v, want Cdim7", root, q)
	}
}

func TestChordTensionBounds(t *testing.T) {
	qualities := []song.ChordQuality{
		song.QualityMajor, song.QualityMinor, song.QualityDom7, song.QualityMin7,
		song.QualityDim, song.QualityAug, song.QualitySus2, song.QualitySus4,
		song.QualityMaj7, song.QualityHalfDim7, song.QualityDim7, song.QualityUnknown,
	}
	for _, q := range qualities {
		for degree := 0; degree <= 7; degree++ {
			for _, density := range []float64{0, 0.5, 1, 3} {
				v := chordTension(q, degree, density)
				if v < 0 || v > 1 {
					t.Fatalf("tension(%v, %d, %v) = %v out of range", q, degree, density, v)
				}
			}
		}
	}
}

func TestChordTensionOrdering(t *testing.T) {
	if hi, lo := chordTension(song.QualityDim7, 7, 0.5), chordTension(song.QualityMajor, 1, 0.5); hi <= lo {
		t.Fatalf("dim7 on vii tension %v not above major on I %v", hi, lo)
	}
	if hi, lo := chordTension(song.QualityDom7, 5, 0.3), chordTension(song.QualityMajor, 1, 0.3); hi <= lo {
		t.Fatalf("V7 tension %v not above I %v", hi, lo)
	}
	if hi, lo := chordTension(song.QualityMajor, 1, 1), chordTension(song.QualityMajor, 1, 0); hi <= lo {
		t.Fatalf("dense bar tension %v not above sparse %v", hi, lo)
	}
}

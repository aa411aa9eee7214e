// Package harmony infers key, chords, and harmonic tension from a parsed
// timeline. It runs once per load, off the frame loop; per-frame code only
// reads the chord list it produces.
package harmony

import (
	"math"

	"github.com/eric-decompiled/midisense/internal/song"
)

// Krumhansl-Schmuckler tonal-hierarchy profiles.
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// Correlations this close to the best are treated as ties and broken by the
// bass line, then by the file's key-signature hint.
const keyTieEpsilon = 0.015

// notes at or below this MIDI number count toward the bass histogram
const bassCeiling = 55

type keyCandidate struct {
	tonic int
	mode  song.KeyMode
	score float64
}

// estimateKey correlates the weighted pitch-class histogram against both
// profiles at every rotation. An empty histogram falls back to C major.
func estimateKey(tl *song.Timeline) (int, song.KeyMode) {
	var chroma [12]float64
	var total float64
	for _, n := range tl.Notes {
		w := noteWeight(n.Duration, n.Velocity)
		chroma[n.Midi%12] += w
		total += w
	}
	if total <= 0 {
		return 0, song.ModeMajor
	}

	candidates := make([]keyCandidate, 0, 24)
	for tonic := 0; tonic < 12; tonic++ {
		candidates = append(candidates,
			keyCandidate{tonic, song.ModeMajor, correlate(chroma, shiftProfile(majorProfile, tonic))},
			keyCandidate{tonic, song.ModeMinor, correlate(chroma, shiftProfile(minorProfile, tonic))})
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		}
	}

	bass, haveBass := bassPitchClass(tl.Notes)
	hint := hintedKey(tl.KeySig)
	pick := best
	if haveBass && pick.tonic != bass {
		if c, ok := nearTie(candidates, best.score, func(c keyCandidate) bool { return c.tonic == bass }); ok {
			pick = c
		}
	}
	if pick == best && hint != nil && (best.tonic != hint.tonic || best.mode != hint.mode) {
		if c, ok := nearTie(candidates, best.score, func(c keyCandidate) bool {
			return c.tonic == hint.tonic && c.mode == hint.mode
		}); ok {
			pick = c
		}
	}
	return pick.tonic, pick.mode
}

// nearTie returns the highest-scoring candidate within keyTieEpsilon of the
// best score that satisfies pred.
func nearTie(candidates []keyCandidate, bestScore float64, pred func(keyCandidate) bool) (keyCandidate, bool) {
	var out keyCandidate
	found := false
	for _, c := range candidates {
		if bestScore-c.score > keyTieEpsilon || !pred(c) {
			continue
		}
		if !found || c.score > out.score {
			out = c
			found = true
		}
	}
	return out, found
}

// noteWeight favors long, loud notes without letting velocity dominate.
func noteWeight(duration, velocity float64) float64 {
	if duration <= 0 {
		duration = 0.05
	}
	return duration * (0.5 + 0.5*velocity)
}

// bassPitchClass is the most common pitch class among low notes, falling
// back to the single lowest note of the piece.
func bassPitchClass(notes []song.NoteEvent) (int, bool) {
	if len(notes) == 0 {
		return 0, false
	}
	var hist [12]float64
	lowest := notes[0]
	any := false
	for _, n := range notes {
		if n.Midi < lowest.Midi {
			lowest = n
		}
		if n.Midi <= bassCeiling {
			hist[n.Midi%12] += noteWeight(n.Duration, n.Velocity)
			any = true
		}
	}
	if !any {
		return lowest.Midi % 12, true
	}
	best := 0
	for pc := 1; pc < 12; pc++ {
		if hist[pc] > hist[best] {
			best = pc
		}
	}
	return best, true
}

// hintedKey converts an FF 59 sharps/flats count to a tonic via the circle
// of fifths. Minor hints land on the relative minor tonic.
func hintedKey(ks *song.KeySignature) *keyCandidate {
	if ks == nil || ks.SharpsFlats < -7 || ks.SharpsFlats > 7 {
		return nil
	}
	tonic := ((ks.SharpsFlats*7)%12 + 12) % 12
	mode := song.ModeMajor
	if ks.Minor {
		tonic = (tonic + 9) % 12
		mode = song.ModeMinor
	}
	return &keyCandidate{tonic: tonic, mode: mode}
}

func shiftProfile(profile [12]float64, shift int) [12]float64 {
	var out [12]float64
	for i := range profile {
		out[i] = profile[((i-shift)%12+12)%12]
	}
	return out
}

func correlate(a, b [12]float64) float64 {
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/12, sumB/12
	var num, devA, devB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		num += da * db
		devA += da * da
		devB += db * db
	}
	if devA == 0 || devB == 0 {
		return 0
	}
	return num / math.Sqrt(devA*devB)
}


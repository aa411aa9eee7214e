package harmony

import (
	"math"
	"sort"

	"github.com/eric-decompiled/midisense/internal/song"
)

// Analyze fills the harmonic fields of tl: global key and mode, then one
// chord event per bar. It never fails; degenerate input yields a single
// neutral tonic chord so downstream lookups always resolve.
func Analyze(tl *song.Timeline) {
	tl.Key, tl.Mode = estimateKey(tl)
	tl.Chords = detectChords(tl)
}

// AnalyzeInKey is Analyze with the key fixed by the caller instead of
// estimated, for sources whose notated key is trusted.
func AnalyzeInKey(tl *song.Timeline, tonic int, mode song.KeyMode) {
	tl.Key = ((tonic % 12) + 12) % 12
	tl.Mode = mode
	tl.Chords = detectChords(tl)
}

const (
	// minChordFit is the least fraction of window pitch mass a template
	// must explain to claim the window.
	minChordFit = 0.55

	// bassRootBonus favors candidates rooted on the window's lowest note.
	bassRootBonus = 0.10

	// bassBoost scales chroma weight for notes at or below bassCeiling.
	bassBoost = 1.75

	// minChordVoices distinct pitch classes are required before template
	// matching; thinner windows stay QualityUnknown.
	minChordVoices = 3

	// densityFullNotes sounding notes per beat saturates the density term.
	densityFullNotes = 3.0
)

// A chordTemplate is a binary pitch-class pattern rooted at 0. weight
// discounts the larger templates so a four-note match has to explain more
// of the window than a triad to win the same score.
type chordTemplate struct {
	quality song.ChordQuality
	pattern [12]float64
	weight  float64
}

var chordTemplates = []chordTemplate{
	{song.QualityMajor, [12]float64{1, 0, 0, 0, 1, 0, 0, 1, 0, 0, 0, 0}, 1.0},
	{song.QualityMinor, [12]float64{1, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 0}, 1.0},
	{song.QualityDim, [12]float64{1, 0, 0, 1, 0, 0, 1, 0, 0, 0, 0, 0}, 0.92},
	{song.QualityAug, [12]float64{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0}, 0.88},
	{song.QualitySus2, [12]float64{1, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0}, 0.90},
	{song.QualitySus4, [12]float64{1, 0, 0, 0, 0, 1, 0, 1, 0, 0, 0, 0}, 0.90},
	{song.QualityDom7, [12]float64{1, 0, 0, 0, 1, 0, 0, 1, 0, 0, 1, 0}, 0.97},
	{song.QualityMaj7, [12]float64{1, 0, 0, 0, 1, 0, 0, 1, 0, 0, 0, 1}, 0.95},
	{song.QualityMin7, [12]float64{1, 0, 0, 1, 0, 0, 0, 1, 0, 0, 1, 0}, 0.95},
	{song.QualityHalfDim7, [12]float64{1, 0, 0, 1, 0, 0, 1, 0, 0, 0, 1, 0}, 0.93},
	{song.QualityDim7, [12]float64{1, 0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0}, 0.93},
}

// detectChords walks the song in bar-sized windows, each sized by the tempo
// and meter in effect at the window start. Empty bars emit nothing; the
// preceding chord stays active through them.
func detectChords(tl *song.Timeline) []song.ChordEvent {
	if tl.Duration <= 0 || distinctPitchClasses(tl.Notes) < 2 {
		return []song.ChordEvent{neutralChord(tl.Key, tl.Mode)}
	}
	var chords []song.ChordEvent
	for start := 0.0; start < tl.Duration; {
		barLen := tl.TimeSigAt(start).BeatsPerBar() * tl.BeatDurationAt(start)
		if barLen <= 0 {
			break
		}
		end := start + barLen
		if ev, ok := windowChord(tl, start, end); ok {
			chords = append(chords, ev)
		}
		start = end
	}
	if len(chords) == 0 {
		return []song.ChordEvent{neutralChord(tl.Key, tl.Mode)}
	}
	// The first chord also covers any leading silence.
	chords[0].Time = 0
	return chords
}

func windowChord(tl *song.Timeline, start, end float64) (song.ChordEvent, bool) {
	chroma, bassPC, count := windowChroma(tl, start, end)
	if count == 0 {
		return song.ChordEvent{}, false
	}
	root, quality := matchWindow(chroma, bassPC)
	degree := song.DegreeOf(root, tl.Key, tl.Mode)
	beats := (end - start) / tl.BeatDurationAt(start)
	density := float64(count) / (beats * densityFullNotes)
	return song.ChordEvent{
		Time:    start,
		Root:    root,
		Quality: quality,
		Degree:  degree,
		Tension: chordTension(quality, degree, density),
	}, true
}

// windowChroma sums note weight per pitch class over notes sounding in
// [start, end). Weight is overlap duration shaped by velocity, boosted for
// bass-register notes. bassPC is the class of the lowest sounding note.
func windowChroma(tl *song.Timeline, start, end float64) (chroma [12]float64, bassPC, count int) {
	hi := sort.Search(len(tl.Notes), func(k int) bool { return tl.Notes[k].Time >= end })
	cutoff := start - tl.LongestNote
	lowest := 128
	for i := hi - 1; i >= 0; i-- {
		n := tl.Notes[i]
		if n.Time < cutoff {
			break
		}
		overlap := math.Min(n.Time+n.Duration, end) - math.Max(n.Time, start)
		if overlap <= 0 {
			continue
		}
		w := noteWeight(overlap, n.Velocity)
		if n.Midi <= bassCeiling {
			w *= bassBoost
		}
		chroma[n.Midi%12] += w
		if n.Midi < lowest {
			lowest = n.Midi
		}
		count++
	}
	if count == 0 {
		return chroma, 0, 0
	}
	return chroma, lowest % 12, count
}

// matchWindow scores every template at every sounding root. A candidate
// needs minChordVoices of its tones present and minChordFit coverage;
// otherwise the window is QualityUnknown rooted at the heaviest class.
func matchWindow(chroma [12]float64, bassPC int) (root int, quality song.ChordQuality) {
	total := 0.0
	distinct := 0
	for _, v := range chroma {
		total += v
		if v > 0 {
			distinct++
		}
	}
	root = maxChroma(chroma)
	quality = song.QualityUnknown
	if total <= 0 || distinct < minChordVoices {
		return root, quality
	}
	best := 0.0
	for _, tpl := range chordTemplates {
		for r := 0; r < 12; r++ {
			if chroma[r] <= 0 {
				continue
			}
			explained := 0.0
			present := 0
			for i := 0; i < 12; i++ {
				if tpl.pattern[i] == 0 {
					continue
				}
				v := chroma[(r+i)%12]
				explained += v
				if v > 0 {
					present++
				}
			}
			if present < minChordVoices {
				continue
			}
			coverage := explained / total
			if coverage < minChordFit {
				continue
			}
			score := coverage * tpl.weight
			if r == bassPC {
				score += bassRootBonus
			}
			if score > best {
				best = score
				root, quality = r, tpl.quality
			}
		}
	}
	return root, quality
}

// Tension blends chord-quality dissonance, scale-degree function, and local
// note density. Weights sum to 1 so the blend needs no rescaling.
const (
	tensionQualityWeight = 0.45
	tensionDegreeWeight  = 0.35
	tensionDensityWeight = 0.20
)

func chordTension(quality song.ChordQuality, degree int, density float64) float64 {
	v := tensionQualityWeight*qualityDissonance(quality) +
		tensionDegreeWeight*degreeTension(degree) +
		tensionDensityWeight*clamp01(density)
	return clamp01(v)
}

func qualityDissonance(q song.ChordQuality) float64 {
	switch q {
	case song.QualityMajor:
		return 0.08
	case song.QualityMinor:
		return 0.18
	case song.QualitySus2:
		return 0.30
	case song.QualitySus4:
		return 0.35
	case song.QualityMaj7:
		return 0.38
	case song.QualityMin7:
		return 0.45
	case song.QualityDom7:
		return 0.58
	case song.QualityHalfDim7:
		return 0.75
	case song.QualityAug:
		return 0.80
	case song.QualityDim:
		return 0.85
	case song.QualityDim7:
		return 0.95
	case song.QualityUnknown:
		return 0.50
	}
	return 0.50
}

// Dominant-function degrees pull harder than tonic-function ones. Index 0
// is the non-diatonic bucket.
var degreeTensionTable = [8]float64{0.70, 0.00, 0.40, 0.25, 0.35, 0.65, 0.30, 0.85}

func degreeTension(degree int) float64 {
	if degree < 0 || degree >= len(degreeTensionTable) {
		return degreeTensionTable[0]
	}
	return degreeTensionTable[degree]
}

// neutralChord is the degenerate-input fallback: silence and single held
// pitches still give downstream lookups one valid tonic entry.
func neutralChord(key int, mode song.KeyMode) song.ChordEvent {
	return song.ChordEvent{
		Time:    0,
		Root:    key,
		Quality: song.QualityUnknown,
		Degree:  song.DegreeOf(key, key, mode),
		Tension: 0,
	}
}

func distinctPitchClasses(notes []song.NoteEvent) int {
	var seen [12]bool
	n := 0
	for _, note := range notes {
		pc := note.Midi % 12
		if !seen[pc] {
			seen[pc] = true
			n++
		}
	}
	return n
}

func maxChroma(chroma [12]float64) int {
	best := 0
	for i := 1; i < 12; i++ {
		if chroma[i] > chroma[best] {
			best = i
		}
	}
	return best
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

package midisense

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/music-theory.v0/key"
	"gopkg.in/music-theory.v0/note"
)

// The engine works in pitch classes; these helpers exist so every binary
// prints the same spellings.

// minorKeyMode is whatever key.Of canonicalizes "minor" to, so mode
// comparison does not depend on the library's constant names.
var minorKeyMode = key.Of("C minor").Mode

// Keys conventionally spelled with flats, by tonic pitch class.
var (
	flatMajorKeys = [12]bool{1: true, 3: true, 5: true, 6: true, 8: true, 10: true}
	flatMinorKeys = [12]bool{0: true, 2: true, 3: true, 5: true, 7: true, 10: true}
)

func flatKey(tonic int, mode KeyMode) bool {
	pc := ((tonic % 12) + 12) % 12
	if mode == ModeMinor {
		return flatMinorKeys[pc]
	}
	return flatMajorKeys[pc]
}

func className(pc int, flat bool) string {
	cls := note.Class(((pc%12)+12)%12 + 1)
	if flat {
		return cls.String(note.Flat)
	}
	return cls.String(note.Sharp)
}

// KeyName returns the compact key spelling: "C", "Eb", "F#m".
func KeyName(tonic int, mode KeyMode) string {
	name := className(tonic, flatKey(tonic, mode))
	if mode == ModeMinor {
		return name + "m"
	}
	return name
}

// ChordName returns a chord symbol spelled to match the key: "G7" in C,
// "Gb" in Db. A window no template matched reads as the root plus "?".
func ChordName(root int, quality ChordQuality, tonic int, mode KeyMode) string {
	return className(root, flatKey(tonic, mode)) + qualitySuffix(quality)
}

func qualitySuffix(q ChordQuality) string {
	switch q {
	case QualityMajor:
		return ""
	case QualityMinor:
		return "m"
	case QualityDim:
		return "dim"
	case QualityAug:
		return "aug"
	case QualitySus2:
		return "sus2"
	case QualitySus4:
		return "sus4"
	case QualityDom7:
		return "7"
	case QualityMaj7:
		return "maj7"
	case QualityMin7:
		return "m7"
	case QualityHalfDim7:
		return "m7b5"
	case QualityDim7:
		return "dim7"
	}
	return "?"
}

// NoteName returns the scientific pitch name of a MIDI note, sharp
// spelled: 60 → "C4".
func NoteName(midi int) string {
	pc := ((midi % 12) + 12) % 12
	return fmt.Sprintf("%s%d", className(pc, false), midi/12-1)
}

// ParseKey reads key names like "C", "f# minor", "Bbm", "A minor" into a
// tonic pitch class and mode.
func ParseKey(name string) (int, KeyMode, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return 0, ModeMajor, errors.New("empty key name")
	}
	trimmed = strings.ToUpper(trimmed[:1]) + trimmed[1:]
	// Accept the compact "Am" form alongside "A minor".
	if strings.HasSuffix(trimmed, "m") {
		trimmed = strings.TrimSuffix(trimmed, "m") + " minor"
	}
	k := key.Of(trimmed)
	if k.Root == note.Nil {
		return 0, ModeMajor, fmt.Errorf("unrecognized key %q", name)
	}
	tonic := int(k.Root) - 1
	mode := ModeMajor
	if k.Mode == minorKeyMode {
		mode = ModeMinor
	}
	return tonic, mode, nil
}

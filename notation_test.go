package midisense

import "testing"

func TestKeyName(t *testing.T) {
	cases := []struct {
		tonic int
		mode  KeyMode
		want  string
	}{
		{0, ModeMajor, "C"},
		{3, ModeMajor, "Eb"},
		{6, ModeMajor, "Gb"},
		{7, ModeMajor, "G"},
		{10, ModeMajor, "Bb"},
		{9, ModeMinor, "Am"},
		{0, ModeMinor, "Cm"},
		{4, ModeMinor, "Em"},
		{6, ModeMinor, "F#m"},
		{10, ModeMinor, "Bbm"},
	}
	for _, c := range cases {
		if got := KeyName(c.tonic, c.mode); got != c.want {
			t.Errorf("KeyName(%d, %v) = %q, want %q", c.tonic, c.mode, got, c.want)
		}
	}
}

func TestChordName(t *testing.T) {
	cases := []struct {
		root    int
		quality ChordQuality
		tonic   int
		mode    KeyMode
		want    string
	}{
		{7, QualityDom7, 0, ModeMajor, "G7"},
		{9, QualityMinor, 0, ModeMajor, "Am"},
		{10, QualityMaj7, 5, ModeMajor, "Bbmaj7"},
		{1, QualityDim, 10, ModeMajor, "Dbdim"},
		{6, QualityHalfDim7, 7, ModeMajor, "F#m7b5"},
		{8, QualityAug, 9, ModeMinor, "G#aug"},
		{3, QualitySus4, 0, ModeMinor, "Ebsus4"},
		{2, QualitySus2, 0, ModeMajor, "Dsus2"},
		{11, QualityDim7, 0, ModeMajor, "Bdim7"},
		{0, QualityMin7, 0, ModeMinor, "Cm7"},
		{0, QualityUnknown, 0, ModeMajor, "C?"},
	}
	for _, c := range cases {
		if got := ChordName(c.root, c.quality, c.tonic, c.mode); got != c.want {
			t.Errorf("ChordName(%d, %v) in %s = %q, want %q",
				c.root, c.quality, KeyName(c.tonic, c.mode), got, c.want)
		}
	}
}

func TestNoteName(t *testing.T) {
	cases := []struct {
		midi int
		want string
	}{
		{60, "C4"},
		{61, "C#4"},
		{69, "A4"},
		{21, "A0"},
		{59, "B3"},
		{36, "C2"},
		{108, "C8"},
	}
	for _, c := range cases {
		if got := NoteName(c.midi); got != c.want {
			t.Errorf("NoteName(%d) = %q, want %q", c.midi, got, c.want)
		}
	}
}

func TestParseKey(t *testing.T) {
	cases := []struct {
		in    string
		tonic int
		mode  KeyMode
	}{
		{"C", 0, ModeMajor},
		{"c", 0, ModeMajor},
		{"G major", 7, ModeMajor},
		{"Eb", 3, ModeMajor},
		{"Am", 9, ModeMinor},
		{"A minor", 9, ModeMinor},
		{"f# minor", 6, ModeMinor},
		{"Bbm", 10, ModeMinor},
	}
	for _, c := range cases {
		tonic, mode, err := ParseKey(c.in)
		if err != nil {
			t.Errorf("ParseKey(%q): %v", c.in, err)
			continue
		}
		if tonic != c.tonic || mode != c.mode {
			t.Errorf("ParseKey(%q) = %d %v, want %d %v", c.in, tonic, mode, c.tonic, c.mode)
		}
	}

	for _, bad := range []string{"", "x", "12", "m"} {
		if _, _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) accepted", bad)
		}
	}
}

// Every compact spelling must read back as itself.
func TestKeyNameParseRoundTrip(t *testing.T) {
	for tonic := 0; tonic < 12; tonic++ {
		for _, mode := range []KeyMode{ModeMajor, ModeMinor} {
			name := KeyName(tonic, mode)
			gotTonic, gotMode, err := ParseKey(name)
			if err != nil {
				t.Fatalf("ParseKey(%q): %v", name, err)
			}
			if gotTonic != tonic || gotMode != mode {
				t.Fatalf("round trip %q = %d %v, want %d %v", name, gotTonic, gotMode, tonic, mode)
			}
		}
	}
}

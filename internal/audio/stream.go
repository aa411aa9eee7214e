// Package audio plays the analyzed song through a SoundFont synthesizer
// so on-screen motion has real sound to line up against. The player
// reports its position from samples rendered into the output stream,
// which is the clock frame updates should follow.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/sinshu/go-meltysynth/meltysynth"
)

// releaseTail keeps Done false for a moment past the last note so
// reverb and release envelopes can ring out.
const releaseTail = 2 * time.Second

// SampleSource fills dst with interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// StreamReader adapts a SampleSource to the little-endian float32 byte
// stream ebiten's audio player consumes.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		u := math.Float32bits(r.buf[i])
		binary.LittleEndian.PutUint32(p[i*4:], u)
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

// SongSource renders a Standard MIDI File through a SoundFont with
// meltysynth. Past the end of the song it keeps producing silence, so
// the stream stays open and the source can be rewound for another pass.
type SongSource struct {
	mu       sync.Mutex
	seq      *meltysynth.MidiFileSequencer
	file     *meltysynth.MidiFile
	left     []float32
	right    []float32
	rendered int64
	total    int64
	rate     int
}

// NewSongSource parses the SoundFont and the song and cues the sequencer
// at the top. length is the song duration as reported by the analyzer.
func NewSongSource(soundFont, song []byte, sampleRate int, length time.Duration) (*SongSource, error) {
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(soundFont))
	if err != nil {
		return nil, fmt.Errorf("parse soundfont: %w", err)
	}
	mf, err := meltysynth.NewMidiFile(bytes.NewReader(song))
	if err != nil {
		return nil, fmt.Errorf("parse midi file: %w", err)
	}
	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	synth, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer: %w", err)
	}
	seq := meltysynth.NewMidiFileSequencer(synth)
	seq.Play(mf, false)
	total := int64(float64(sampleRate) * (length + releaseTail).Seconds())
	return &SongSource{seq: seq, file: mf, total: total, rate: sampleRate}, nil
}

func (s *SongSource) Process(dst []float32) {
	frames := len(dst) / 2
	s.mu.Lock()
	if cap(s.left) < frames {
		s.left = make([]float32, frames)
		s.right = make([]float32, frames)
	}
	l := s.left[:frames]
	r := s.right[:frames]
	s.seq.Render(l, r)
	s.rendered += int64(frames)
	s.mu.Unlock()
	for i := 0; i < frames; i++ {
		dst[i*2] = l[i]
		dst[i*2+1] = r[i]
	}
}

// Position is the playback time implied by rendered samples. It runs a
// buffer ahead of the speaker, which suits visuals that anticipate.
func (s *SongSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.rendered) / float64(s.rate)
}

// Done reports whether the song plus its release tail has been rendered.
func (s *SongSource) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered >= s.total
}

// Restart rewinds the sequencer to the top of the song.
func (s *SongSource) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq.Play(s.file, false)
	s.rendered = 0
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// Ebiten allows a single audio context per process.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// Player streams a SongSource through ebiten's audio layer.
type Player struct {
	player *ebitaudio.Player
	source *SongSource
	reader io.ReadCloser
}

func NewSongPlayer(soundFont, song []byte, sampleRate int, length time.Duration) (*Player, error) {
	src, err := NewSongSource(soundFont, song, sampleRate, length)
	if err != nil {
		return nil, err
	}
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(src)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &Player{
		player: pl,
		source: src,
		reader: reader,
	}, nil
}

func (p *Player) Play()  { p.player.Play() }
func (p *Player) Pause() { p.player.Pause() }
func (p *Player) IsPlaying() bool {
	return p.player.IsPlaying()
}

// Position returns the clock the visuals should render against, in seconds.
func (p *Player) Position() float64 { return p.source.Position() }

// Done reports whether the song has played out, tail included.
func (p *Player) Done() bool { return p.source.Done() }

// Restart cues the song from the top without tearing the stream down.
func (p *Player) Restart() { p.source.Restart() }

func (p *Player) Stop() error {
	p.player.Pause()
	p.player.Close()
	return p.reader.Close()
}

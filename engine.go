// Package midisense analyzes a MIDI performance and derives a continuous
// stream of musically meaningful parameters — key, chord, tension, beat
// and groove curves, and an orbital coordinate for spatial renderers —
// one immutable snapshot per animation frame.
package midisense

import (
	"fmt"
	"log/slog"
	"sync"

	intgroove "github.com/eric-decompiled/midisense/internal/groove"
	intharm "github.com/eric-decompiled/midisense/internal/harmony"
	intorbit "github.com/eric-decompiled/midisense/internal/orbit"
	intsong "github.com/eric-decompiled/midisense/internal/song"
)

// Re-exported model types so downstream renderers need only this package.
type (
	KeyMode            = intsong.KeyMode
	ChordQuality       = intsong.ChordQuality
	NoteEvent          = intsong.NoteEvent
	OrbitFrame         = intorbit.Frame
	OrbitState         = intorbit.State
	AnticipationWindow = intgroove.Window
)

const (
	ModeMajor = intsong.ModeMajor
	ModeMinor = intsong.ModeMinor
)

const (
	QualityMajor    = intsong.QualityMajor
	QualityMinor    = intsong.QualityMinor
	QualityDom7     = intsong.QualityDom7
	QualityMin7     = intsong.QualityMin7
	QualityDim      = intsong.QualityDim
	QualityAug      = intsong.QualityAug
	QualitySus2     = intsong.QualitySus2
	QualitySus4     = intsong.QualitySus4
	QualityMaj7     = intsong.QualityMaj7
	QualityHalfDim7 = intsong.QualityHalfDim7
	QualityDim7     = intsong.QualityDim7
	QualityUnknown  = intsong.QualityUnknown
)

// LoadOutcome reports what became of one LoadSong call.
type LoadOutcome int

const (
	// LoadApplied: the parsed timeline is now current.
	LoadApplied LoadOutcome = iota
	// LoadFailed: the bytes did not parse; the prior timeline, if any,
	// remains current.
	LoadFailed
	// LoadSuperseded: a newer load started before this one finished, so
	// this result was discarded.
	LoadSuperseded
)

func (o LoadOutcome) String() string {
	switch o {
	case LoadApplied:
		return "applied"
	case LoadFailed:
		return "failed"
	case LoadSuperseded:
		return "superseded"
	}
	return "unknown"
}

type Option func(*engineConfig)

type engineConfig struct {
	tensionRate   float64
	melodyDefault int
	bassDefault   int
	logger        *slog.Logger
	parser        intsong.Config
	assumeKey     bool
	keyTonic      int
	keyMode       KeyMode
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		tensionRate:   2.0,
		melodyDefault: 60,
		bassDefault:   36,
		logger:        slog.New(slog.DiscardHandler),
		parser:        intsong.DefaultConfig(),
	}
}

// WithTensionRate sets the exponential smoothing rate for tension, in
// units per second. Non-positive values keep the default of 2.0.
func WithTensionRate(perSecond float64) Option {
	return func(cfg *engineConfig) {
		if perSecond > 0 {
			cfg.tensionRate = perSecond
		}
	}
}

// WithLogger installs a logger for parse anomalies and load decisions.
// The engine is silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithDefaultNotes sets the melody and bass MIDI numbers reported before
// any note has sounded.
func WithDefaultNotes(melody, bass int) Option {
	return func(cfg *engineConfig) {
		cfg.melodyDefault = clampMidi(melody)
		cfg.bassDefault = clampMidi(bass)
	}
}

// WithAssumedKey fixes the key instead of estimating it, for callers that
// trust a notated key over histogram correlation. tonic is a pitch class
// 0..11.
func WithAssumedKey(tonic int, mode KeyMode) Option {
	return func(cfg *engineConfig) {
		cfg.assumeKey = true
		cfg.keyTonic = ((tonic % 12) + 12) % 12
		cfg.keyMode = mode
	}
}

// Engine is the analysis pipeline behind a single frame loop: load a song,
// then call Update once per rendered frame. LoadSong may run on another
// goroutine; everything else belongs to the frame loop.
type Engine struct {
	mu     sync.Mutex
	logger *slog.Logger
	parser *intsong.Parser

	assumeKey bool
	keyTonic  int
	keyMode   KeyMode

	loadToken uint64

	tl     *intsong.Timeline
	clock  *intgroove.Clock
	orb    *intorbit.Orbit
	mapper mapper

	lastTime   float64
	lastParams MusicParams
	haveParams bool
}

func NewEngine(opts ...Option) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	parser := intsong.NewParser(cfg.parser)
	parser.SetLogger(cfg.logger)
	return &Engine{
		logger:    cfg.logger,
		parser:    parser,
		assumeKey: cfg.assumeKey,
		keyTonic:  cfg.keyTonic,
		keyMode:   cfg.keyMode,
		orb:       intorbit.New(),
		mapper:    newMapper(cfg),
	}
}

// LoadSong parses and analyzes raw MIDI bytes and installs the result as
// the current timeline. When loads overlap, the call that started last
// wins and earlier calls report LoadSuperseded; a failed load leaves the
// prior timeline current.
func (e *Engine) LoadSong(data []byte) (LoadOutcome, error) {
	e.mu.Lock()
	e.loadToken++
	token := e.loadToken
	parser := e.parser
	e.mu.Unlock()

	// Parse and analyze outside the lock; the frame loop keeps running
	// against the old timeline meanwhile.
	tl, err := parser.Parse(data)
	if err == nil {
		if e.assumeKey {
			intharm.AnalyzeInKey(tl, e.keyTonic, e.keyMode)
		} else {
			intharm.Analyze(tl)
		}
	}
	return e.finishLoad(token, tl, err)
}

// finishLoad installs a parsed timeline if token is still the newest load.
func (e *Engine) finishLoad(token uint64, tl *intsong.Timeline, err error) (LoadOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if token != e.loadToken {
		e.logger.Debug("load superseded", "token", token, "newest", e.loadToken)
		return LoadSuperseded, nil
	}
	if err != nil {
		return LoadFailed, fmt.Errorf("load song: %w", err)
	}
	e.installLocked(tl)
	e.logger.Debug("song loaded",
		"duration", tl.Duration,
		"notes", len(tl.Notes),
		"chords", len(tl.Chords),
		"key", tl.Key,
		"mode", tl.Mode.String())
	return LoadApplied, nil
}

func (e *Engine) installLocked(tl *intsong.Timeline) {
	e.tl = tl
	e.clock = intgroove.NewClock(tl.Tempo, tl.TimeSig)
	e.mapper.reset()
	e.orb.Reset()
	e.lastTime = 0
	e.haveParams = false
}

// Seek clears smoothing and orbit state so the jump to t does not drag
// stale values across the discontinuity, then recomputes the snapshot at
// t so accessors stay coherent before the next Update.
func (e *Engine) Seek(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mapper.reset()
	e.orb.Reset()
	e.lastParams = e.frameLocked(t, 0)
	e.lastTime = t
	e.haveParams = true
}

// Reset clears all smoothing state without discarding the timeline.
// Calling it twice in a row is the same as calling it once.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mapper.reset()
	e.orb.Reset()
	e.lastTime = 0
	e.haveParams = false
}

// Loaded reports whether a timeline is current.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tl != nil
}

// Duration returns the current timeline's length in seconds, 0 when idle.
func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tl == nil {
		return 0
	}
	return e.tl.Duration
}

// KeyInfo returns the analyzed key. ok is false while no song is loaded.
func (e *Engine) KeyInfo() (tonic int, mode KeyMode, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tl == nil {
		return 0, ModeMajor, false
	}
	return e.tl.Key, e.tl.Mode, true
}

// Orbit returns the most recent orbit frame.
func (e *Engine) Orbit() OrbitFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orb.Last()
}

// OrbitState exposes the orbit continuum for inspection.
func (e *Engine) OrbitState() OrbitState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orb.State()
}

// AnticipationWindow returns the note-lookahead window at the last
// updated position.
func (e *Engine) AnticipationWindow() AnticipationWindow {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clock == nil {
		return intgroove.WindowForBPM(idleBPM)
	}
	return e.clock.WindowAt(e.lastTime)
}

// NotesInWindow returns the notes whose onsets fall inside the
// anticipation window at playback time t. The slice aliases the timeline
// and must not be mutated.
func (e *Engine) NotesInWindow(t float64) []NoteEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tl == nil {
		return nil
	}
	w := e.clock.WindowAt(t)
	return e.tl.NotesBetween(t+w.LowerBound, t+w.Lookahead)
}

func clampMidi(v int) int {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return v
}

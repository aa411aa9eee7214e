// Package orbit animates a spring-damped point around per-chord anchor
// positions in a 2D parameter plane, the coordinate fed to fractal-style
// renderers. It owns the only genuinely persistent frame-to-frame state
// in the engine and is reset wholesale on load and seek.
package orbit

import (
	"math"

	"github.com/eric-decompiled/midisense/internal/song"
)

const (
	// anchorSnapRate drives the exponential pull toward a new chord's
	// anchor point.
	anchorSnapRate = 8.0

	// Radial spring around the base orbit radius.
	springK       = 8.0
	springDamping = 2.5

	// grooveDepth modulates angular speed by up to 40% at full tension.
	grooveDepth = 0.4

	// Radial impulse gains. Bar starts push harder than plain beats;
	// anticipation leans slightly inward before the onset.
	beatPush         = 0.5
	barPush          = 0.9
	anticipationPull = 0.18

	// Rotation accumulator: beat parity alternates direction, kick and
	// snare hits push opposite ways, friction bleeds it all off with a
	// half-life around 0.58s.
	beatSpin     = 0.35
	kickSpin     = 0.8
	snareSpin    = 0.6
	spinFriction = 1.2

	// minRadius keeps the orbit from collapsing through its anchor.
	minRadius = 0.01

	// maxStep caps one integration step; a long frame hitch advances the
	// physics by at most this much.
	maxStep = 0.1
)

// Params carries one frame of inputs from the mapper.
type Params struct {
	Dt float64

	// Active chord. Root/Key/Mode are only consulted when Degree is 0
	// or Quality is unmapped, to pick the nearest diatonic anchor.
	Root    int
	Key     int
	Mode    song.KeyMode
	Degree  int
	Quality song.ChordQuality
	Tension float64

	// Beat clock curves.
	BarSeconds   float64
	Groove       float64
	Arrival      float64
	BarArrival   float64
	Anticipation float64
	BeatIndex    int

	// Drum energy inside this frame's interval.
	Kick  float64
	Snare float64
}

// Frame is the per-frame output consumed by spatial renderers.
type Frame struct {
	CReal    float64
	CImag    float64
	Rotation float64
}

// State exposes the persistent continuum for inspection and tests.
type State struct {
	Angle          float64
	RadiusOffset   float64
	RadiusVelocity float64
	Rotation       float64
	RotationSpeed  float64
}

type anchor struct {
	x, y   float64
	radius float64
}

// anchors is indexed [degree][quality], degrees 1..7. Positions fan the
// seven degrees around a circle; dissonant qualities sit farther out and
// carry wider base orbits.
var anchors = buildAnchors()

func buildAnchors() [8][13]anchor {
	var tbl [8][13]anchor
	for d := 1; d <= 7; d++ {
		ang := 2 * math.Pi * float64(d-1) / 7
		for q := song.QualityMajor; q <= song.QualityUnknown; q++ {
			dist := anchorDist(q)
			tbl[d][q] = anchor{
				x:      dist * math.Cos(ang),
				y:      dist * math.Sin(ang),
				radius: orbitRadius(q),
			}
		}
	}
	return tbl
}

func anchorDist(q song.ChordQuality) float64 {
	switch q {
	case song.QualityMajor:
		return 0.70
	case song.QualityMinor:
		return 0.76
	case song.QualitySus2, song.QualitySus4:
		return 0.73
	case song.QualityMaj7:
		return 0.74
	case song.QualityMin7:
		return 0.78
	case song.QualityDom7:
		return 0.80
	case song.QualityHalfDim7:
		return 0.84
	case song.QualityAug:
		return 0.85
	case song.QualityDim:
		return 0.86
	case song.QualityDim7:
		return 0.88
	}
	return 0.75
}

func orbitRadius(q song.ChordQuality) float64 {
	switch q {
	case song.QualityMajor:
		return 0.060
	case song.QualityMinor:
		return 0.070
	case song.QualitySus2, song.QualitySus4:
		return 0.075
	case song.QualityMaj7:
		return 0.080
	case song.QualityMin7:
		return 0.085
	case song.QualityDom7:
		return 0.090
	case song.QualityHalfDim7:
		return 0.105
	case song.QualityAug, song.QualityDim:
		return 0.110
	case song.QualityDim7:
		return 0.120
	}
	return 0.095
}

// Orbit integrates the anchor pull, the angular sweep, the radial spring,
// and the rotation accumulator. One instance per engine; not safe for
// concurrent use.
type Orbit struct {
	anchorX float64
	anchorY float64

	angle        float64
	radiusOffset float64
	radiusVel    float64

	spin     float64
	spinVel  float64
	lastBeat int

	frame Frame
}

func New() *Orbit {
	return &Orbit{lastBeat: -1}
}

// Reset zeroes the continuum. The point swims back toward its anchor over
// the next few frames instead of teleporting.
func (o *Orbit) Reset() {
	*o = Orbit{lastBeat: -1}
}

// Advance integrates one frame and returns the new output point.
func (o *Orbit) Advance(p Params) Frame {
	dt := p.Dt
	if dt < 0 {
		dt = 0
	} else if dt > maxStep {
		dt = maxStep
	}

	deg := p.Degree
	if deg < 1 || deg > 7 {
		deg = song.NearestDegree(p.Root, p.Key, p.Mode)
	}
	q := p.Quality
	if q < song.QualityMajor || q > song.QualityUnknown {
		q = song.QualityUnknown
	}
	a := anchors[deg][q]

	if dt > 0 {
		snap := 1 - math.Exp(-anchorSnapRate*dt)
		o.anchorX += (a.x - o.anchorX) * snap
		o.anchorY += (a.y - o.anchorY) * snap

		barSec := p.BarSeconds
		if barSec <= 0 {
			barSec = 2
		}
		baseSpeed := 2 * math.Pi / barSec
		o.angle += baseSpeed * (1 + (p.Groove-0.5)*p.Tension*grooveDepth) * dt

		force := (p.Arrival*beatPush + p.BarArrival*barPush) * p.Tension
		force -= p.Anticipation * anticipationPull
		o.radiusVel += (-springK*o.radiusOffset - springDamping*o.radiusVel + force) * dt
		o.radiusOffset += o.radiusVel * dt

		if p.BeatIndex != o.lastBeat {
			if p.BeatIndex%2 == 0 {
				o.spinVel += beatSpin
			} else {
				o.spinVel -= beatSpin
			}
			o.lastBeat = p.BeatIndex
		}
		o.spinVel += kickSpin*p.Kick - snareSpin*p.Snare
		o.spinVel *= math.Exp(-spinFriction * dt)
		o.spin += o.spinVel * dt
	}

	r := a.radius + o.radiusOffset
	if r < minRadius {
		r = minRadius
	}
	o.frame = Frame{
		CReal:    o.anchorX + r*math.Cos(o.angle),
		CImag:    o.anchorY + r*math.Sin(o.angle),
		Rotation: o.spin,
	}
	return o.frame
}

// Last returns the most recent frame without advancing.
func (o *Orbit) Last() Frame { return o.frame }

func (o *Orbit) State() State {
	return State{
		Angle:          o.angle,
		RadiusOffset:   o.radiusOffset,
		RadiusVelocity: o.radiusVel,
		Rotation:       o.spin,
		RotationSpeed:  o.spinVel,
	}
}

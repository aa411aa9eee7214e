package midisense

import "math"

// TracePoint pairs one frame's parameters with its orbit coordinate.
type TracePoint struct {
	Params MusicParams
	Orbit  OrbitFrame
}

// RenderTrace loads raw MIDI bytes into a fresh engine and steps it
// offline at a fixed frame rate, returning one point per frame. fps
// defaults to 60, seconds to the song duration. Tools use it to dump
// analysis without a frame loop; tests use it to assert on whole runs.
func RenderTrace(data []byte, fps, seconds float64, opts ...Option) ([]TracePoint, error) {
	if fps <= 0 {
		fps = 60
	}
	eng := NewEngine(opts...)
	if _, err := eng.LoadSong(data); err != nil {
		return nil, err
	}
	if seconds <= 0 {
		seconds = eng.Duration()
	}

	dt := 1 / fps
	n := int(math.Ceil(seconds*fps)) + 1
	points := make([]TracePoint, 0, n)
	for i := 0; i < n; i++ {
		p := eng.Update(float64(i)*dt, dt)
		points = append(points, TracePoint{Params: p, Orbit: eng.Orbit()})
	}
	return points, nil
}

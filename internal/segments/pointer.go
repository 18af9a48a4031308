package segments

import "fmt"

// PointerAdapter converts horizontal pointer movement over a rendered track
// into timeline seconds. TrackWidth is in pixels, Duration in seconds.
type PointerAdapter struct {
	TrackWidth float64
	Duration   float64
}

// Seconds converts a pixel delta to a seconds delta.
func (p PointerAdapter) Seconds(dx float64) float64 {
	if p.TrackWidth <= 0 || p.Duration <= 0 {
		return 0
	}
	return dx / p.TrackWidth * p.Duration
}

// SecondsAt converts an absolute x position on the track to a time, clamped
// to [0, Duration].
func (p PointerAdapter) SecondsAt(x float64) float64 {
	s := p.Seconds(x)
	if s < 0 {
		return 0
	}
	if p.Duration > 0 && s > p.Duration {
		return p.Duration
	}
	return s
}

// Drag moves one edge of interval index by dx pixels. Pixels cannot be
// mapped to seconds without a positive track width and duration.
func (p PointerAdapter) Drag(t *Timeline, index int, edge Edge, dx float64) ([]Interval, error) {
	if p.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration unknown, move the edge in seconds instead", ErrInvalidInterval)
	}
	if p.TrackWidth <= 0 {
		return nil, fmt.Errorf("%w: track width must be positive", ErrInvalidInterval)
	}
	iv, err := t.At(index)
	if err != nil {
		return nil, err
	}
	base := iv.Start
	if edge == EdgeEnd {
		base = iv.End
	}
	return t.MoveEdge(index, edge, base+p.Seconds(dx))
}

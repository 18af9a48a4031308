package segments

import (
	"fmt"
	"math"
	"slices"
)

// Edge selects which boundary of an interval an edit moves.
type Edge string

const (
	EdgeStart Edge = "start"
	EdgeEnd   Edge = "end"
)

// Timeline is the editable interval list of one video. After every edit the
// list is sorted and overlapping or touching intervals are merged, so it is
// always sorted and pairwise disjoint.
//
// A Timeline is not safe for concurrent use.
type Timeline struct {
	intervals []Interval
	// duration bounds end drags; zero means unbounded.
	duration float64
}

// NewTimeline drops invalid intervals and merges the rest.
func NewTimeline(intervals []Interval, duration float64) *Timeline {
	valid := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Valid() {
			valid = append(valid, iv)
		}
	}
	if duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		duration = 0
	}
	return &Timeline{intervals: Merge(valid), duration: duration}
}

// Intervals returns a copy of the current intervals.
func (t *Timeline) Intervals() []Interval {
	return slices.Clone(t.intervals)
}

func (t *Timeline) Len() int {
	return len(t.intervals)
}

func (t *Timeline) Duration() float64 {
	return t.duration
}

func (t *Timeline) At(index int) (Interval, error) {
	if index < 0 || index >= len(t.intervals) {
		return Interval{}, fmt.Errorf("%w: index %d of %d", ErrIntervalNotFound, index, len(t.intervals))
	}
	return t.intervals[index], nil
}

// DragStart moves the start of interval index to the given second, clamped
// to [0, end-MinWidth].
func (t *Timeline) DragStart(index int, to float64) ([]Interval, error) {
	iv, err := t.At(index)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(to) {
		return nil, fmt.Errorf("%w: start is not a number", ErrInvalidInterval)
	}
	to = math.Max(0, math.Min(to, iv.End-MinWidth))
	t.intervals[index].Start = to
	t.normalize()
	return t.Intervals(), nil
}

// DragEnd moves the end of interval index to the given second, clamped to at
// least start+MinWidth and, when the duration is known, at most the duration.
// The value is used as the exclusive end as given.
func (t *Timeline) DragEnd(index int, to float64) ([]Interval, error) {
	iv, err := t.At(index)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(to) {
		return nil, fmt.Errorf("%w: end is not a number", ErrInvalidInterval)
	}
	lo := iv.Start + MinWidth
	if t.duration > 0 {
		to = math.Min(to, t.duration)
	}
	to = math.Max(to, lo)
	t.intervals[index].End = to
	t.normalize()
	return t.Intervals(), nil
}

// MoveEdge dispatches to DragStart or DragEnd.
func (t *Timeline) MoveEdge(index int, edge Edge, to float64) ([]Interval, error) {
	switch edge {
	case EdgeStart:
		return t.DragStart(index, to)
	case EdgeEnd:
		return t.DragEnd(index, to)
	default:
		return nil, fmt.Errorf("%w: unknown edge %q", ErrInvalidInterval, edge)
	}
}

// Delete removes interval index.
func (t *Timeline) Delete(index int) ([]Interval, error) {
	if _, err := t.At(index); err != nil {
		return nil, err
	}
	t.intervals = slices.Delete(t.intervals, index, index+1)
	t.normalize()
	return t.Intervals(), nil
}

func (t *Timeline) normalize() {
	t.intervals = Merge(t.intervals)
}

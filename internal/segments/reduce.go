package segments

import (
	"math"
	"slices"
)

// Reduce floors timestamps to whole seconds, drops duplicates and groups the
// remaining seconds into intervals. A second joins the current interval while
// it is within gap of the previous one, and consecutive seconds always join,
// so the result is disjoint for any gap. Each interval closes at last+1.
// NaN, infinite and negative timestamps are ignored.
func Reduce(timestamps []float64, gap float64) []Interval {
	seconds := make([]float64, 0, len(timestamps))
	for _, ts := range timestamps {
		if math.IsNaN(ts) || math.IsInf(ts, 0) || ts < 0 {
			continue
		}
		seconds = append(seconds, math.Floor(ts))
	}
	if len(seconds) == 0 {
		return []Interval{}
	}

	slices.Sort(seconds)
	seconds = slices.Compact(seconds)

	join := math.Max(gap, 1)
	out := make([]Interval, 0, 4)
	start, prev := seconds[0], seconds[0]
	for _, s := range seconds[1:] {
		if s-prev <= join {
			prev = s
			continue
		}
		out = append(out, Interval{Start: start, End: prev + 1})
		start, prev = s, s
	}
	return append(out, Interval{Start: start, End: prev + 1})
}

// Merge sorts intervals by start and joins any pair where a.End >= b.Start.
// The input is not modified.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return []Interval{}
	}

	sorted := slices.Clone(intervals)
	slices.SortFunc(sorted, func(a, b Interval) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		case a.End < b.End:
			return -1
		case a.End > b.End:
			return 1
		}
		return 0
	})

	out := make([]Interval, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if cur.End >= next.Start {
			cur.End = math.Max(cur.End, next.End)
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

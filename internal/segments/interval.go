// Package segments turns detection timestamps into reviewable time ranges and
// keeps those ranges disjoint while they are edited.
package segments

import (
	"errors"
	"fmt"
)

// DefaultMergeGap is the largest distance in seconds between two detection
// seconds that still belong to one interval.
const DefaultMergeGap = 5.0

// MinWidth is the smallest interval an edge drag may produce, in seconds.
const MinWidth = 1.0

var (
	ErrIntervalNotFound = errors.New("interval not found")
	ErrInvalidInterval  = errors.New("invalid interval")
)

// Interval is a half-open time range [Start, End) in seconds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (iv Interval) Duration() float64 {
	return iv.End - iv.Start
}

func (iv Interval) Valid() bool {
	return iv.Start >= 0 && iv.End > iv.Start
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%g,%g)", iv.Start, iv.End)
}

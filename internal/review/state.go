// Package review drives one video from upload through detection and
// interval editing to finalization.
package review

import (
	"errors"
	"fmt"
	"slices"
)

// State is the position of a video in the review workflow.
type State string

const (
	StateUploading State = "uploading"
	StateUploaded  State = "uploaded"
	StateDetecting State = "detecting"
	StateDetected  State = "detected"
	StateReviewing State = "reviewing"
	StateFinalized State = "finalized"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNoSession         = errors.New("no video selected")
	ErrNotReviewing      = errors.New("intervals can only be edited while reviewing")
	ErrBusy              = errors.New("a detection or finalization is already running")
	ErrNoIntervals       = errors.New("no intervals to finalize")
	ErrSessionReplaced   = errors.New("video was replaced while the request was running")
)

// transitions lists the states reachable from each state. Detecting may fall
// back to uploaded when the backend fails.
var transitions = map[State][]State{
	StateUploading: {StateUploaded},
	StateUploaded:  {StateDetecting},
	StateDetecting: {StateDetected, StateUploaded},
	StateDetected:  {StateReviewing},
	StateReviewing: {StateFinalized},
	StateFinalized: nil,
}

func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether to may follow s. Staying in s is allowed.
func (s State) CanTransition(to State) bool {
	if s == to {
		return true
	}
	return slices.Contains(transitions[s], to)
}

func transition(from, to State) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

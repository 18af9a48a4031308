package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUploading, StateUploaded, true},
		{StateUploaded, StateDetecting, true},
		{StateDetecting, StateDetected, true},
		{StateDetecting, StateUploaded, true},
		{StateDetected, StateReviewing, true},
		{StateReviewing, StateFinalized, true},
		{StateReviewing, StateReviewing, true},

		{StateUploading, StateDetecting, false},
		{StateUploaded, StateReviewing, false},
		{StateReviewing, StateDetecting, false},
		{StateFinalized, StateReviewing, false},
		{StateFinalized, StateUploading, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestState_Valid(t *testing.T) {
	assert.True(t, StateReviewing.Valid())
	assert.False(t, State("archived").Valid())
}

func TestTransition_Error(t *testing.T) {
	err := transition(StateUploading, StateFinalized)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "uploading -> finalized")
}

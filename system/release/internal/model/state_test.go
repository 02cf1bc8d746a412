package model

import (
	"testing"

	errorc "deploymate/pkg/core/err"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to ReleaseStatus
		ok       bool
	}{
		{ReleaseStatusUploading, ReleaseStatusProcessing, true},
		{ReleaseStatusProcessing, ReleaseStatusReady, true},
		{ReleaseStatusProcessing, ReleaseStatusFailed, true},
		{ReleaseStatusUploading, ReleaseStatusFailed, true},
		{ReleaseStatusReady, ReleaseStatusReady, true},
		{ReleaseStatusFailed, ReleaseStatusFailed, true},
		{ReleaseStatusReady, ReleaseStatusProcessing, false},
		{ReleaseStatusReady, ReleaseStatusFailed, false},
		{ReleaseStatusFailed, ReleaseStatusReady, false},
		{ReleaseStatusProcessing, ReleaseStatusUploading, false},
		{"BOGUS", ReleaseStatusReady, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTransition_Conflict(t *testing.T) {
	err := Transition(ReleaseStatusReady, ReleaseStatusProcessing)
	assert.True(t, errorc.HasCode(err, errorc.ErrorCodeConflict))
	assert.NoError(t, Transition(ReleaseStatusProcessing, ReleaseStatusReady))
}

func TestPredecessors(t *testing.T) {
	assert.ElementsMatch(t, []ReleaseStatus{ReleaseStatusUploading, ReleaseStatusProcessing}, Predecessors(ReleaseStatusReady))
	assert.ElementsMatch(t, []ReleaseStatus{ReleaseStatusUploading, ReleaseStatusProcessing}, Predecessors(ReleaseStatusFailed))
	assert.ElementsMatch(t, []ReleaseStatus{ReleaseStatusUploading}, Predecessors(ReleaseStatusProcessing))
}

func TestTerminal(t *testing.T) {
	assert.True(t, ReleaseStatusReady.Terminal())
	assert.True(t, ReleaseStatusFailed.Terminal())
	assert.False(t, ReleaseStatusProcessing.Terminal())
}

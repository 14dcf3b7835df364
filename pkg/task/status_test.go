package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusTerminatedAfterTimeout, true},
		{StatusStopped, true},
		{StatusExitedAfterMarkedDone, true},
		{StatusAbandoned, true},
		{StatusRunning, false},
		{StatusStopping, false},
		{StatusMarkedDone, false},
		{StatusManuallyStarted, false},
		{statusNew, false},
		{statusRegistering, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

package forensics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStatus_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   ResultStatus
		expected string
	}{
		{
			name:     "running status",
			status:   ResultStatusRunning,
			expected: "RUNNING",
		},
		{
			name:     "empty status",
			status:   ResultStatusEmpty,
			expected: "EMPTY",
		},
		{
			name:     "success status",
			status:   ResultStatusSuccess,
			expected: "SUCCESS",
		},
		{
			name:     "unsatisfied status",
			status:   ResultStatusUnsatisfied,
			expected: "UNSATISFIED",
		},
		{
			name:     "error status",
			status:   ResultStatusError,
			expected: "ERROR",
		},
		{
			name:     "disabled status",
			status:   ResultStatusDisabled,
			expected: "DISABLED",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestResultStatus_ValidateTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		currentStatus ResultStatus
		targetStatus  ResultStatus
		wantErr       bool
	}{
		// Valid transitions out of RUNNING.
		{
			name:          "running to empty",
			currentStatus: ResultStatusRunning,
			targetStatus:  ResultStatusEmpty,
			wantErr:       false,
		},
		{
			name:          "running to success",
			currentStatus: ResultStatusRunning,
			targetStatus:  ResultStatusSuccess,
			wantErr:       false,
		},
		{
			name:          "running to unsatisfied",
			currentStatus: ResultStatusRunning,
			targetStatus:  ResultStatusUnsatisfied,
			wantErr:       false,
		},
		{
			name:          "running to error",
			currentStatus: ResultStatusRunning,
			targetStatus:  ResultStatusError,
			wantErr:       false,
		},
		{
			name:          "running to disabled",
			currentStatus: ResultStatusRunning,
			targetStatus:  ResultStatusDisabled,
			wantErr:       false,
		},
		// Restart reuses the row by moving terminal states back to RUNNING.
		{
			name:          "success to running",
			currentStatus: ResultStatusSuccess,
			targetStatus:  ResultStatusRunning,
			wantErr:       false,
		},
		{
			name:          "error to running",
			currentStatus: ResultStatusError,
			targetStatus:  ResultStatusRunning,
			wantErr:       false,
		},
		{
			name:          "disabled to running",
			currentStatus: ResultStatusDisabled,
			targetStatus:  ResultStatusRunning,
			wantErr:       false,
		},
		// Terminal states never move directly to another terminal state.
		{
			name:          "success to error",
			currentStatus: ResultStatusSuccess,
			targetStatus:  ResultStatusError,
			wantErr:       true,
		},
		{
			name:          "empty to success",
			currentStatus: ResultStatusEmpty,
			targetStatus:  ResultStatusSuccess,
			wantErr:       true,
		},
		{
			name:          "unsatisfied to error",
			currentStatus: ResultStatusUnsatisfied,
			targetStatus:  ResultStatusError,
			wantErr:       true,
		},
		{
			name:          "running to running",
			currentStatus: ResultStatusRunning,
			targetStatus:  ResultStatusRunning,
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.currentStatus.ValidateTransition(tt.targetStatus)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestResultStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []ResultStatus{
		ResultStatusEmpty,
		ResultStatusSuccess,
		ResultStatusUnsatisfied,
		ResultStatusError,
		ResultStatusDisabled,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}

	assert.False(t, ResultStatusRunning.IsTerminal())
	assert.False(t, ResultStatusUnspecified.IsTerminal())
}

func TestParseResultStatus(t *testing.T) {
	t.Parallel()

	status, err := ParseResultStatus("SUCCESS")
	require.NoError(t, err)
	assert.Equal(t, ResultStatusSuccess, status)

	_, err = ParseResultStatus("BOGUS")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResultStatusUnknown)
}

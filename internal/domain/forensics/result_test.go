package forensics

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_Lifecycle(t *testing.T) {
	t.Parallel()

	r := NewResult(uuid.New(), uuid.New(), "linux.pslist.PsList")
	assert.Equal(t, ResultStatusRunning, r.Status())

	require.NoError(t, r.Finish(ResultStatusSuccess, "renderer noticed 2 absent values"))
	assert.Equal(t, ResultStatusSuccess, r.Status())
	assert.Equal(t, "renderer noticed 2 absent values", r.Description())

	// A restart reuses the row and clears the previous outcome.
	params := json.RawMessage(`{"pid":"4"}`)
	require.NoError(t, r.Begin(params))
	assert.Equal(t, ResultStatusRunning, r.Status())
	assert.Empty(t, r.Description())
	assert.Equal(t, params, r.Parameters())

	require.NoError(t, r.Finish(ResultStatusError, "engine runtime error: boom"))
	assert.Equal(t, ResultStatusError, r.Status())
}

func TestResult_FinishRequiresTerminalStatus(t *testing.T) {
	t.Parallel()

	r := NewResult(uuid.New(), uuid.New(), "linux.bash.Bash")
	err := r.Finish(ResultStatusRunning, "")
	require.Error(t, err)
}

func TestResult_DisableIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewResult(uuid.New(), uuid.New(), "linux.lsof.Lsof")
	require.NoError(t, r.Disable("missing symbols"))
	assert.Equal(t, ResultStatusDisabled, r.Status())
	assert.Equal(t, "missing symbols", r.Description())

	// Disabling twice keeps the existing reason and does not error.
	require.NoError(t, r.Disable("other reason"))
	assert.Equal(t, "missing symbols", r.Description())
}

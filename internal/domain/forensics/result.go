package forensics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Result is the single outcome record for one (dump, plugin) pair. Exactly
// one Result exists per pair; restarts reuse the row rather than creating a
// duplicate. The outcome state is monotonic within one execution attempt.
type Result struct {
	id         uuid.UUID
	dumpID     uuid.UUID
	pluginName string
	status     ResultStatus
	// description carries the error trace, unmet requirement list, or
	// renderer diagnostics for the attempt.
	description string
	// parameters is the caller supplied parameter map for the attempt.
	parameters json.RawMessage
	updatedAt  time.Time
}

// NewResult creates a pending result for a (dump, plugin) pair.
func NewResult(id, dumpID uuid.UUID, pluginName string) *Result {
	return &Result{
		id:         id,
		dumpID:     dumpID,
		pluginName: pluginName,
		status:     ResultStatusRunning,
		updatedAt:  time.Now(),
	}
}

// ReconstructResult creates a Result instance from persisted data. This
// should only be used by repositories when reconstructing from storage.
func ReconstructResult(
	id uuid.UUID,
	dumpID uuid.UUID,
	pluginName string,
	status ResultStatus,
	description string,
	parameters json.RawMessage,
	updatedAt time.Time,
) *Result {
	return &Result{
		id:          id,
		dumpID:      dumpID,
		pluginName:  pluginName,
		status:      status,
		description: description,
		parameters:  parameters,
		updatedAt:   updatedAt,
	}
}

// ID returns the unique identifier of the result row.
func (r *Result) ID() uuid.UUID { return r.id }

// DumpID returns the owning dump's identifier.
func (r *Result) DumpID() uuid.UUID { return r.dumpID }

// PluginName returns the plugin this result belongs to.
func (r *Result) PluginName() string { return r.pluginName }

// Status returns the current outcome state.
func (r *Result) Status() ResultStatus { return r.status }

// Description returns the free-text outcome detail.
func (r *Result) Description() string { return r.description }

// Parameters returns the parameter map used for the last attempt.
func (r *Result) Parameters() json.RawMessage { return r.parameters }

// UpdatedAt returns the last state change timestamp.
func (r *Result) UpdatedAt() time.Time { return r.updatedAt }

// Begin starts a fresh execution attempt, moving the result to RUNNING and
// recording the parameters in use. Restarting a terminal result is legal;
// the previous outcome is overwritten.
func (r *Result) Begin(parameters json.RawMessage) error {
	if r.status != ResultStatusRunning {
		if err := r.status.ValidateTransition(ResultStatusRunning); err != nil {
			return err
		}
	}
	r.status = ResultStatusRunning
	r.description = ""
	r.parameters = parameters
	r.updatedAt = time.Now()
	return nil
}

// Finish moves the result to the terminal state of the current attempt.
func (r *Result) Finish(status ResultStatus, description string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("result %s: %s is not a terminal status", r.id, status)
	}
	if err := r.status.ValidateTransition(status); err != nil {
		return err
	}
	r.status = status
	r.description = description
	r.updatedAt = time.Now()
	return nil
}

// Disable marks the result as excluded from execution. The eligibility gate
// uses this when a dump lacks usable symbols.
func (r *Result) Disable(reason string) error {
	if r.status == ResultStatusDisabled {
		return nil
	}
	if err := r.status.ValidateTransition(ResultStatusDisabled); err != nil {
		return err
	}
	r.status = ResultStatusDisabled
	r.description = reason
	r.updatedAt = time.Now()
	return nil
}

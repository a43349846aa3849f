package forensics

import (
	"errors"
	"fmt"
)

// ResultStatus represents the outcome state of a single (dump, plugin)
// execution attempt. It enables per-plugin progress tracking and failure
// isolation across a dump's plugin set.
type ResultStatus string

// ErrResultStatusUnknown is returned when a result status is unknown.
var ErrResultStatusUnknown = errors.New("result status unknown")

const (
	// ResultStatusRunning indicates a plugin execution attempt is in flight.
	ResultStatusRunning ResultStatus = "RUNNING"

	// ResultStatusEmpty indicates the plugin ran successfully but produced no rows.
	ResultStatusEmpty ResultStatus = "EMPTY"

	// ResultStatusSuccess indicates the plugin produced rows that were indexed.
	ResultStatusSuccess ResultStatus = "SUCCESS"

	// ResultStatusUnsatisfied indicates the engine reported unmet configuration
	// requirements, typically a missing symbol file. Not retried automatically.
	ResultStatusUnsatisfied ResultStatus = "UNSATISFIED"

	// ResultStatusError indicates the engine or the result sink failed.
	// The full failure trace is kept on the result description.
	ResultStatusError ResultStatus = "ERROR"

	// ResultStatusDisabled indicates the plugin was excluded from execution,
	// either explicitly or because the dump lacks usable symbols. Set by the
	// orchestrator, never by the executor itself.
	ResultStatusDisabled ResultStatus = "DISABLED"

	// ResultStatusUnspecified is used when a result status is unknown.
	ResultStatusUnspecified ResultStatus = "UNSPECIFIED"
)

// String returns the string representation of the ResultStatus.
func (s ResultStatus) String() string { return string(s) }

// Int32 returns the stable numeric value persisted by earlier versions of the
// schema and used for severity mapping in notifications.
func (s ResultStatus) Int32() int32 {
	switch s {
	case ResultStatusRunning:
		return 0
	case ResultStatusEmpty:
		return 1
	case ResultStatusSuccess:
		return 2
	case ResultStatusUnsatisfied:
		return 3
	case ResultStatusError:
		return 4
	case ResultStatusDisabled:
		return 5
	default:
		return -1
	}
}

// IsTerminal reports whether the status ends an execution attempt. A restart
// creates a fresh attempt by moving a terminal result back to RUNNING.
func (s ResultStatus) IsTerminal() bool {
	switch s {
	case ResultStatusEmpty, ResultStatusSuccess, ResultStatusUnsatisfied, ResultStatusError, ResultStatusDisabled:
		return true
	default:
		return false
	}
}

// validTransitions defines the legal state changes within and between
// execution attempts. RUNNING moves to exactly one terminal state; terminal
// states only move back to RUNNING (restart) or DISABLED (gate decision).
var validTransitions = map[ResultStatus][]ResultStatus{
	ResultStatusRunning: {
		ResultStatusEmpty,
		ResultStatusSuccess,
		ResultStatusUnsatisfied,
		ResultStatusError,
		ResultStatusDisabled,
	},
	ResultStatusEmpty:       {ResultStatusRunning, ResultStatusDisabled},
	ResultStatusSuccess:     {ResultStatusRunning, ResultStatusDisabled},
	ResultStatusUnsatisfied: {ResultStatusRunning, ResultStatusDisabled},
	ResultStatusError:       {ResultStatusRunning, ResultStatusDisabled},
	ResultStatusDisabled:    {ResultStatusRunning},
}

// ValidateTransition checks whether moving from the current status to the
// target status is legal.
func (s ResultStatus) ValidateTransition(target ResultStatus) error {
	for _, allowed := range validTransitions[s] {
		if target == allowed {
			return nil
		}
	}
	return fmt.Errorf("result status transition %s -> %s is not allowed", s, target)
}

// ParseResultStatus converts a string to a ResultStatus.
func ParseResultStatus(s string) (ResultStatus, error) {
	switch ResultStatus(s) {
	case ResultStatusRunning, ResultStatusEmpty, ResultStatusSuccess,
		ResultStatusUnsatisfied, ResultStatusError, ResultStatusDisabled:
		return ResultStatus(s), nil
	default:
		return ResultStatusUnspecified, fmt.Errorf("%w: %q", ErrResultStatusUnknown, s)
	}
}

package forensics

import (
	"errors"
	"fmt"
)

// DumpStatus represents the processing state of an uploaded memory image.
type DumpStatus string

// ErrDumpStatusUnknown is returned when a dump status is unknown.
var ErrDumpStatusUnknown = errors.New("dump status unknown")

const (
	// DumpStatusCreated indicates a dump was uploaded but not yet processed.
	DumpStatusCreated DumpStatus = "CREATED"

	// DumpStatusCompleted indicates processing finished. Individual plugins may
	// still have failed or been disabled; completion is a dump level property.
	DumpStatusCompleted DumpStatus = "COMPLETED"

	// DumpStatusDeleted indicates the dump was removed. Deletion is handled
	// outside the processing core.
	DumpStatusDeleted DumpStatus = "DELETED"

	// DumpStatusError indicates the dump artifact could not be prepared.
	DumpStatusError DumpStatus = "ERROR"
)

// String returns the string representation of the DumpStatus.
func (s DumpStatus) String() string { return string(s) }

// Int32 returns the stable numeric value for the status.
func (s DumpStatus) Int32() int32 {
	switch s {
	case DumpStatusCreated:
		return 1
	case DumpStatusCompleted:
		return 2
	case DumpStatusDeleted:
		return 3
	case DumpStatusError:
		return 4
	default:
		return 0
	}
}

// ParseDumpStatus converts a string to a DumpStatus.
func ParseDumpStatus(s string) (DumpStatus, error) {
	switch DumpStatus(s) {
	case DumpStatusCreated, DumpStatusCompleted, DumpStatusDeleted, DumpStatusError:
		return DumpStatus(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrDumpStatusUnknown, s)
	}
}

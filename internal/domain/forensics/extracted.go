package forensics

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ExtractedFile is a file recovered from memory as a side effect of running a
// plugin. Files are created in bulk right after the plugin run and mutated
// later, asynchronously, by fan-out sub-task results. The storage path is
// globally unique, which makes (resultID, path) an exact-match lookup key.
type ExtractedFile struct {
	ResultID uuid.UUID
	Path     string
	SHA256   string
	MD5      string

	// ClamAV holds the antivirus verdict for the file, empty when the file
	// was clean or the scan did not run.
	ClamAV string

	// Reputation holds the reputation report document, or an error-shaped
	// document when the lookup degraded. Nil until the sub-task completes.
	Reputation json.RawMessage

	// RegistryData holds the structured re-parse output for registry hives.
	// Nil until the sub-task completes.
	RegistryData json.RawMessage
}

// RecoveredFile is a file the engine staged during a plugin run, before the
// executor takes ownership. The engine writes the content to a temporary
// location and finalizes it by handing over (name, path); the executor then
// materializes it into the plugin's output directory.
type RecoveredFile struct {
	// PreferredName is the name the plugin assigned to the recovered file.
	PreferredName string

	// StagePath is the temporary on-disk location holding the content.
	StagePath string
}

package forensics

import (
	"context"
	"fmt"
	"strings"
)

// AnalysisEngine is the opaque plugin framework that inspects raw memory and
// produces rows of structured data. The pipeline treats it as an external
// callable and never reaches into its internals.
type AnalysisEngine interface {
	// ListPlugins returns the identifiers of every plugin the engine knows.
	ListPlugins(ctx context.Context) ([]string, error)

	// DescribeParameters returns the configuration requirements declared by
	// a plugin.
	DescribeParameters(ctx context.Context, pluginName string) ([]Parameter, error)

	// Execute runs one plugin against the artifact at the given path. On
	// unmet configuration requirements it returns an *UnsatisfiedError; on
	// any other engine failure it returns an *EngineRuntimeError.
	Execute(ctx context.Context, pluginName, artifactPath string, cfg EngineConfig) (*EngineOutput, error)
}

// EngineConfig is the execution configuration handed to the engine for one
// plugin run.
type EngineConfig struct {
	// Parameters are plugin-namespace configuration values, already merged
	// from caller input and defaults.
	Parameters map[string]any

	// ExtractFiles asks the engine to stage files recovered from memory.
	ExtractFiles bool
}

// EngineOutput is the rendered product of one successful plugin run.
type EngineOutput struct {
	// Rows is the uniform record stream: named fields per row, binary and
	// large values already converted to safe textual encodings.
	Rows []Row

	// RenderDiagnostics carries non-fatal renderer errors. These are kept on
	// the result description even when the run succeeds.
	RenderDiagnostics string

	// RecoveredFiles lists files the engine staged while running, pending
	// materialization by the executor.
	RecoveredFiles []RecoveredFile
}

// Row is one named-field record produced by a plugin.
type Row map[string]any

// RequirementMode distinguishes the closed set of parameter requirement
// shapes a plugin can declare. Unrecognized kinds are rejected explicitly
// rather than silently skipped.
type RequirementMode string

const (
	// RequirementFile is a single URI/file requirement.
	RequirementFile RequirementMode = "file"
	// RequirementSimple is a single scalar of a named type.
	RequirementSimple RequirementMode = "simple"
	// RequirementList is a homogeneous list of a named element type.
	RequirementList RequirementMode = "list"
	// RequirementChoice is a single value from a fixed option set.
	RequirementChoice RequirementMode = "choice"
)

// Parameter describes one configuration requirement of a plugin.
type Parameter struct {
	Name     string
	Optional bool
	Mode     RequirementMode

	// Type names the scalar or element type for simple and list modes.
	Type string

	// Choices enumerates the options for choice mode.
	Choices []string
}

// Validate rejects parameters whose mode is outside the closed variant set.
func (p Parameter) Validate() error {
	switch p.Mode {
	case RequirementFile, RequirementSimple, RequirementList, RequirementChoice:
		return nil
	default:
		return fmt.Errorf("parameter %q: unrecognized requirement mode %q", p.Name, p.Mode)
	}
}

// UnsatisfiedRequirement is one unmet configuration requirement reported by
// the engine, typically a missing symbol table.
type UnsatisfiedRequirement struct {
	Requirement string
	Description string
}

// UnsatisfiedError reports that the engine could not construct the plugin
// because required configuration is missing. It is terminal for the attempt
// and not retried automatically.
type UnsatisfiedError struct {
	Requirements []UnsatisfiedRequirement
}

// Error implements the error interface.
func (e *UnsatisfiedError) Error() string {
	return fmt.Sprintf("plugin requirements unsatisfied: %s", e.Description())
}

// Description joins the unmet requirement descriptions for the result record.
func (e *UnsatisfiedError) Description() string {
	parts := make([]string, 0, len(e.Requirements))
	for _, r := range e.Requirements {
		parts = append(parts, r.Description)
	}
	return strings.Join(parts, "\n")
}

// EngineRuntimeError reports any other failure during plugin execution. The
// full trace is surfaced to the user on the result record.
type EngineRuntimeError struct {
	Trace string
}

// Error implements the error interface.
func (e *EngineRuntimeError) Error() string {
	if i := strings.IndexByte(e.Trace, '\n'); i > 0 {
		return "engine runtime error: " + e.Trace[:i]
	}
	return "engine runtime error: " + e.Trace
}

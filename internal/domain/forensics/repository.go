package forensics

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// DumpRepository provides persistent storage for dumps.
type DumpRepository interface {
	// GetDump retrieves a dump by id.
	GetDump(ctx context.Context, id uuid.UUID) (*Dump, error)

	// UpdateDump persists changes to an existing dump.
	UpdateDump(ctx context.Context, dump *Dump) error
}

// PluginRepository provides read access to the plugin catalog.
type PluginRepository interface {
	// GetPlugin retrieves a plugin by name.
	GetPlugin(ctx context.Context, name string) (Plugin, error)

	// ListPlugins returns the full catalog.
	ListPlugins(ctx context.Context) ([]Plugin, error)
}

// ResultRepository provides persistent storage for (dump, plugin) results.
// Uniqueness on the pair is enforced by the store; updates address the
// existing row, never create duplicates.
type ResultRepository interface {
	// CreateResult persists a new result row. The store rejects a second row
	// for the same (dump, plugin) pair.
	CreateResult(ctx context.Context, result *Result) error

	// GetResult retrieves the result for a (dump, plugin) pair.
	GetResult(ctx context.Context, dumpID uuid.UUID, pluginName string) (*Result, error)

	// ListByDump returns every result row belonging to a dump.
	ListByDump(ctx context.Context, dumpID uuid.UUID) ([]*Result, error)

	// UpdateResult persists a result state change.
	UpdateResult(ctx context.Context, result *Result) error
}

// ExtractedFileRepository provides persistent storage for files recovered by
// plugins. Path uniqueness is enforced by the store.
type ExtractedFileRepository interface {
	// CreateBatch persists a set of extracted files in one operation.
	CreateBatch(ctx context.Context, files []ExtractedFile) error

	// SetReputation overwrites the reputation report for the file identified
	// by its owning result and exact path.
	SetReputation(ctx context.Context, resultID uuid.UUID, path string, report []byte) error

	// SetRegistryData overwrites the structured re-parse output for the file
	// identified by its owning result and exact path.
	SetRegistryData(ctx context.Context, resultID uuid.UUID, path string, data []byte) error

	// ListByResult returns the extracted files owned by a result.
	ListByResult(ctx context.Context, resultID uuid.UUID) ([]ExtractedFile, error)
}

// RuleRepository provides read access to user rule sets.
type RuleRepository interface {
	// GetDefaultRule returns the user's default rule set, or ErrNotFound.
	GetDefaultRule(ctx context.Context, userID uuid.UUID) (CustomRule, error)
}

// ServiceRepository provides read access to external analyzer service
// configuration.
type ServiceRepository interface {
	// GetService returns the stored configuration for a service kind, or
	// ErrNotFound when the service is not configured.
	GetService(ctx context.Context, kind ServiceKind) (Service, error)
}

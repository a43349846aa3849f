package forensics

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Severity grades notification messages. The numeric values double as the
// color mapping used by front ends (1,2 green, 3 orange, 4 red).
type Severity int

const (
	SeverityOK       Severity = 1
	SeveritySuccess  Severity = 2
	SeverityWarning  Severity = 3
	SeverityCritical Severity = 4
)

// Notification is one fire-and-forget message about a dump. The audience is
// resolved downstream to the set of users allowed to see the dump.
type Notification struct {
	DumpID   uuid.UUID
	DumpName string
	Message  string
	Severity Severity
}

// Notifier delivers notifications best-effort. Implementations must never
// block the pipeline or surface delivery failures to callers.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Document is one enriched row ready for bulk indexing.
type Document struct {
	ID     uuid.UUID
	Source map[string]any
}

// ResultIndexer is the bulk-insert and index-settings sink for plugin output.
type ResultIndexer interface {
	// BulkIndex submits all documents to the named partition as one batch.
	// Partial failures are errors; rows are never silently dropped.
	BulkIndex(ctx context.Context, partition string, docs []Document) error

	// SetMaxResultWindow applies the result-window-size setting to a
	// partition so pagination can address the full row count.
	SetMaxResultWindow(ctx context.Context, partition string, size int) error

	// FieldValues returns the values of a named field across the partition's
	// documents, used to read the detected banner back after the banner
	// plugin's output is indexed.
	FieldValues(ctx context.Context, partition, field string) ([]string, error)
}

// ReputationService looks up a file's reputation by content hash.
type ReputationService interface {
	// Lookup returns the reputation report document for a sha256, or an
	// error when the service is unreachable, unconfigured or rate limited.
	Lookup(ctx context.Context, sha256 string) (json.RawMessage, error)
}

// AntivirusScanner scans a directory in one batch.
type AntivirusScanner interface {
	// ScanDirectory returns a mapping from file path to verdict for every
	// flagged file under the directory.
	ScanDirectory(ctx context.Context, path string) (map[string]string, error)
}

// HiveParser re-parses an extracted registry hive into a structured document.
type HiveParser interface {
	Parse(ctx context.Context, path string) (json.RawMessage, error)
}

// ArchiveExtractor unpacks an archive into a destination directory, with an
// optional password.
type ArchiveExtractor interface {
	Extract(ctx context.Context, archivePath, destDir, password string) error
}

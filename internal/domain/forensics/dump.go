// Package forensics contains the core domain model for memory dump analysis:
// dumps, plugins, per-plugin results, recovered files, and the ports through
// which the pipeline reaches its external collaborators.
package forensics

import (
	"time"

	"github.com/google/uuid"
)

// Dump represents one uploaded memory image under analysis. It is created on
// upload and mutated only by artifact preparation and the dump orchestrator;
// deletion is an external concern.
type Dump struct {
	id              uuid.UUID
	name            string
	index           string
	operatingSystem OperatingSystem
	authorID        uuid.UUID

	status              DumpStatus
	uploadPath          string
	banner              string
	missingSymbols      bool
	md5                 string
	sha256              string
	size                int64
	suggestedSymbolURLs []string
	createdAt           time.Time
	updatedAt           time.Time
}

// NewDump creates a dump in its initial CREATED state. The index is the
// unique, lower-case partition prefix under which all of the dump's plugin
// output is stored.
func NewDump(id uuid.UUID, name, index, uploadPath string, os OperatingSystem, authorID uuid.UUID) *Dump {
	now := time.Now()
	return &Dump{
		id:              id,
		name:            name,
		index:           index,
		operatingSystem: os,
		authorID:        authorID,
		status:          DumpStatusCreated,
		uploadPath:      uploadPath,
		createdAt:       now,
		updatedAt:       now,
	}
}

// ReconstructDump creates a Dump instance from persisted data. This should
// only be used by repositories when reconstructing from storage.
func ReconstructDump(
	id uuid.UUID,
	name string,
	index string,
	os OperatingSystem,
	authorID uuid.UUID,
	status DumpStatus,
	uploadPath string,
	banner string,
	missingSymbols bool,
	md5 string,
	sha256 string,
	size int64,
	suggestedSymbolURLs []string,
	createdAt time.Time,
	updatedAt time.Time,
) *Dump {
	return &Dump{
		id:                  id,
		name:                name,
		index:               index,
		operatingSystem:     os,
		authorID:            authorID,
		status:              status,
		uploadPath:          uploadPath,
		banner:              banner,
		missingSymbols:      missingSymbols,
		md5:                 md5,
		sha256:              sha256,
		size:                size,
		suggestedSymbolURLs: suggestedSymbolURLs,
		createdAt:           createdAt,
		updatedAt:           updatedAt,
	}
}

// ID returns the unique identifier for this dump.
func (d *Dump) ID() uuid.UUID { return d.id }

// Name returns the display name of the dump.
func (d *Dump) Name() string { return d.name }

// Index returns the unique partition prefix for the dump's indexed output.
func (d *Dump) Index() string { return d.index }

// OperatingSystem returns the platform tag detected at upload time.
func (d *Dump) OperatingSystem() OperatingSystem { return d.operatingSystem }

// AuthorID returns the identity of the uploading user.
func (d *Dump) AuthorID() uuid.UUID { return d.authorID }

// Status returns the dump's processing status.
func (d *Dump) Status() DumpStatus { return d.status }

// UploadPath returns the current on-disk location of the dump artifact.
func (d *Dump) UploadPath() string { return d.uploadPath }

// Banner returns the detected OS banner string, empty when none was found.
func (d *Dump) Banner() string { return d.banner }

// MissingSymbols reports whether the eligibility gate found no usable symbols.
func (d *Dump) MissingSymbols() bool { return d.missingSymbols }

// MD5 returns the MD5 hash of the prepared artifact.
func (d *Dump) MD5() string { return d.md5 }

// SHA256 returns the SHA-256 hash of the prepared artifact.
func (d *Dump) SHA256() string { return d.sha256 }

// Size returns the artifact size in bytes.
func (d *Dump) Size() int64 { return d.size }

// SuggestedSymbolURLs returns the best-effort symbol package download hints.
func (d *Dump) SuggestedSymbolURLs() []string { return d.suggestedSymbolURLs }

// CreatedAt returns the upload timestamp.
func (d *Dump) CreatedAt() time.Time { return d.createdAt }

// UpdatedAt returns the last mutation timestamp.
func (d *Dump) UpdatedAt() time.Time { return d.updatedAt }

// SetArtifact records the canonical artifact location, size and content
// hashes produced by artifact preparation.
func (d *Dump) SetArtifact(path string, size int64, sha256, md5 string) {
	d.uploadPath = path
	d.size = size
	d.sha256 = sha256
	d.md5 = md5
	d.updatedAt = time.Now()
}

// SetBanner records the OS banner string detected by the banner plugin.
func (d *Dump) SetBanner(banner string) {
	d.banner = banner
	d.updatedAt = time.Now()
}

// MarkMissingSymbols flags the dump as lacking usable symbols and attaches
// the suggested symbol package download hints.
func (d *Dump) MarkMissingSymbols(suggestedURLs []string) {
	d.missingSymbols = true
	d.suggestedSymbolURLs = suggestedURLs
	d.updatedAt = time.Now()
}

// Complete moves the dump to COMPLETED. Ineligible dumps complete too; the
// missing-symbols flag carries the distinction.
func (d *Dump) Complete() {
	d.status = DumpStatusCompleted
	d.updatedAt = time.Now()
}

// Fail moves the dump to ERROR. Only artifact preparation failures are dump
// level errors; plugin failures never reach this state.
func (d *Dump) Fail() {
	d.status = DumpStatusError
	d.updatedAt = time.Now()
}

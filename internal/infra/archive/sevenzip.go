package archive

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/memharbor/memharbor/internal/domain/forensics"
)

// Ensure SevenZipExtractor implements forensics.ArchiveExtractor at compile time.
var _ forensics.ArchiveExtractor = (*SevenZipExtractor)(nil)

// SevenZipExtractor unpacks archives by invoking the external 7z binary.
// 7z handles every container format the sniffer accepts, including password
// protected archives.
type SevenZipExtractor struct {
	binary string
}

// NewSevenZipExtractor creates an extractor using the given binary, falling
// back to "7z" on PATH when empty.
func NewSevenZipExtractor(binary string) *SevenZipExtractor {
	if binary == "" {
		binary = "7z"
	}
	return &SevenZipExtractor{binary: binary}
}

// Extract unpacks archivePath into destDir. A non-zero exit status is an
// error carrying the tool's combined output for diagnosis.
func (e *SevenZipExtractor) Extract(ctx context.Context, archivePath, destDir, password string) error {
	args := []string{"e", archivePath, "-o" + destDir, "-y"}
	if password != "" {
		args = append(args, "-p"+password)
	}

	cmd := exec.CommandContext(ctx, e.binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("extracting %s: %w: %s", archivePath, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Package archive handles uploaded dump containers: content-based detection
// of archive formats and extraction through the external 7z tool.
package archive

import (
	"fmt"

	"github.com/h2non/filetype"
)

// archiveExtensions is the set of container formats accepted for uploaded
// dumps. Anything else is treated as a raw memory image.
var archiveExtensions = map[string]struct{}{
	"zip": {},
	"7z":  {},
	"rar": {},
	"gz":  {},
	"tar": {},
}

// IsArchive reports whether the file at path is a supported archive
// container, decided by content sniffing rather than file extension.
func IsArchive(path string) (bool, error) {
	t, err := filetype.MatchFile(path)
	if err != nil {
		return false, fmt.Errorf("sniffing %s: %w", path, err)
	}
	if t == filetype.Unknown {
		return false, nil
	}
	_, ok := archiveExtensions[t.Extension]
	return ok, nil
}

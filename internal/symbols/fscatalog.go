package symbols

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// FileCatalog reads the local symbol inventory from a banners file: one raw
// kernel banner per line, maintained by whatever downloads symbol packages.
// The file is re-read on every call so new symbols become visible without a
// restart.
type FileCatalog struct {
	path string
}

// NewFileCatalog creates a catalog backed by the banners file at path.
func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{path: path}
}

// AvailableBanners returns the non-empty, non-comment lines of the banners
// file. A missing or unreadable file is an error so the eligibility gate can
// fail closed.
func (c *FileCatalog) AvailableBanners(_ context.Context) ([]string, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("opening banners file: %w", err)
	}
	defer f.Close()

	var banners []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		banners = append(banners, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading banners file: %w", err)
	}
	return banners, nil
}

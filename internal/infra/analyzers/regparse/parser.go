// Package regparse implements the structured re-parse port for extracted
// Windows registry hives by shelling out to an external hive parser that
// emits JSON on stdout.
package regparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/memharbor/memharbor/internal/domain/forensics"
)

// Ensure ExecParser implements forensics.HiveParser at compile time.
var _ forensics.HiveParser = (*ExecParser)(nil)

// ExecParser runs a hive-dumping command per file. The command receives the
// hive path as its only argument and must print a single JSON document.
type ExecParser struct {
	binary string
}

// NewExecParser creates a parser around the given binary, falling back to
// "hivedump" on PATH when empty.
func NewExecParser(binary string) *ExecParser {
	if binary == "" {
		binary = "hivedump"
	}
	return &ExecParser{binary: binary}
}

// Parse re-parses the hive at path into a structured document. Embedded NUL
// escapes are stripped, matching what downstream JSON consumers accept.
func (p *ExecParser) Parse(ctx context.Context, path string) (json.RawMessage, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, p.binary, path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("parsing hive %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	raw := bytes.ReplaceAll(stdout.Bytes(), []byte(`\u0000`), nil)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("parsing hive %s: parser emitted invalid JSON", path)
	}

	return json.RawMessage(raw), nil
}

package regparse

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript drops an executable shell script standing in for the hive parser.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script parser stub requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "hivedump")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755)
	require.NoError(t, err)
	return path
}

func TestParseReturnsDocument(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `printf '{"key":"ControlSet001","values":[{"name":"Start","data":2}]}'`)
	parser := NewExecParser(script)

	doc, err := parser.Parse(context.Background(), "/tmp/SYSTEM")
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"ControlSet001","values":[{"name":"Start","data":2}]}`, string(doc))
}

func TestParseStripsNulEscapes(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `printf '{"key":"Root\\u0000","values":[]}'`)
	parser := NewExecParser(script)

	doc, err := parser.Parse(context.Background(), "/tmp/NTUSER.DAT")
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"Root","values":[]}`, string(doc))
}

func TestParsePassesHivePath(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `printf '{"hive":"%s"}' "$1"`)
	parser := NewExecParser(script)

	doc, err := parser.Parse(context.Background(), "/dumps/3/files/SAM")
	require.NoError(t, err)
	assert.JSONEq(t, `{"hive":"/dumps/3/files/SAM"}`, string(doc))
}

func TestParseCommandFailure(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `echo "hive is corrupt" >&2; exit 1`)
	parser := NewExecParser(script)

	_, err := parser.Parse(context.Background(), "/tmp/SYSTEM")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hive is corrupt")
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `printf 'not json at all'`)
	parser := NewExecParser(script)

	_, err := parser.Parse(context.Background(), "/tmp/SYSTEM")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

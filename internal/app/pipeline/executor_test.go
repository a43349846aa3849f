package pipeline

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memharbor/memharbor/internal/domain/forensics"
)

func TestExecutePluginSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dump := h.seedDump(t, "workstation-07", "3", forensics.OSLinux, []byte("raw image"))
	plugin := forensics.Plugin{Name: "linux.pslist.PsList", OperatingSystem: forensics.OSLinux}
	h.engine.on(plugin.Name, func(forensics.EngineConfig) (*forensics.EngineOutput, error) {
		return &forensics.EngineOutput{
			Rows: []forensics.Row{
				{"PID": 1, "COMM": "systemd"},
				{"PID": 42, "COMM": "sshd"},
			},
			RenderDiagnostics: "1 rows could not be rendered",
		}, nil
	})

	h.executor.ExecutePlugin(ctx, dump, plugin, nil, h.userID)

	result, err := h.results.GetResult(ctx, dump.ID(), plugin.Name)
	require.NoError(t, err)
	assert.Equal(t, forensics.ResultStatusSuccess, result.Status())
	assert.Equal(t, "1 rows could not be rendered", result.Description())

	docs := h.sink.documents("3_linux.pslist.pslist")
	require.Len(t, docs, 2)
	for _, doc := range docs {
		assert.NotEqual(t, uuid.Nil, doc.ID)
		assert.Equal(t, "workstation-07", doc.Source["dump_name"])
		assert.Equal(t, "linux.pslist.pslist", doc.Source["plugin"])
		assert.Equal(t, "Linux", doc.Source["os"])
		assert.NotEmpty(t, doc.Source["created_at"])
	}

	h.sink.mu.Lock()
	window := h.sink.windows["3_linux.pslist.pslist"]
	h.sink.mu.Unlock()
	assert.Equal(t, 60000, window)

	notifications := h.notifier.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, forensics.SeveritySuccess, notifications[0].Severity)
	assert.Contains(t, notifications[0].Message, "SUCCESS")
}

func TestExecutePluginEmpty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dump := h.seedDump(t, "empty-host", "4", forensics.OSLinux, []byte("raw"))
	plugin := forensics.Plugin{Name: "linux.lsmod.Lsmod", OperatingSystem: forensics.OSLinux}
	h.engine.rows(plugin.Name)

	h.executor.ExecutePlugin(ctx, dump, plugin, nil, h.userID)

	result, err := h.results.GetResult(ctx, dump.ID(), plugin.Name)
	require.NoError(t, err)
	assert.Equal(t, forensics.ResultStatusEmpty, result.Status())
	assert.Empty(t, h.sink.documents(Partition("4", plugin.Name)))
}

func TestExecutePluginUnsatisfied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dump := h.seedDump(t, "no-symbols", "5", forensics.OSLinux, []byte("raw"))
	plugin := forensics.Plugin{Name: "linux.bash.Bash", OperatingSystem: forensics.OSLinux}
	h.engine.on(plugin.Name, func(forensics.EngineConfig) (*forensics.EngineOutput, error) {
		return nil, &forensics.UnsatisfiedError{Requirements: []forensics.UnsatisfiedRequirement{
			{Requirement: "kernel", Description: "A translation layer requirement was not fulfilled"},
			{Requirement: "symbols", Description: "A symbol table requirement was not fulfilled"},
		}}
	})

	h.executor.ExecutePlugin(ctx, dump, plugin, nil, h.userID)

	result, err := h.results.GetResult(ctx, dump.ID(), plugin.Name)
	require.NoError(t, err)
	assert.Equal(t, forensics.ResultStatusUnsatisfied, result.Status())
	assert.Equal(t,
		"A translation layer requirement was not fulfilled\nA symbol table requirement was not fulfilled",
		result.Description())

	notifications := h.notifier.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, forensics.SeverityWarning, notifications[0].Severity)
}

func TestExecutePluginEngineError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dump := h.seedDump(t, "crasher", "6", forensics.OSLinux, []byte("raw"))
	plugin := forensics.Plugin{Name: "linux.check_afinfo.Check_afinfo", OperatingSystem: forensics.OSLinux}
	trace := "Traceback (most recent call last):\n  File \"runner.py\", line 1\nValueError: boom"
	h.engine.on(plugin.Name, func(forensics.EngineConfig) (*forensics.EngineOutput, error) {
		return nil, &forensics.EngineRuntimeError{Trace: trace}
	})

	h.executor.ExecutePlugin(ctx, dump, plugin, nil, h.userID)

	result, err := h.results.GetResult(ctx, dump.ID(), plugin.Name)
	require.NoError(t, err)
	assert.Equal(t, forensics.ResultStatusError, result.Status())
	assert.Equal(t, trace, result.Description())

	notifications := h.notifier.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, forensics.SeverityCritical, notifications[0].Severity)
}

func TestExecutePluginSinkFailureBecomesError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dump := h.seedDump(t, "sink-down", "7", forensics.OSLinux, []byte("raw"))
	plugin := forensics.Plugin{Name: "linux.pstree.PsTree", OperatingSystem: forensics.OSLinux}
	h.engine.rows(plugin.Name, forensics.Row{"PID": 1})
	h.sink.mu.Lock()
	h.sink.bulkErr = errors.New("bulk request rejected")
	h.sink.mu.Unlock()

	h.executor.ExecutePlugin(ctx, dump, plugin, nil, h.userID)

	result, err := h.results.GetResult(ctx, dump.ID(), plugin.Name)
	require.NoError(t, err)
	assert.Equal(t, forensics.ResultStatusError, result.Status())
	assert.Contains(t, result.Description(), "bulk index failed")
}

func TestExecutePluginReusesResultRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dump := h.seedDump(t, "rerun", "8", forensics.OSLinux, []byte("raw"))
	plugin := forensics.Plugin{Name: "linux.envars.Envars", OperatingSystem: forensics.OSLinux}
	h.engine.rows(plugin.Name, forensics.Row{"PID": 1})

	h.executor.ExecutePlugin(ctx, dump, plugin, nil, h.userID)
	first, err := h.results.GetResult(ctx, dump.ID(), plugin.Name)
	require.NoError(t, err)

	h.executor.ExecutePlugin(ctx, dump, plugin, nil, h.userID)
	second, err := h.results.GetResult(ctx, dump.ID(), plugin.Name)
	require.NoError(t, err)

	assert.Equal(t, first.ID(), second.ID())

	rows, err := h.results.ListByDump(ctx, dump.ID())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 2, h.engine.callCount(plugin.Name))
}

func TestExecutePluginInjectsDefaultRule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rulePath := filepath.Join(t.TempDir(), "default.yar")
	require.NoError(t, h.rules.CreateRule(ctx, forensics.CustomRule{
		ID:      uuid.New(),
		UserID:  h.userID,
		Name:    "default ruleset",
		Path:    rulePath,
		Default: true,
	}))

	dump := h.seedDump(t, "yara-run", "9", forensics.OSLinux, []byte("raw"))
	plugin := forensics.Plugin{Name: "yarascan.YaraScan", OperatingSystem: forensics.OSLinux, RuleScan: true}
	h.engine.rows(plugin.Name, forensics.Row{"Rule": "suspicious"})

	h.executor.ExecutePlugin(ctx, dump, plugin, nil, h.userID)

	cfg := h.engine.lastConfig(plugin.Name)
	assert.Equal(t, rulePath, cfg.Parameters["yara_file"])

	// An explicit rule parameter wins over the default.
	h.executor.ExecutePlugin(ctx, dump, plugin, map[string]any{"yara_rules": "rule x {}"}, h.userID)
	cfg = h.engine.lastConfig(plugin.Name)
	assert.Equal(t, "rule x {}", cfg.Parameters["yara_rules"])
	assert.NotContains(t, cfg.Parameters, "yara_file")
}

func TestExecutePluginMaterializesExtractedFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dump := h.seedDump(t, "extract-host", "10", forensics.OSLinux, []byte("raw"))
	plugin := forensics.Plugin{
		Name:             "linux.dump_maps.DumpMaps",
		OperatingSystem:  forensics.OSLinux,
		LocalExtraction:  true,
		AlwaysExtract:    true,
		ReputationLookup: true,
	}

	content := []byte("recovered segment bytes")
	shaSum := sha256.Sum256(content)
	md5Sum := md5.Sum(content)
	wantSHA := hex.EncodeToString(shaSum[:])
	wantMD5 := hex.EncodeToString(md5Sum[:])

	report := json.RawMessage(`{"positives":0,"total":70}`)
	h.reputation.reports[wantSHA] = report

	stageDir := t.TempDir()
	h.engine.on(plugin.Name, func(cfg forensics.EngineConfig) (*forensics.EngineOutput, error) {
		if !cfg.ExtractFiles {
			return nil, fmt.Errorf("expected extraction to be requested")
		}
		if err := writeFile(stageDir, "pid.1.vma.0x400000.dmp", content); err != nil {
			return nil, err
		}
		return &forensics.EngineOutput{
			Rows: []forensics.Row{{"PID": 1, "File output": "pid.1.vma.0x400000.dmp"}},
			RecoveredFiles: []forensics.RecoveredFile{{
				PreferredName: "pid.1.vma.0x400000.dmp",
				StagePath:     filepath.Join(stageDir, "pid.1.vma.0x400000.dmp"),
			}},
		}, nil
	})

	h.executor.ExecutePlugin(ctx, dump, plugin, nil, h.userID)

	result, err := h.results.GetResult(ctx, dump.ID(), plugin.Name)
	require.NoError(t, err)
	require.Equal(t, forensics.ResultStatusSuccess, result.Status())

	files, err := h.files.ListByResult(ctx, result.ID())
	require.NoError(t, err)
	require.Len(t, files, 1)

	wantPath := filepath.Join(h.storageRoot, "10", strings.ToLower(plugin.Name), "pid.1.vma.0x400000.dmp")
	assert.Equal(t, wantPath, files[0].Path)
	assert.Equal(t, wantSHA, files[0].SHA256)
	assert.Equal(t, wantMD5, files[0].MD5)
	assert.JSONEq(t, string(report), string(files[0].Reputation))
}

func TestExecutePluginFanoutDegradationKeepsSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dump := h.seedDump(t, "degraded-host", "11", forensics.OSLinux, []byte("raw"))
	plugin := forensics.Plugin{
		Name:             "linux.dump_files.DumpFiles",
		OperatingSystem:  forensics.OSLinux,
		LocalExtraction:  true,
		AlwaysExtract:    true,
		ReputationLookup: true,
	}
	h.reputation.err = errors.New("virustotal unreachable")

	stageDir := t.TempDir()
	h.engine.on(plugin.Name, func(forensics.EngineConfig) (*forensics.EngineOutput, error) {
		if err := writeFile(stageDir, "recovered.bin", []byte("payload")); err != nil {
			return nil, err
		}
		return &forensics.EngineOutput{
			Rows: []forensics.Row{{"File output": "recovered.bin"}},
			RecoveredFiles: []forensics.RecoveredFile{{
				PreferredName: "recovered.bin",
				StagePath:     filepath.Join(stageDir, "recovered.bin"),
			}},
		}, nil
	})

	h.executor.ExecutePlugin(ctx, dump, plugin, nil, h.userID)

	result, err := h.results.GetResult(ctx, dump.ID(), plugin.Name)
	require.NoError(t, err)
	assert.Equal(t, forensics.ResultStatusSuccess, result.Status())

	files, err := h.files.ListByResult(ctx, result.ID())
	require.NoError(t, err)
	require.Len(t, files, 1)

	var degraded map[string]string
	require.NoError(t, json.Unmarshal(files[0].Reputation, &degraded))
	assert.Equal(t, "virustotal unreachable", degraded["error"])
}

func TestExecutePluginReparsesHives(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dump := h.seedDump(t, "registry-host", "12", forensics.OSWindows, []byte("raw"))
	plugin := forensics.Plugin{
		Name:              "windows.registry.hivelist.HiveList",
		OperatingSystem:   forensics.OSWindows,
		LocalExtraction:   true,
		AlwaysExtract:     true,
		StructuredReparse: true,
	}
	h.hives.doc = json.RawMessage(`{"key":"CMI-CreateHive","values":[]}`)

	stageDir := t.TempDir()
	h.engine.on(plugin.Name, func(forensics.EngineConfig) (*forensics.EngineOutput, error) {
		if err := writeFile(stageDir, "registry.SYSTEM.hive", []byte("regf")); err != nil {
			return nil, err
		}
		return &forensics.EngineOutput{
			Rows: []forensics.Row{{"Offset": "0x9000", "FileFullPath": `\REGISTRY\MACHINE\SYSTEM`}},
			RecoveredFiles: []forensics.RecoveredFile{{
				PreferredName: "registry.SYSTEM.hive",
				StagePath:     filepath.Join(stageDir, "registry.SYSTEM.hive"),
			}},
		}, nil
	})

	h.executor.ExecutePlugin(ctx, dump, plugin, nil, h.userID)

	result, err := h.results.GetResult(ctx, dump.ID(), plugin.Name)
	require.NoError(t, err)
	require.Equal(t, forensics.ResultStatusSuccess, result.Status())

	files, err := h.files.ListByResult(ctx, result.ID())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.JSONEq(t, `{"key":"CMI-CreateHive","values":[]}`, string(files[0].RegistryData))
}

func TestPartition(t *testing.T) {
	assert.Equal(t, "3_linux.pslist.pslist", Partition("3", "linux.pslist.PsList"))
	assert.Equal(t, "9_banners.banners", Partition("9", forensics.BannerPluginName))
}

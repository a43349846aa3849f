package pipeline

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/pkg/common/logger"
)

// maxResultWindow is applied to each partition after its first successful
// bulk load so pagination can address the full row count.
const maxResultWindow = 60000

// Executor runs exactly one plugin against one dump: it builds the engine
// configuration, classifies the outcome into the result state machine,
// materializes extracted files, waits for its own fan-out sub-tasks, and
// bulk-loads the row output. Every failure is converted into a terminal
// Result state at this boundary; nothing propagates to sibling plugins.
type Executor struct {
	results   forensics.ResultRepository
	extracted forensics.ExtractedFileRepository
	rules     forensics.RuleRepository

	engine    forensics.AnalysisEngine
	antivirus forensics.AntivirusScanner
	sink      forensics.ResultIndexer
	notifier  forensics.Notifier
	fanout    *Fanout

	// storageRoot is the base directory for per-dump artifact storage.
	storageRoot string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics PipelineMetrics
}

// NewExecutor creates a plugin executor. The antivirus scanner is optional;
// when nil, plugins with the antivirus capability skip the scan.
func NewExecutor(
	results forensics.ResultRepository,
	extracted forensics.ExtractedFileRepository,
	rules forensics.RuleRepository,
	engine forensics.AnalysisEngine,
	antivirus forensics.AntivirusScanner,
	sink forensics.ResultIndexer,
	notifier forensics.Notifier,
	fanout *Fanout,
	storageRoot string,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics PipelineMetrics,
) *Executor {
	return &Executor{
		results:     results,
		extracted:   extracted,
		rules:       rules,
		engine:      engine,
		antivirus:   antivirus,
		sink:        sink,
		notifier:    notifier,
		fanout:      fanout,
		storageRoot: storageRoot,
		logger:      log.With("component", "executor"),
		tracer:      tracer,
		metrics:     metrics,
	}
}

// ExecutePlugin drives one (dump, plugin) invocation to a terminal Result
// state. It never returns an error: outcomes land on the Result row and one
// notification is emitted per terminal state.
func (e *Executor) ExecutePlugin(
	ctx context.Context,
	dump *forensics.Dump,
	plugin forensics.Plugin,
	params map[string]any,
	userID uuid.UUID,
) {
	started := time.Now()

	ctx, span := e.tracer.Start(ctx, "executor.execute_plugin",
		trace.WithAttributes(
			attribute.String("dump_id", dump.ID().String()),
			attribute.String("plugin", plugin.Name),
		))
	defer span.End()

	log := logger.NewLoggerContext(e.logger.With(
		"dump_id", dump.ID().String(),
		"dump_name", dump.Name(),
		"plugin", plugin.Name,
	))

	result := e.beginResult(ctx, log, dump, plugin, params)
	if result == nil {
		return
	}
	defer func() {
		e.metrics.ObservePluginDuration(ctx, plugin.Name, time.Since(started))
	}()

	if params == nil {
		params = make(map[string]any)
	}

	extract := e.shouldExtract(plugin, params)
	outputDir := filepath.Join(e.storageRoot, dump.Index(), strings.ToLower(plugin.Name))
	if extract {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			e.finishResult(ctx, log, dump, result, forensics.ResultStatusError,
				fmt.Sprintf("creating output directory: %v", err))
			return
		}
	}

	e.injectDefaultRule(ctx, log, plugin, params, userID)

	out, err := e.engine.Execute(ctx, plugin.Name, dump.UploadPath(), forensics.EngineConfig{
		Parameters:   params,
		ExtractFiles: extract,
	})

	var unsat *forensics.UnsatisfiedError
	if errors.As(err, &unsat) {
		e.finishResult(ctx, log, dump, result, forensics.ResultStatusUnsatisfied, unsat.Description())
		return
	}
	if err != nil {
		var runtimeErr *forensics.EngineRuntimeError
		detail := err.Error()
		if errors.As(err, &runtimeErr) {
			detail = runtimeErr.Trace
		}
		e.finishResult(ctx, log, dump, result, forensics.ResultStatusError, detail)
		return
	}

	if len(out.Rows) == 0 {
		e.finishResult(ctx, log, dump, result, forensics.ResultStatusEmpty, out.RenderDiagnostics)
		return
	}

	if extract && len(out.RecoveredFiles) > 0 {
		files, err := e.materializeFiles(ctx, log, result, plugin, outputDir, out.RecoveredFiles)
		if err != nil {
			e.finishResult(ctx, log, dump, result, forensics.ResultStatusError,
				fmt.Sprintf("materializing extracted files: %v", err))
			return
		}

		if err := e.extracted.CreateBatch(ctx, files); err != nil {
			e.finishResult(ctx, log, dump, result, forensics.ResultStatusError,
				fmt.Sprintf("storing extracted files: %v", err))
			return
		}

		if plugin.ReputationLookup || plugin.StructuredReparse {
			wait := e.fanout.Submit(ctx, plugin, files)
			wait()
		}
	}

	partition := Partition(dump.Index(), plugin.Name)
	docs := buildDocuments(out.Rows, dump, plugin)
	if err := e.sink.BulkIndex(ctx, partition, docs); err != nil {
		e.finishResult(ctx, log, dump, result, forensics.ResultStatusError,
			fmt.Sprintf("bulk index failed: %v", err))
		return
	}
	e.metrics.IncDocumentsIndexed(ctx, len(docs))

	if err := e.sink.SetMaxResultWindow(ctx, partition, maxResultWindow); err != nil {
		log.Warn(ctx, "failed to apply result window setting", "partition", partition, "error", err)
	}

	e.finishResult(ctx, log, dump, result, forensics.ResultStatusSuccess, out.RenderDiagnostics)
}

// Partition returns the index partition name for a (dump, plugin) pair.
func Partition(dumpIndex, pluginName string) string {
	return dumpIndex + "_" + strings.ToLower(pluginName)
}

// beginResult loads or creates the single Result row for the pair and moves
// it to RUNNING with the parameters in use. A nil return means the attempt
// could not even be recorded.
func (e *Executor) beginResult(
	ctx context.Context,
	log *logger.LoggerContext,
	dump *forensics.Dump,
	plugin forensics.Plugin,
	params map[string]any,
) *forensics.Result {
	var raw json.RawMessage
	if len(params) > 0 {
		raw, _ = json.Marshal(params)
	}

	result, err := e.results.GetResult(ctx, dump.ID(), plugin.Name)
	switch {
	case errors.Is(err, forensics.ErrNotFound):
		result = forensics.NewResult(uuid.New(), dump.ID(), plugin.Name)
		if err := result.Begin(raw); err != nil {
			log.Error(ctx, "failed to begin result", "error", err)
			return nil
		}
		if err := e.results.CreateResult(ctx, result); err != nil {
			log.Error(ctx, "failed to create result row", "error", err)
			return nil
		}
	case err != nil:
		log.Error(ctx, "failed to load result row", "error", err)
		return nil
	default:
		if err := result.Begin(raw); err != nil {
			log.Error(ctx, "failed to restart result", "error", err)
			return nil
		}
		if err := e.results.UpdateResult(ctx, result); err != nil {
			log.Error(ctx, "failed to persist running result", "error", err)
			return nil
		}
	}
	return result
}

// shouldExtract reports whether local file extraction is enabled for this
// invocation: the plugin must support it, and either the caller asked via the
// dump parameter or the plugin always extracts.
func (e *Executor) shouldExtract(plugin forensics.Plugin, params map[string]any) bool {
	if !plugin.LocalExtraction {
		return false
	}
	if plugin.AlwaysExtract {
		return true
	}
	requested, _ := params["dump"].(bool)
	return requested
}

// injectDefaultRule resolves the invoking user's default rule set for
// rule-scanning plugins invoked without an explicit rule parameter.
func (e *Executor) injectDefaultRule(
	ctx context.Context,
	log *logger.LoggerContext,
	plugin forensics.Plugin,
	params map[string]any,
	userID uuid.UUID,
) {
	if !plugin.RuleScan {
		return
	}
	for _, name := range forensics.RuleParameterNames {
		if _, ok := params[name]; ok {
			return
		}
	}

	rule, err := e.rules.GetDefaultRule(ctx, userID)
	if errors.Is(err, forensics.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn(ctx, "failed to resolve default rule", "error", err)
		return
	}
	params["yara_file"] = rule.Path
}

// materializeFiles takes ownership of the engine's staged files: each is
// moved into the plugin's output directory, hashed, and matched against the
// batch antivirus verdicts.
func (e *Executor) materializeFiles(
	ctx context.Context,
	log *logger.LoggerContext,
	result *forensics.Result,
	plugin forensics.Plugin,
	outputDir string,
	recovered []forensics.RecoveredFile,
) ([]forensics.ExtractedFile, error) {
	files := make([]forensics.ExtractedFile, 0, len(recovered))
	for _, rf := range recovered {
		dest := filepath.Join(outputDir, filepath.Base(rf.PreferredName))
		if err := moveFile(rf.StagePath, dest); err != nil {
			return nil, fmt.Errorf("moving %s: %w", rf.PreferredName, err)
		}

		sha256Sum, md5Sum, err := hashFile(dest)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", dest, err)
		}

		files = append(files, forensics.ExtractedFile{
			ResultID: result.ID(),
			Path:     dest,
			SHA256:   sha256Sum,
			MD5:      md5Sum,
		})
	}

	if plugin.AntivirusScan && e.antivirus != nil {
		verdicts, err := e.antivirus.ScanDirectory(ctx, outputDir)
		if err != nil {
			log.Warn(ctx, "antivirus scan degraded", "dir", outputDir, "error", err)
		}
		for i := range files {
			if verdict, ok := verdicts[files[i].Path]; ok {
				files[i].ClamAV = verdict
			}
		}
	}

	return files, nil
}

// finishResult records the terminal state and emits the per-invocation
// notification.
func (e *Executor) finishResult(
	ctx context.Context,
	log *logger.LoggerContext,
	dump *forensics.Dump,
	result *forensics.Result,
	status forensics.ResultStatus,
	description string,
) {
	if err := result.Finish(status, description); err != nil {
		log.Error(ctx, "invalid result transition", "target", status.String(), "error", err)
		return
	}
	if err := e.results.UpdateResult(ctx, result); err != nil {
		log.Error(ctx, "failed to persist terminal result", "status", status.String(), "error", err)
	}

	e.metrics.IncPluginRuns(ctx, status.String())
	log.Info(ctx, "plugin run finished", "status", status.String())

	e.notifier.Notify(ctx, forensics.Notification{
		DumpID:   dump.ID(),
		DumpName: dump.Name(),
		Message:  fmt.Sprintf("Plugin %s on %s terminated with %s", result.PluginName(), dump.Name(), status.String()),
		Severity: severityFor(status),
	})
}

func severityFor(status forensics.ResultStatus) forensics.Severity {
	switch status {
	case forensics.ResultStatusError:
		return forensics.SeverityCritical
	case forensics.ResultStatusUnsatisfied, forensics.ResultStatusDisabled:
		return forensics.SeverityWarning
	default:
		return forensics.SeveritySuccess
	}
}

// buildDocuments enriches each row with the denormalized dump context and a
// fresh document id.
func buildDocuments(rows []forensics.Row, dump *forensics.Dump, plugin forensics.Plugin) []forensics.Document {
	createdAt := time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)

	docs := make([]forensics.Document, 0, len(rows))
	for _, row := range rows {
		source := make(map[string]any, len(row)+4)
		for k, v := range row {
			source[k] = v
		}
		source["dump_name"] = dump.Name()
		source["plugin"] = strings.ToLower(plugin.Name)
		source["os"] = dump.OperatingSystem().String()
		source["created_at"] = createdAt

		docs = append(docs, forensics.Document{ID: uuid.New(), Source: source})
	}
	return docs
}

// moveFile renames when possible, falling back to a copy across devices.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// hashFile computes SHA-256 and MD5 in one pass.
func hashFile(path string) (sha256Sum, md5Sum string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	sha := sha256.New()
	md := md5.New()
	if _, err := io.Copy(io.MultiWriter(sha, md), f); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(sha.Sum(nil)), hex.EncodeToString(md.Sum(nil)), nil
}

package pipeline

import (
	"context"
	"encoding/json"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/pkg/common/logger"
)

// Fanout runs secondary analyzers over extracted files as independent,
// unordered sub-tasks. Sub-tasks run on the fan-out's own bounded goroutine
// set, never on the plugin worker pool: the plugin invocation that submitted
// them holds a pool worker while it waits, so sub-tasks must stay schedulable
// with every worker occupied. An analyzer failure is recorded as an
// error-shaped document on the owning file and never propagates to the
// plugin invocation that submitted it.
type Fanout struct {
	sem        chan struct{}
	files      forensics.ExtractedFileRepository
	reputation forensics.ReputationService
	hives      forensics.HiveParser

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics PipelineMetrics
}

// NewFanout creates a fan-out dispatcher running at most parallelism
// sub-tasks at a time. The reputation service and hive parser are optional;
// a nil analyzer skips its capability entirely.
func NewFanout(
	parallelism int,
	files forensics.ExtractedFileRepository,
	reputation forensics.ReputationService,
	hives forensics.HiveParser,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics PipelineMetrics,
) *Fanout {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Fanout{
		sem:        make(chan struct{}, parallelism),
		files:      files,
		reputation: reputation,
		hives:      hives,
		logger:     log.With("component", "fanout"),
		tracer:     tracer,
		metrics:    metrics,
	}
}

// Submit schedules the plugin's enabled analyzers for each extracted file and
// returns a wait function covering exactly this invocation's sub-task set.
// Sub-tasks belonging to other invocations are never waited on.
func (f *Fanout) Submit(ctx context.Context, plugin forensics.Plugin, files []forensics.ExtractedFile) func() {
	var wg sync.WaitGroup

	for _, file := range files {
		if plugin.ReputationLookup && f.reputation != nil {
			f.submitTask(ctx, &wg, "reputation", file, f.lookupReputation)
		}
		if plugin.StructuredReparse && f.hives != nil {
			f.submitTask(ctx, &wg, "reparse", file, f.reparseHive)
		}
	}

	return wg.Wait
}

func (f *Fanout) submitTask(
	ctx context.Context,
	wg *sync.WaitGroup,
	analyzer string,
	file forensics.ExtractedFile,
	run func(ctx context.Context, analyzer string, file forensics.ExtractedFile),
) {
	f.metrics.IncFanoutTasks(ctx, analyzer)

	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		f.logger.Error(ctx, "failed to submit fanout task",
			"analyzer", analyzer,
			"path", file.Path,
			"error", ctx.Err(),
		)
		return
	}

	wg.Add(1)
	go func() {
		defer func() {
			<-f.sem
			wg.Done()
		}()
		run(ctx, analyzer, file)
	}()
}

// lookupReputation resolves the file's reputation by content hash. Service
// failures (unconfigured, unreachable, rate limited) become the report.
func (f *Fanout) lookupReputation(ctx context.Context, analyzer string, file forensics.ExtractedFile) {
	ctx, span := f.tracer.Start(ctx, "fanout.reputation",
		trace.WithAttributes(attribute.String("path", file.Path)))
	defer span.End()

	report, err := f.reputation.Lookup(ctx, file.SHA256)
	if err != nil {
		f.metrics.IncFanoutDegraded(ctx, analyzer)
		f.logger.Warn(ctx, "reputation lookup degraded", "path", file.Path, "error", err)
		report = errorDocument(err)
	}

	if err := f.files.SetReputation(ctx, file.ResultID, file.Path, report); err != nil {
		span.RecordError(err)
		f.logger.Error(ctx, "failed to store reputation report", "path", file.Path, "error", err)
	}
}

// reparseHive re-parses an extracted registry hive into a structured document.
func (f *Fanout) reparseHive(ctx context.Context, analyzer string, file forensics.ExtractedFile) {
	ctx, span := f.tracer.Start(ctx, "fanout.reparse",
		trace.WithAttributes(attribute.String("path", file.Path)))
	defer span.End()

	doc, err := f.hives.Parse(ctx, file.Path)
	if err != nil {
		f.metrics.IncFanoutDegraded(ctx, analyzer)
		f.logger.Warn(ctx, "hive reparse degraded", "path", file.Path, "error", err)
		doc = errorDocument(err)
	}

	if err := f.files.SetRegistryData(ctx, file.ResultID, file.Path, doc); err != nil {
		span.RecordError(err)
		f.logger.Error(ctx, "failed to store registry data", "path", file.Path, "error", err)
	}
}

// errorDocument converts an analyzer failure into the error-shaped document
// stored on the owning file's field.
func errorDocument(err error) json.RawMessage {
	doc, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return json.RawMessage(`{"error":"analyzer failed"}`)
	}
	return doc
}

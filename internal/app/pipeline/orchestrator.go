package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/pkg/common/logger"
)

// Orchestrator drives one dump through preparation, the eligibility gate,
// and parallel plugin dispatch over the shared worker pool. It owns the task
// set for its dump: per-plugin failures are isolated inside the executor and
// the dump completes exactly once per run regardless of how many plugins
// failed.
type Orchestrator struct {
	dumps   forensics.DumpRepository
	plugins forensics.PluginRepository
	results forensics.ResultRepository

	preparer *Preparer
	gate     *Gate
	executor *Executor
	pool     *WorkerPool
	notifier forensics.Notifier

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics PipelineMetrics
}

// NewOrchestrator wires the pipeline components into a dump processor.
func NewOrchestrator(
	dumps forensics.DumpRepository,
	plugins forensics.PluginRepository,
	results forensics.ResultRepository,
	preparer *Preparer,
	gate *Gate,
	executor *Executor,
	pool *WorkerPool,
	notifier forensics.Notifier,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics PipelineMetrics,
) *Orchestrator {
	return &Orchestrator{
		dumps:    dumps,
		plugins:  plugins,
		results:  results,
		preparer: preparer,
		gate:     gate,
		executor: executor,
		pool:     pool,
		notifier: notifier,
		logger:   log.With("component", "orchestrator"),
		tracer:   tracer,
		metrics:  metrics,
	}
}

// ProcessDump is the pipeline entry point. Restart invocations narrow
// dispatch to the named plugins and skip artifact preparation; everything
// else follows the initial-run path. Only dump-level failures return an
// error; plugin outcomes land on their Result rows.
func (o *Orchestrator) ProcessDump(
	ctx context.Context,
	dumpID, userID uuid.UUID,
	password string,
	restartPlugins []string,
) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.process_dump",
		trace.WithAttributes(
			attribute.String("dump_id", dumpID.String()),
			attribute.Int("restart_plugin_count", len(restartPlugins)),
		))
	defer span.End()

	dump, err := o.dumps.GetDump(ctx, dumpID)
	if err != nil {
		return fmt.Errorf("loading dump: %w", err)
	}

	log := logger.NewLoggerContext(o.logger.With(
		"dump_id", dump.ID().String(),
		"dump_name", dump.Name(),
	))

	restart := len(restartPlugins) > 0
	if !restart {
		if err := o.preparer.Prepare(ctx, dump, password, userID); err != nil {
			span.RecordError(err)
			o.failDump(ctx, log, dump, err)
			return err
		}
	}

	if !o.gate.Check(ctx, dump) {
		return o.shortCircuit(ctx, log, dump)
	}

	dispatch := o.selectPlugins(ctx, log, dump, restartPlugins)
	log.Info(ctx, "dispatching plugins", "count", len(dispatch))

	var wg sync.WaitGroup
	for _, plugin := range dispatch {
		params := o.storedParameters(ctx, log, dump.ID(), plugin.Name)

		wg.Add(1)
		err := o.pool.Submit(ctx, func(taskCtx context.Context) {
			defer wg.Done()
			o.executor.ExecutePlugin(taskCtx, dump, plugin, params, userID)
		})
		if err != nil {
			wg.Done()
			log.Error(ctx, "failed to submit plugin task", "plugin", plugin.Name, "error", err)
			o.failResult(ctx, log, dump, plugin, err)
		}
	}
	wg.Wait()

	dump.Complete()
	if err := o.dumps.UpdateDump(ctx, dump); err != nil {
		return fmt.Errorf("completing dump: %w", err)
	}
	o.metrics.IncDumpsProcessed(ctx)

	o.notifier.Notify(ctx, forensics.Notification{
		DumpID:   dump.ID(),
		DumpName: dump.Name(),
		Message:  fmt.Sprintf("Analysis of %s terminated", dump.Name()),
		Severity: forensics.SeveritySuccess,
	})
	log.Info(ctx, "dump processing complete")
	return nil
}

// selectPlugins returns the enabled, OS-matching, non-banner plugins to
// dispatch, narrowed to the restart subset when one is given.
func (o *Orchestrator) selectPlugins(
	ctx context.Context,
	log *logger.LoggerContext,
	dump *forensics.Dump,
	restartPlugins []string,
) []forensics.Plugin {
	catalog, err := o.plugins.ListPlugins(ctx)
	if err != nil {
		log.Error(ctx, "failed to list plugins", "error", err)
		return nil
	}

	var restartSet map[string]struct{}
	if len(restartPlugins) > 0 {
		restartSet = make(map[string]struct{}, len(restartPlugins))
		for _, name := range restartPlugins {
			restartSet[name] = struct{}{}
		}
	}

	var selected []forensics.Plugin
	for _, plugin := range catalog {
		if plugin.OperatingSystem != dump.OperatingSystem() || plugin.Disabled || plugin.IsBanner() {
			continue
		}
		if restartSet != nil {
			if _, ok := restartSet[plugin.Name]; !ok {
				continue
			}
		}
		selected = append(selected, plugin)
	}
	return selected
}

// storedParameters recovers the parameter map of the previous attempt so a
// restart re-runs the plugin with the same inputs.
func (o *Orchestrator) storedParameters(
	ctx context.Context,
	log *logger.LoggerContext,
	dumpID uuid.UUID,
	pluginName string,
) map[string]any {
	result, err := o.results.GetResult(ctx, dumpID, pluginName)
	if err != nil || len(result.Parameters()) == 0 {
		return nil
	}

	var params map[string]any
	if err := json.Unmarshal(result.Parameters(), &params); err != nil {
		log.Warn(ctx, "discarding unreadable stored parameters", "plugin", pluginName, "error", err)
		return nil
	}
	return params
}

// shortCircuit handles an ineligible dump: every pending non-banner plugin
// is disabled, a high-severity notification goes out, and the dump still
// completes. Ineligible is a valid terminal outcome, not an error.
func (o *Orchestrator) shortCircuit(ctx context.Context, log *logger.LoggerContext, dump *forensics.Dump) error {
	log.Info(ctx, "dump ineligible, disabling plugins")

	if err := o.dumps.UpdateDump(ctx, dump); err != nil {
		return fmt.Errorf("persisting missing-symbols flag: %w", err)
	}

	catalog, err := o.plugins.ListPlugins(ctx)
	if err != nil {
		return fmt.Errorf("listing plugins: %w", err)
	}

	for _, plugin := range catalog {
		if plugin.OperatingSystem != dump.OperatingSystem() || plugin.IsBanner() {
			continue
		}
		o.disableResult(ctx, log, dump, plugin)
	}

	dump.Complete()
	if err := o.dumps.UpdateDump(ctx, dump); err != nil {
		return fmt.Errorf("completing dump: %w", err)
	}
	o.metrics.IncDumpsIneligible(ctx)
	o.metrics.IncDumpsProcessed(ctx)

	o.notifier.Notify(ctx, forensics.Notification{
		DumpID:   dump.ID(),
		DumpName: dump.Name(),
		Message:  fmt.Sprintf("No symbols available for %s, plugins disabled", dump.Name()),
		Severity: forensics.SeverityCritical,
	})
	return nil
}

// disableResult moves the pair's single Result row to DISABLED, creating the
// row first when it does not exist yet.
func (o *Orchestrator) disableResult(
	ctx context.Context,
	log *logger.LoggerContext,
	dump *forensics.Dump,
	plugin forensics.Plugin,
) {
	const reason = "no symbols available for this dump"

	result, err := o.results.GetResult(ctx, dump.ID(), plugin.Name)
	switch {
	case errors.Is(err, forensics.ErrNotFound):
		result = forensics.NewResult(uuid.New(), dump.ID(), plugin.Name)
		if err := result.Disable(reason); err != nil {
			log.Error(ctx, "failed to disable result", "plugin", plugin.Name, "error", err)
			return
		}
		if err := o.results.CreateResult(ctx, result); err != nil {
			log.Error(ctx, "failed to create disabled result", "plugin", plugin.Name, "error", err)
		}
	case err != nil:
		log.Error(ctx, "failed to load result", "plugin", plugin.Name, "error", err)
	default:
		if err := result.Disable(reason); err != nil {
			log.Error(ctx, "failed to disable result", "plugin", plugin.Name, "error", err)
			return
		}
		if err := o.results.UpdateResult(ctx, result); err != nil {
			log.Error(ctx, "failed to persist disabled result", "plugin", plugin.Name, "error", err)
		}
	}
}

// failResult records a scheduling failure as the pair's terminal outcome so
// the completed dump never leaves a dispatched plugin's result pending.
func (o *Orchestrator) failResult(
	ctx context.Context,
	log *logger.LoggerContext,
	dump *forensics.Dump,
	plugin forensics.Plugin,
	cause error,
) {
	description := fmt.Sprintf("plugin was not scheduled: %v", cause)

	result, err := o.results.GetResult(ctx, dump.ID(), plugin.Name)
	switch {
	case errors.Is(err, forensics.ErrNotFound):
		result = forensics.NewResult(uuid.New(), dump.ID(), plugin.Name)
		if err := result.Finish(forensics.ResultStatusError, description); err != nil {
			log.Error(ctx, "failed to fail result", "plugin", plugin.Name, "error", err)
			return
		}
		if err := o.results.CreateResult(ctx, result); err != nil {
			log.Error(ctx, "failed to create failed result", "plugin", plugin.Name, "error", err)
		}
	case err != nil:
		log.Error(ctx, "failed to load result", "plugin", plugin.Name, "error", err)
	default:
		if err := result.Begin(result.Parameters()); err != nil {
			log.Error(ctx, "failed to restart result", "plugin", plugin.Name, "error", err)
			return
		}
		if err := result.Finish(forensics.ResultStatusError, description); err != nil {
			log.Error(ctx, "failed to fail result", "plugin", plugin.Name, "error", err)
			return
		}
		if err := o.results.UpdateResult(ctx, result); err != nil {
			log.Error(ctx, "failed to persist failed result", "plugin", plugin.Name, "error", err)
		}
	}
}

// failDump records a dump-level preparation failure. No plugins run.
func (o *Orchestrator) failDump(ctx context.Context, log *logger.LoggerContext, dump *forensics.Dump, cause error) {
	dump.Fail()
	if err := o.dumps.UpdateDump(ctx, dump); err != nil {
		log.Error(ctx, "failed to persist dump error state", "error", err)
	}
	o.metrics.IncDumpErrors(ctx)

	o.notifier.Notify(ctx, forensics.Notification{
		DumpID:   dump.ID(),
		DumpName: dump.Name(),
		Message:  fmt.Sprintf("Preparation of %s failed: %v", dump.Name(), cause),
		Severity: forensics.SeverityCritical,
	})
}

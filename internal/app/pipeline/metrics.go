package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics defines metrics operations needed by the dump pipeline.
type PipelineMetrics interface {
	IncDumpsProcessed(ctx context.Context)
	IncDumpErrors(ctx context.Context)
	IncDumpsIneligible(ctx context.Context)

	IncPluginRuns(ctx context.Context, status string)
	ObservePluginDuration(ctx context.Context, pluginName string, duration time.Duration)

	IncFanoutTasks(ctx context.Context, analyzer string)
	IncFanoutDegraded(ctx context.Context, analyzer string)

	IncDocumentsIndexed(ctx context.Context, count int)
}

var _ PipelineMetrics = (*pipelineMetrics)(nil)

type pipelineMetrics struct {
	dumpsProcessed  metric.Int64Counter
	dumpErrors      metric.Int64Counter
	dumpsIneligible metric.Int64Counter

	pluginRuns     metric.Int64Counter
	pluginDuration metric.Float64Histogram

	fanoutTasks    metric.Int64Counter
	fanoutDegraded metric.Int64Counter

	documentsIndexed metric.Int64Counter
}

const namespace = "pipeline"

// NewPipelineMetrics creates a new pipeline metrics instance.
func NewPipelineMetrics(mp metric.MeterProvider) (*pipelineMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(pipelineMetrics)
	var err error

	if m.dumpsProcessed, err = meter.Int64Counter(
		"dumps_processed_total",
		metric.WithDescription("Total number of dumps that completed processing"),
	); err != nil {
		return nil, err
	}

	if m.dumpErrors, err = meter.Int64Counter(
		"dump_errors_total",
		metric.WithDescription("Total number of dumps that failed artifact preparation"),
	); err != nil {
		return nil, err
	}

	if m.dumpsIneligible, err = meter.Int64Counter(
		"dumps_ineligible_total",
		metric.WithDescription("Total number of dumps short-circuited for missing symbols"),
	); err != nil {
		return nil, err
	}

	if m.pluginRuns, err = meter.Int64Counter(
		"plugin_runs_total",
		metric.WithDescription("Total number of plugin executions by terminal status"),
	); err != nil {
		return nil, err
	}

	if m.pluginDuration, err = meter.Float64Histogram(
		"plugin_duration_seconds",
		metric.WithDescription("Duration of plugin executions"),
	); err != nil {
		return nil, err
	}

	if m.fanoutTasks, err = meter.Int64Counter(
		"fanout_tasks_total",
		metric.WithDescription("Total number of secondary analyzer sub-tasks submitted"),
	); err != nil {
		return nil, err
	}

	if m.fanoutDegraded, err = meter.Int64Counter(
		"fanout_degraded_total",
		metric.WithDescription("Total number of sub-tasks that degraded to an error document"),
	); err != nil {
		return nil, err
	}

	if m.documentsIndexed, err = meter.Int64Counter(
		"documents_indexed_total",
		metric.WithDescription("Total number of documents bulk-loaded into the index"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *pipelineMetrics) IncDumpsProcessed(ctx context.Context) {
	m.dumpsProcessed.Add(ctx, 1)
}

func (m *pipelineMetrics) IncDumpErrors(ctx context.Context) {
	m.dumpErrors.Add(ctx, 1)
}

func (m *pipelineMetrics) IncDumpsIneligible(ctx context.Context) {
	m.dumpsIneligible.Add(ctx, 1)
}

func (m *pipelineMetrics) IncPluginRuns(ctx context.Context, status string) {
	m.pluginRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *pipelineMetrics) ObservePluginDuration(ctx context.Context, pluginName string, duration time.Duration) {
	m.pluginDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("plugin", pluginName)))
}

func (m *pipelineMetrics) IncFanoutTasks(ctx context.Context, analyzer string) {
	m.fanoutTasks.Add(ctx, 1, metric.WithAttributes(attribute.String("analyzer", analyzer)))
}

func (m *pipelineMetrics) IncFanoutDegraded(ctx context.Context, analyzer string) {
	m.fanoutDegraded.Add(ctx, 1, metric.WithAttributes(attribute.String("analyzer", analyzer)))
}

func (m *pipelineMetrics) IncDocumentsIndexed(ctx context.Context, count int) {
	m.documentsIndexed.Add(ctx, int64(count))
}

// noopMetrics satisfies PipelineMetrics when no meter provider is wired,
// primarily in tests.
type noopMetrics struct{}

func (noopMetrics) IncDumpsProcessed(context.Context)                            {}
func (noopMetrics) IncDumpErrors(context.Context)                                {}
func (noopMetrics) IncDumpsIneligible(context.Context)                           {}
func (noopMetrics) IncPluginRuns(context.Context, string)                        {}
func (noopMetrics) ObservePluginDuration(context.Context, string, time.Duration) {}
func (noopMetrics) IncFanoutTasks(context.Context, string)                       {}
func (noopMetrics) IncFanoutDegraded(context.Context, string)                    {}
func (noopMetrics) IncDocumentsIndexed(context.Context, int)                     {}

// NoopMetrics returns a PipelineMetrics that records nothing.
func NoopMetrics() PipelineMetrics { return noopMetrics{} }

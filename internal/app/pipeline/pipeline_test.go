package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	memnotify "github.com/memharbor/memharbor/internal/infra/notify/memory"
	memstore "github.com/memharbor/memharbor/internal/infra/storage/forensics/memory"
	"github.com/memharbor/memharbor/internal/symbols"
	"github.com/memharbor/memharbor/pkg/common/logger"
)

const ubuntuBanner = "Linux version 5.4.0-42-generic (buildd@lgw01-amd64-038) (gcc version 9.3.0 (Ubuntu 9.3.0-10ubuntu2)) #46-Ubuntu SMP Fri Jul 10 00:24:02 UTC 2020"

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelInfo, "TEST", nil)
}

func writeFile(dir, name string, content []byte) error {
	return os.WriteFile(filepath.Join(dir, name), content, 0o644)
}

// fakeEngine routes Execute calls to per-plugin behaviors.
type fakeEngine struct {
	mu       sync.Mutex
	behavior map[string]func(cfg forensics.EngineConfig) (*forensics.EngineOutput, error)
	calls    map[string]int
	lastCfg  map[string]forensics.EngineConfig
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		behavior: make(map[string]func(cfg forensics.EngineConfig) (*forensics.EngineOutput, error)),
		calls:    make(map[string]int),
		lastCfg:  make(map[string]forensics.EngineConfig),
	}
}

func (f *fakeEngine) on(plugin string, fn func(cfg forensics.EngineConfig) (*forensics.EngineOutput, error)) {
	f.behavior[plugin] = fn
}

func (f *fakeEngine) rows(plugin string, rows ...forensics.Row) {
	f.on(plugin, func(forensics.EngineConfig) (*forensics.EngineOutput, error) {
		return &forensics.EngineOutput{Rows: rows}, nil
	})
}

func (f *fakeEngine) ListPlugins(context.Context) ([]string, error) {
	names := make([]string, 0, len(f.behavior))
	for name := range f.behavior {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeEngine) DescribeParameters(context.Context, string) ([]forensics.Parameter, error) {
	return nil, nil
}

func (f *fakeEngine) Execute(
	_ context.Context,
	pluginName, _ string,
	cfg forensics.EngineConfig,
) (*forensics.EngineOutput, error) {
	f.mu.Lock()
	f.calls[pluginName]++
	f.lastCfg[pluginName] = cfg
	fn, ok := f.behavior[pluginName]
	f.mu.Unlock()

	if !ok {
		return nil, &forensics.EngineRuntimeError{Trace: "unknown plugin " + pluginName}
	}
	return fn(cfg)
}

func (f *fakeEngine) callCount(plugin string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[plugin]
}

func (f *fakeEngine) lastConfig(plugin string) forensics.EngineConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCfg[plugin]
}

// fakeSink records bulk loads per partition in memory.
type fakeSink struct {
	mu         sync.Mutex
	partitions map[string][]forensics.Document
	windows    map[string]int
	fields     map[string][]string
	bulkErr    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		partitions: make(map[string][]forensics.Document),
		windows:    make(map[string]int),
		fields:     make(map[string][]string),
	}
}

func (s *fakeSink) BulkIndex(_ context.Context, partition string, docs []forensics.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bulkErr != nil {
		return s.bulkErr
	}
	s.partitions[partition] = append(s.partitions[partition], docs...)
	return nil
}

func (s *fakeSink) SetMaxResultWindow(_ context.Context, partition string, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[partition] = size
	return nil
}

func (s *fakeSink) FieldValues(_ context.Context, partition, field string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields[partition+"/"+field], nil
}

func (s *fakeSink) documents(partition string) []forensics.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partitions[partition]
}

// staticCatalog is a fixed local symbol catalog.
type staticCatalog []string

func (c staticCatalog) AvailableBanners(context.Context) ([]string, error) { return c, nil }

// fakeReputation returns a canned report or error per sha256.
type fakeReputation struct {
	reports map[string]json.RawMessage
	err     error
}

func (f *fakeReputation) Lookup(_ context.Context, sha256 string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	if report, ok := f.reports[sha256]; ok {
		return report, nil
	}
	return nil, fmt.Errorf("no report for %s", sha256)
}

// fakeHiveParser returns a canned document for every hive.
type fakeHiveParser struct {
	doc json.RawMessage
	err error
}

func (f *fakeHiveParser) Parse(context.Context, string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

// fakeExtractor simulates archive extraction by writing canned files.
type fakeExtractor struct {
	files map[string][]byte
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, _, destDir, _ string) error {
	if f.err != nil {
		return f.err
	}
	for name, content := range f.files {
		if err := writeFile(destDir, name, content); err != nil {
			return err
		}
	}
	return nil
}

// harness wires the full pipeline over in-memory collaborators.
type harness struct {
	dumps    *memstore.DumpStore
	plugins  *memstore.PluginStore
	results  *memstore.ResultStore
	files    *memstore.ExtractedFileStore
	rules    *memstore.RuleStore
	services *memstore.ServiceStore
	notifier *memnotify.Notifier

	engine     *fakeEngine
	sink       *fakeSink
	reputation *fakeReputation
	hives      *fakeHiveParser
	extractor  *fakeExtractor
	catalog    staticCatalog

	pool     *WorkerPool
	fanout   *Fanout
	executor *Executor
	preparer *Preparer
	gate     *Gate
	orch     *Orchestrator

	storageRoot string
	userID      uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithWorkers(t, 4)
}

func newHarnessWithWorkers(t *testing.T, workers int) *harness {
	t.Helper()

	h := &harness{
		dumps:       memstore.NewDumpStore(),
		plugins:     memstore.NewPluginStore(),
		results:     memstore.NewResultStore(),
		files:       memstore.NewExtractedFileStore(),
		rules:       memstore.NewRuleStore(),
		services:    memstore.NewServiceStore(),
		notifier:    memnotify.NewNotifier(),
		engine:      newFakeEngine(),
		sink:        newFakeSink(),
		reputation:  &fakeReputation{reports: make(map[string]json.RawMessage)},
		hives:       &fakeHiveParser{doc: json.RawMessage(`{"key":"root"}`)},
		extractor:   &fakeExtractor{},
		catalog:     staticCatalog{ubuntuBanner},
		storageRoot: t.TempDir(),
		userID:      uuid.New(),
	}

	log := testLogger()
	tracer := noop.NewTracerProvider().Tracer("test")

	h.pool = NewWorkerPool(workers, log, tracer)
	ctx, cancel := context.WithCancel(context.Background())
	h.pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.pool.Stop(context.Background())
	})

	h.fanout = NewFanout(workers, h.files, h.reputation, h.hives, log, tracer, NoopMetrics())
	h.executor = NewExecutor(
		h.results, h.files, h.rules,
		h.engine, nil, h.sink, h.notifier, h.fanout,
		h.storageRoot, log, tracer, NoopMetrics(),
	)
	h.preparer = NewPreparer(h.dumps, h.plugins, h.extractor, h.executor, h.sink, h.storageRoot, log, tracer)

	// An empty package index keeps symbol-URL suggestions offline and
	// degraded to hint strings.
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body></body></html>"))
	}))
	t.Cleanup(mirror.Close)
	suggester := symbols.NewSuggesterWithMirrors(log, mirror.Client(), mirror.URL+"/ubuntu/", mirror.URL+"/debian/")

	h.gate = NewGate(h.catalog, suggester, log, tracer)
	h.orch = NewOrchestrator(
		h.dumps, h.plugins, h.results,
		h.preparer, h.gate, h.executor, h.pool, h.notifier,
		log, tracer, NoopMetrics(),
	)
	return h
}

// seedDump persists a dump whose upload already sits in the storage root.
func (h *harness) seedDump(t *testing.T, name, index string, os forensics.OperatingSystem, content []byte) *forensics.Dump {
	t.Helper()

	uploadPath := filepath.Join(h.storageRoot, index+"-upload.raw")
	require.NoError(t, writeFile(h.storageRoot, index+"-upload.raw", content))

	dump := forensics.NewDump(uuid.New(), name, index, uploadPath, os, h.userID)
	require.NoError(t, h.dumps.CreateDump(context.Background(), dump))
	return dump
}

func (h *harness) seedPlugin(t *testing.T, plugin forensics.Plugin) {
	t.Helper()
	require.NoError(t, h.plugins.UpsertPlugin(context.Background(), plugin))
}

// seedBannerDetection makes the synchronous banner run detect the given
// banner for the dump.
func (h *harness) seedBannerDetection(t *testing.T, index, banner string) {
	t.Helper()

	h.seedPlugin(t, forensics.Plugin{
		Name:            forensics.BannerPluginName,
		OperatingSystem: forensics.OSLinux,
	})
	h.engine.rows(forensics.BannerPluginName, forensics.Row{"Banner": banner})
	h.sink.mu.Lock()
	h.sink.fields[Partition(index, forensics.BannerPluginName)+"/Banner"] = []string{banner}
	h.sink.mu.Unlock()
}

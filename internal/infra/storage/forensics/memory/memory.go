// Package memory provides in-memory implementations of the forensics
// repositories for tests and single-node experimentation.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/memharbor/memharbor/internal/domain/forensics"
)

var _ forensics.DumpRepository = (*DumpStore)(nil)

// DumpStore is an in-memory dump repository.
type DumpStore struct {
	mu    sync.RWMutex
	dumps map[uuid.UUID]*forensics.Dump
}

// NewDumpStore creates an empty dump store.
func NewDumpStore() *DumpStore {
	return &DumpStore{dumps: make(map[uuid.UUID]*forensics.Dump)}
}

// CreateDump stores a new dump.
func (s *DumpStore) CreateDump(_ context.Context, dump *forensics.Dump) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dumps[dump.ID()] = dump
	return nil
}

// GetDump retrieves a dump by id.
func (s *DumpStore) GetDump(_ context.Context, id uuid.UUID) (*forensics.Dump, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dump, ok := s.dumps[id]
	if !ok {
		return nil, forensics.ErrNotFound
	}
	return dump, nil
}

// UpdateDump persists changes to an existing dump.
func (s *DumpStore) UpdateDump(_ context.Context, dump *forensics.Dump) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dumps[dump.ID()]; !ok {
		return forensics.ErrNotFound
	}
	s.dumps[dump.ID()] = dump
	return nil
}

var _ forensics.PluginRepository = (*PluginStore)(nil)

// PluginStore is an in-memory plugin catalog.
type PluginStore struct {
	mu      sync.RWMutex
	plugins map[string]forensics.Plugin
}

// NewPluginStore creates a plugin store seeded with the given catalog.
func NewPluginStore(plugins ...forensics.Plugin) *PluginStore {
	s := &PluginStore{plugins: make(map[string]forensics.Plugin)}
	for _, p := range plugins {
		s.plugins[p.Name] = p
	}
	return s
}

// UpsertPlugin registers or replaces a plugin.
func (s *PluginStore) UpsertPlugin(_ context.Context, plugin forensics.Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins[plugin.Name] = plugin
	return nil
}

// GetPlugin retrieves a plugin by name.
func (s *PluginStore) GetPlugin(_ context.Context, name string) (forensics.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plugin, ok := s.plugins[name]
	if !ok {
		return forensics.Plugin{}, forensics.ErrNotFound
	}
	return plugin, nil
}

// ListPlugins returns the full catalog ordered by name.
func (s *PluginStore) ListPlugins(_ context.Context) ([]forensics.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plugins := make([]forensics.Plugin, 0, len(s.plugins))
	for _, p := range s.plugins {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name < plugins[j].Name })
	return plugins, nil
}

var _ forensics.ResultRepository = (*ResultStore)(nil)

// ResultStore is an in-memory result repository keyed by (dump, plugin).
type ResultStore struct {
	mu      sync.RWMutex
	results map[uuid.UUID]map[string]*forensics.Result
}

// NewResultStore creates an empty result store.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[uuid.UUID]map[string]*forensics.Result)}
}

// CreateResult stores a new result row.
func (s *ResultStore) CreateResult(_ context.Context, result *forensics.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPlugin, ok := s.results[result.DumpID()]
	if !ok {
		byPlugin = make(map[string]*forensics.Result)
		s.results[result.DumpID()] = byPlugin
	}
	byPlugin[result.PluginName()] = result
	return nil
}

// GetResult retrieves the result for a (dump, plugin) pair.
func (s *ResultStore) GetResult(_ context.Context, dumpID uuid.UUID, pluginName string) (*forensics.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[dumpID][pluginName]
	if !ok {
		return nil, forensics.ErrNotFound
	}
	return result, nil
}

// ListByDump returns every result row belonging to a dump, ordered by plugin
// name.
func (s *ResultStore) ListByDump(_ context.Context, dumpID uuid.UUID) ([]*forensics.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]*forensics.Result, 0, len(s.results[dumpID]))
	for _, r := range s.results[dumpID] {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].PluginName() < results[j].PluginName() })
	return results, nil
}

// UpdateResult persists a result state change.
func (s *ResultStore) UpdateResult(_ context.Context, result *forensics.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[result.DumpID()][result.PluginName()]; !ok {
		return forensics.ErrNotFound
	}
	s.results[result.DumpID()][result.PluginName()] = result
	return nil
}

var _ forensics.ExtractedFileRepository = (*ExtractedFileStore)(nil)

// ExtractedFileStore is an in-memory extracted file repository with the same
// path-uniqueness behavior as the PostgreSQL store.
type ExtractedFileStore struct {
	mu    sync.RWMutex
	files map[string]*forensics.ExtractedFile
}

// NewExtractedFileStore creates an empty extracted file store.
func NewExtractedFileStore() *ExtractedFileStore {
	return &ExtractedFileStore{files: make(map[string]*forensics.ExtractedFile)}
}

// CreateBatch stores a set of extracted files.
func (s *ExtractedFileStore) CreateBatch(_ context.Context, files []forensics.ExtractedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range files {
		f := files[i]
		s.files[f.Path] = &f
	}
	return nil
}

// SetReputation overwrites the reputation report for a file.
func (s *ExtractedFileStore) SetReputation(_ context.Context, resultID uuid.UUID, path string, report []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path]
	if !ok || f.ResultID != resultID {
		return forensics.ErrNotFound
	}
	f.Reputation = report
	return nil
}

// SetRegistryData overwrites the structured re-parse output for a file.
func (s *ExtractedFileStore) SetRegistryData(_ context.Context, resultID uuid.UUID, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path]
	if !ok || f.ResultID != resultID {
		return forensics.ErrNotFound
	}
	f.RegistryData = data
	return nil
}

// ListByResult returns the extracted files owned by a result, ordered by path.
func (s *ExtractedFileStore) ListByResult(_ context.Context, resultID uuid.UUID) ([]forensics.ExtractedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var files []forensics.ExtractedFile
	for _, f := range s.files {
		if f.ResultID == resultID {
			files = append(files, *f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

var _ forensics.RuleRepository = (*RuleStore)(nil)

// RuleStore is an in-memory rule repository.
type RuleStore struct {
	mu    sync.RWMutex
	rules []forensics.CustomRule
}

// NewRuleStore creates a rule store seeded with the given rules.
func NewRuleStore(rules ...forensics.CustomRule) *RuleStore {
	return &RuleStore{rules: rules}
}

// CreateRule stores a new rule.
func (s *RuleStore) CreateRule(_ context.Context, rule forensics.CustomRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
	return nil
}

// GetDefaultRule returns the user's default rule set, or ErrNotFound.
func (s *RuleStore) GetDefaultRule(_ context.Context, userID uuid.UUID) (forensics.CustomRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rules {
		if r.UserID == userID && r.Default {
			return r, nil
		}
	}
	return forensics.CustomRule{}, forensics.ErrNotFound
}

var _ forensics.ServiceRepository = (*ServiceStore)(nil)

// ServiceStore is an in-memory service configuration repository.
type ServiceStore struct {
	mu       sync.RWMutex
	services map[forensics.ServiceKind]forensics.Service
}

// NewServiceStore creates a service store seeded with the given services.
func NewServiceStore(services ...forensics.Service) *ServiceStore {
	s := &ServiceStore{services: make(map[forensics.ServiceKind]forensics.Service)}
	for _, svc := range services {
		s.services[svc.Kind] = svc
	}
	return s
}

// GetService returns the stored configuration for a service kind, or
// ErrNotFound.
func (s *ServiceStore) GetService(_ context.Context, kind forensics.ServiceKind) (forensics.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[kind]
	if !ok {
		return forensics.Service{}, forensics.ErrNotFound
	}
	return svc, nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/pkg/common/logger"
)

// PluginCatalog is the writable plugin store used by catalog synchronization.
type PluginCatalog interface {
	forensics.PluginRepository
	UpsertPlugin(ctx context.Context, plugin forensics.Plugin) error
}

// SyncPluginCatalog registers every plugin the engine knows that is not yet
// in the catalog. Existing rows are left untouched so operator-configured
// capability flags survive engine upgrades.
func SyncPluginCatalog(
	ctx context.Context,
	engine forensics.AnalysisEngine,
	catalog PluginCatalog,
	log *logger.Logger,
) error {
	names, err := engine.ListPlugins(ctx)
	if err != nil {
		return fmt.Errorf("listing engine plugins: %w", err)
	}

	var added int
	for _, name := range names {
		_, err := catalog.GetPlugin(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, forensics.ErrNotFound) {
			return fmt.Errorf("looking up plugin %s: %w", name, err)
		}

		if err := catalog.UpsertPlugin(ctx, defaultPlugin(name)); err != nil {
			return fmt.Errorf("registering plugin %s: %w", name, err)
		}
		added++
	}

	log.Info(ctx, "plugin catalog synchronized", "engine_plugins", len(names), "added", added)
	return nil
}

// defaultPlugin derives the initial catalog entry for a newly discovered
// plugin: the operating system from the name prefix and conservative
// capability defaults that an operator can widen later.
func defaultPlugin(name string) forensics.Plugin {
	plugin := forensics.Plugin{
		Name:            name,
		OperatingSystem: operatingSystemFor(name),
	}

	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "yarascan"):
		plugin.RuleScan = true
	case strings.Contains(lower, "dump"), strings.Contains(lower, "procdump"):
		plugin.LocalExtraction = true
	case strings.Contains(lower, "hivelist"), strings.Contains(lower, "printkey"):
		plugin.LocalExtraction = true
		plugin.StructuredReparse = true
	}
	return plugin
}

func operatingSystemFor(name string) forensics.OperatingSystem {
	switch {
	case strings.HasPrefix(name, "linux."):
		return forensics.OSLinux
	case strings.HasPrefix(name, "windows."):
		return forensics.OSWindows
	case strings.HasPrefix(name, "mac."):
		return forensics.OSMac
	default:
		return forensics.OSOther
	}
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/internal/infra/storage"
)

var _ forensics.PluginRepository = (*pluginStore)(nil)

// pluginStore implements forensics.PluginRepository using PostgreSQL as the
// backing store.
type pluginStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewPluginStore creates a new PostgreSQL-backed plugin repository.
func NewPluginStore(pool *pgxpool.Pool, tracer trace.Tracer) *pluginStore {
	return &pluginStore{db: pool, tracer: tracer}
}

const pluginColumns = `name, operating_system, disabled, local_extraction,
	always_extract, reputation_lookup, antivirus_scan, structured_reparse, rule_scan`

// UpsertPlugin registers a plugin, updating its flags when it already exists.
// Used when synchronizing the catalog with the engine's plugin list.
func (r *pluginStore) UpsertPlugin(ctx context.Context, plugin forensics.Plugin) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("plugin_name", plugin.Name))

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.upsert_plugin", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO plugins (`+pluginColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (name) DO UPDATE SET
				operating_system = EXCLUDED.operating_system,
				disabled = EXCLUDED.disabled,
				local_extraction = EXCLUDED.local_extraction,
				always_extract = EXCLUDED.always_extract,
				reputation_lookup = EXCLUDED.reputation_lookup,
				antivirus_scan = EXCLUDED.antivirus_scan,
				structured_reparse = EXCLUDED.structured_reparse,
				rule_scan = EXCLUDED.rule_scan`,
			plugin.Name,
			plugin.OperatingSystem.String(),
			plugin.Disabled,
			plugin.LocalExtraction,
			plugin.AlwaysExtract,
			plugin.ReputationLookup,
			plugin.AntivirusScan,
			plugin.StructuredReparse,
			plugin.RuleScan,
		)
		if err != nil {
			return fmt.Errorf("UpsertPlugin error: %w", err)
		}
		return nil
	})
}

// GetPlugin retrieves a plugin by name.
func (r *pluginStore) GetPlugin(ctx context.Context, name string) (forensics.Plugin, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("plugin_name", name))

	var plugin forensics.Plugin
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_plugin", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT `+pluginColumns+`
			FROM plugins
			WHERE name = $1`, name)

		p, err := scanPlugin(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return forensics.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("GetPlugin query error: %w", err)
		}
		plugin = p
		return nil
	})
	return plugin, err
}

// ListPlugins returns the full catalog ordered by name.
func (r *pluginStore) ListPlugins(ctx context.Context) ([]forensics.Plugin, error) {
	var plugins []forensics.Plugin
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_plugins", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, `
			SELECT `+pluginColumns+`
			FROM plugins
			ORDER BY name`)
		if err != nil {
			return fmt.Errorf("ListPlugins query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPlugin(rows)
			if err != nil {
				return fmt.Errorf("ListPlugins scan error: %w", err)
			}
			plugins = append(plugins, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return plugins, nil
}

func scanPlugin(row pgx.Row) (forensics.Plugin, error) {
	var (
		p      forensics.Plugin
		osName string
	)
	err := row.Scan(
		&p.Name,
		&osName,
		&p.Disabled,
		&p.LocalExtraction,
		&p.AlwaysExtract,
		&p.ReputationLookup,
		&p.AntivirusScan,
		&p.StructuredReparse,
		&p.RuleScan,
	)
	if err != nil {
		return forensics.Plugin{}, err
	}
	p.OperatingSystem = forensics.OperatingSystem(osName)
	return p, nil
}

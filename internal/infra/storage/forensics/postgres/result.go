package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/internal/infra/storage"
)

var _ forensics.ResultRepository = (*resultStore)(nil)

// resultStore implements forensics.ResultRepository using PostgreSQL as the
// backing store. The unique (dump_id, plugin_name) constraint guarantees at
// most one result row per pair.
type resultStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewResultStore creates a new PostgreSQL-backed result repository.
func NewResultStore(pool *pgxpool.Pool, tracer trace.Tracer) *resultStore {
	return &resultStore{db: pool, tracer: tracer}
}

// CreateResult persists a new result row. The unique pair constraint rejects
// duplicates for the same (dump, plugin).
func (r *resultStore) CreateResult(ctx context.Context, result *forensics.Result) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("dump_id", result.DumpID().String()),
		attribute.String("plugin_name", result.PluginName()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_result", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO results (id, dump_id, plugin_name, status, description, parameters, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			pgtype.UUID{Bytes: result.ID(), Valid: true},
			pgtype.UUID{Bytes: result.DumpID(), Valid: true},
			result.PluginName(),
			result.Status().String(),
			result.Description(),
			[]byte(result.Parameters()),
			result.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("CreateResult insert error: %w", err)
		}
		return nil
	})
}

// GetResult retrieves the result for a (dump, plugin) pair.
func (r *resultStore) GetResult(ctx context.Context, dumpID uuid.UUID, pluginName string) (*forensics.Result, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("dump_id", dumpID.String()),
		attribute.String("plugin_name", pluginName),
	)

	var result *forensics.Result
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_result", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT id, dump_id, plugin_name, status, description, parameters, updated_at
			FROM results
			WHERE dump_id = $1 AND plugin_name = $2`,
			pgtype.UUID{Bytes: dumpID, Valid: true},
			pluginName,
		)

		res, err := scanResult(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return forensics.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("GetResult query error: %w", err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListByDump returns every result row belonging to a dump.
func (r *resultStore) ListByDump(ctx context.Context, dumpID uuid.UUID) ([]*forensics.Result, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("dump_id", dumpID.String()))

	var results []*forensics.Result
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_results_by_dump", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, `
			SELECT id, dump_id, plugin_name, status, description, parameters, updated_at
			FROM results
			WHERE dump_id = $1
			ORDER BY plugin_name`,
			pgtype.UUID{Bytes: dumpID, Valid: true},
		)
		if err != nil {
			return fmt.Errorf("ListByDump query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			res, err := scanResult(rows)
			if err != nil {
				return fmt.Errorf("ListByDump scan error: %w", err)
			}
			results = append(results, res)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateResult persists a result state change.
func (r *resultStore) UpdateResult(ctx context.Context, result *forensics.Result) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("result_id", result.ID().String()),
		attribute.String("status", result.Status().String()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_result", dbAttrs, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `
			UPDATE results
			SET status = $2, description = $3, parameters = $4, updated_at = $5
			WHERE id = $1`,
			pgtype.UUID{Bytes: result.ID(), Valid: true},
			result.Status().String(),
			result.Description(),
			[]byte(result.Parameters()),
			result.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("UpdateResult error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return forensics.ErrNotFound
		}
		return nil
	})
}

func scanResult(row pgx.Row) (*forensics.Result, error) {
	var (
		id          pgtype.UUID
		dumpID      pgtype.UUID
		pluginName  string
		statusName  string
		description string
		parameters  []byte
		updatedAt   pgtype.Timestamptz
	)
	err := row.Scan(&id, &dumpID, &pluginName, &statusName, &description, &parameters, &updatedAt)
	if err != nil {
		return nil, err
	}

	status, err := forensics.ParseResultStatus(statusName)
	if err != nil {
		return nil, err
	}

	return forensics.ReconstructResult(
		uuid.UUID(id.Bytes),
		uuid.UUID(dumpID.Bytes),
		pluginName,
		status,
		description,
		json.RawMessage(parameters),
		updatedAt.Time,
	), nil
}

package postgres

import (
	"context"
	"encoding/json"
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

var _ forensics.ExtractedFileRepository = (*extractedFileStore)(nil)

// extractedFileStore implements forensics.ExtractedFileRepository using
// PostgreSQL as the backing store. The unique path constraint makes the
// (result_id, path) pair an exact-match update key for the asynchronous
// fan-out writers.
type extractedFileStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewExtractedFileStore creates a new PostgreSQL-backed extracted file
// repository.
func NewExtractedFileStore(pool *pgxpool.Pool, tracer trace.Tracer) *extractedFileStore {
	return &extractedFileStore{db: pool, tracer: tracer}
}

// CreateBatch persists a set of extracted files in one transaction.
func (r *extractedFileStore) CreateBatch(ctx context.Context, files []forensics.ExtractedFile) error {
	if len(files) == 0 {
		return nil
	}

	dbAttrs := append(defaultDBAttributes, attribute.Int("file_count", len(files)))

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_extracted_files", dbAttrs, func(ctx context.Context) error {
		tx, err := r.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		for _, f := range files {
			batch.Queue(`
				INSERT INTO extracted_files (result_id, path, sha256, md5, clamav, reputation, registry_data)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				pgtype.UUID{Bytes: f.ResultID, Valid: true},
				f.Path,
				f.SHA256,
				f.MD5,
				f.ClamAV,
				[]byte(f.Reputation),
				[]byte(f.RegistryData),
			)
		}

		results := tx.SendBatch(ctx, batch)
		for range files {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("CreateBatch insert error: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("CreateBatch close error: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// SetReputation overwrites the reputation report for the file identified by
// its owning result and exact path.
func (r *extractedFileStore) SetReputation(ctx context.Context, resultID uuid.UUID, path string, report []byte) error {
	return r.setColumn(ctx, "postgres.set_reputation", "reputation", resultID, path, report)
}

// SetRegistryData overwrites the structured re-parse output for the file
// identified by its owning result and exact path.
func (r *extractedFileStore) SetRegistryData(ctx context.Context, resultID uuid.UUID, path string, data []byte) error {
	return r.setColumn(ctx, "postgres.set_registry_data", "registry_data", resultID, path, data)
}

// setColumn updates one JSONB column on the exact (result_id, path) row.
// The column name comes from a fixed caller-supplied set, never user input.
func (r *extractedFileStore) setColumn(
	ctx context.Context,
	spanName, column string,
	resultID uuid.UUID,
	path string,
	value []byte,
) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("result_id", resultID.String()),
		attribute.String("path", path),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, spanName, dbAttrs, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx,
			fmt.Sprintf(`UPDATE extracted_files SET %s = $3 WHERE result_id = $1 AND path = $2`, column),
			pgtype.UUID{Bytes: resultID, Valid: true},
			path,
			value,
		)
		if err != nil {
			return fmt.Errorf("%s error: %w", spanName, err)
		}
		if tag.RowsAffected() == 0 {
			return forensics.ErrNotFound
		}
		return nil
	})
}

// ListByResult returns the extracted files owned by a result, ordered by path.
func (r *extractedFileStore) ListByResult(ctx context.Context, resultID uuid.UUID) ([]forensics.ExtractedFile, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("result_id", resultID.String()))

	var files []forensics.ExtractedFile
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_extracted_files", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, `
			SELECT result_id, path, sha256, md5, clamav, reputation, registry_data
			FROM extracted_files
			WHERE result_id = $1
			ORDER BY path`,
			pgtype.UUID{Bytes: resultID, Valid: true},
		)
		if err != nil {
			return fmt.Errorf("ListByResult query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				f            forensics.ExtractedFile
				id           pgtype.UUID
				reputation   []byte
				registryData []byte
			)
			if err := rows.Scan(&id, &f.Path, &f.SHA256, &f.MD5, &f.ClamAV, &reputation, &registryData); err != nil {
				return fmt.Errorf("ListByResult scan error: %w", err)
			}
			f.ResultID = uuid.UUID(id.Bytes)
			f.Reputation = json.RawMessage(reputation)
			f.RegistryData = json.RawMessage(registryData)
			files = append(files, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

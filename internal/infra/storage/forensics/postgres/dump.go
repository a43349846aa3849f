// Package postgres implements the forensics domain repositories on top of
// PostgreSQL.
package postgres

import (
	"context"
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

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

var _ forensics.DumpRepository = (*dumpStore)(nil)

// dumpStore implements forensics.DumpRepository using PostgreSQL as the
// backing store.
type dumpStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewDumpStore creates a new PostgreSQL-backed dump repository with tracing
// capabilities.
func NewDumpStore(pool *pgxpool.Pool, tracer trace.Tracer) *dumpStore {
	return &dumpStore{db: pool, tracer: tracer}
}

// CreateDump persists a new dump record.
func (r *dumpStore) CreateDump(ctx context.Context, dump *forensics.Dump) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("dump_id", dump.ID().String()),
		attribute.String("status", dump.Status().String()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_dump", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO dumps (
				id, name, index, operating_system, author_id, status,
				upload_path, banner, missing_symbols, md5, sha256, size,
				suggested_symbol_urls, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			pgtype.UUID{Bytes: dump.ID(), Valid: true},
			dump.Name(),
			dump.Index(),
			dump.OperatingSystem().String(),
			pgtype.UUID{Bytes: dump.AuthorID(), Valid: true},
			dump.Status().String(),
			dump.UploadPath(),
			dump.Banner(),
			dump.MissingSymbols(),
			dump.MD5(),
			dump.SHA256(),
			dump.Size(),
			dump.SuggestedSymbolURLs(),
			dump.CreatedAt(),
			dump.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("CreateDump insert error: %w", err)
		}
		return nil
	})
}

// GetDump retrieves a dump by id.
func (r *dumpStore) GetDump(ctx context.Context, id uuid.UUID) (*forensics.Dump, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("dump_id", id.String()))

	var dump *forensics.Dump
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_dump", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT id, name, index, operating_system, author_id, status,
			       upload_path, banner, missing_symbols, md5, sha256, size,
			       suggested_symbol_urls, created_at, updated_at
			FROM dumps
			WHERE id = $1`,
			pgtype.UUID{Bytes: id, Valid: true},
		)

		var (
			dumpID        pgtype.UUID
			authorID      pgtype.UUID
			name          string
			index         string
			osName        string
			statusName    string
			uploadPath    string
			banner        string
			missing       bool
			md5Sum        string
			sha256Sum     string
			size          int64
			suggestedURLs []string
			createdAt     pgtype.Timestamptz
			updatedAt     pgtype.Timestamptz
		)
		err := row.Scan(
			&dumpID, &name, &index, &osName, &authorID, &statusName,
			&uploadPath, &banner, &missing, &md5Sum, &sha256Sum, &size,
			&suggestedURLs, &createdAt, &updatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return forensics.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("GetDump query error: %w", err)
		}

		status, err := forensics.ParseDumpStatus(statusName)
		if err != nil {
			return fmt.Errorf("GetDump status error: %w", err)
		}

		dump = forensics.ReconstructDump(
			uuid.UUID(dumpID.Bytes),
			name,
			index,
			forensics.OperatingSystem(osName),
			uuid.UUID(authorID.Bytes),
			status,
			uploadPath,
			banner,
			missing,
			md5Sum,
			sha256Sum,
			size,
			suggestedURLs,
			createdAt.Time,
			updatedAt.Time,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dump, nil
}

// UpdateDump persists changes to an existing dump.
func (r *dumpStore) UpdateDump(ctx context.Context, dump *forensics.Dump) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("dump_id", dump.ID().String()),
		attribute.String("status", dump.Status().String()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_dump", dbAttrs, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `
			UPDATE dumps
			SET status = $2,
			    upload_path = $3,
			    banner = $4,
			    missing_symbols = $5,
			    md5 = $6,
			    sha256 = $7,
			    size = $8,
			    suggested_symbol_urls = $9,
			    updated_at = $10
			WHERE id = $1`,
			pgtype.UUID{Bytes: dump.ID(), Valid: true},
			dump.Status().String(),
			dump.UploadPath(),
			dump.Banner(),
			dump.MissingSymbols(),
			dump.MD5(),
			dump.SHA256(),
			dump.Size(),
			dump.SuggestedSymbolURLs(),
			dump.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("UpdateDump error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return forensics.ErrNotFound
		}
		return nil
	})
}

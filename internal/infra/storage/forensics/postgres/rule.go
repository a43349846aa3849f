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

var _ forensics.RuleRepository = (*ruleStore)(nil)

// ruleStore implements forensics.RuleRepository using PostgreSQL as the
// backing store. A partial unique index guarantees at most one default rule
// per user.
type ruleStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewRuleStore creates a new PostgreSQL-backed rule repository.
func NewRuleStore(pool *pgxpool.Pool, tracer trace.Tracer) *ruleStore {
	return &ruleStore{db: pool, tracer: tracer}
}

// CreateRule persists a rule record.
func (r *ruleStore) CreateRule(ctx context.Context, rule forensics.CustomRule) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("rule_id", rule.ID.String()),
		attribute.String("user_id", rule.UserID.String()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_rule", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO custom_rules (id, user_id, name, path, public, is_default)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			pgtype.UUID{Bytes: rule.ID, Valid: true},
			pgtype.UUID{Bytes: rule.UserID, Valid: true},
			rule.Name,
			rule.Path,
			rule.Public,
			rule.Default,
		)
		if err != nil {
			return fmt.Errorf("CreateRule insert error: %w", err)
		}
		return nil
	})
}

// GetDefaultRule returns the user's default rule set, or ErrNotFound.
func (r *ruleStore) GetDefaultRule(ctx context.Context, userID uuid.UUID) (forensics.CustomRule, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("user_id", userID.String()))

	var rule forensics.CustomRule
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_default_rule", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT id, user_id, name, path, public, is_default
			FROM custom_rules
			WHERE user_id = $1 AND is_default`,
			pgtype.UUID{Bytes: userID, Valid: true},
		)

		var id, owner pgtype.UUID
		err := row.Scan(&id, &owner, &rule.Name, &rule.Path, &rule.Public, &rule.Default)
		if errors.Is(err, pgx.ErrNoRows) {
			return forensics.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("GetDefaultRule query error: %w", err)
		}
		rule.ID = uuid.UUID(id.Bytes)
		rule.UserID = uuid.UUID(owner.Bytes)
		return nil
	})
	if err != nil {
		return forensics.CustomRule{}, err
	}
	return rule, nil
}

var _ forensics.ServiceRepository = (*serviceStore)(nil)

// serviceStore implements forensics.ServiceRepository using PostgreSQL as
// the backing store.
type serviceStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewServiceStore creates a new PostgreSQL-backed service repository.
func NewServiceStore(pool *pgxpool.Pool, tracer trace.Tracer) *serviceStore {
	return &serviceStore{db: pool, tracer: tracer}
}

// UpsertService stores or replaces the configuration for a service kind.
func (r *serviceStore) UpsertService(ctx context.Context, svc forensics.Service) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("service_kind", string(svc.Kind)))

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.upsert_service", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO services (kind, url, key, proxy)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (kind) DO UPDATE SET
				url = EXCLUDED.url,
				key = EXCLUDED.key,
				proxy = EXCLUDED.proxy`,
			string(svc.Kind),
			svc.URL,
			svc.Key,
			svc.Proxy,
		)
		if err != nil {
			return fmt.Errorf("UpsertService error: %w", err)
		}
		return nil
	})
}

// GetService returns the stored configuration for a service kind, or
// ErrNotFound when the service is not configured.
func (r *serviceStore) GetService(ctx context.Context, kind forensics.ServiceKind) (forensics.Service, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("service_kind", string(kind)))

	var svc forensics.Service
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_service", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT kind, url, key, proxy
			FROM services
			WHERE kind = $1`,
			string(kind),
		)

		var kindName string
		err := row.Scan(&kindName, &svc.URL, &svc.Key, &svc.Proxy)
		if errors.Is(err, pgx.ErrNoRows) {
			return forensics.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("GetService query error: %w", err)
		}
		svc.Kind = forensics.ServiceKind(kindName)
		return nil
	})
	if err != nil {
		return forensics.Service{}, err
	}
	return svc, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"possync/internal/domain/sync"
)

const entityColumns = `shop_id, entity_type, entity_id, data, revision, deleted, updated_by_device, created_at, updated_at`

// EntityRepository версионируемые документы сущностей в таблице sync_entities.
type EntityRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewEntityRepository(pool *pgxpool.Pool, log *slog.Logger) *EntityRepository {
	return &EntityRepository{
		pool: pool,
		log:  log.With("component", "entity_repository"),
	}
}

func (r *EntityRepository) Get(ctx context.Context, shopID int64, entityType sync.EntityType, entityID string) (*sync.Entity, error) {
	const query = `
		SELECT ` + entityColumns + `
		FROM sync_entities
		WHERE shop_id = $1 AND entity_type = $2 AND entity_id = $3`

	e, err := scanEntity(r.pool.QueryRow(ctx, query, shopID, string(entityType), entityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sync.ErrEntityNotFound
		}
		r.log.Error("failed to get entity",
			"shop_id", shopID, "entity_type", entityType, "entity_id", entityID, "error", err)
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// Save условная запись документа; updated_at берется из часов базы.
func (r *EntityRepository) Save(ctx context.Context, e *sync.Entity, expectedRevision int64) (*sync.Entity, error) {
	var row pgx.Row
	if expectedRevision == 0 {
		const query = `
			INSERT INTO sync_entities (shop_id, entity_type, entity_id, data, revision, deleted, updated_by_device, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6, clock_timestamp(), clock_timestamp())
			ON CONFLICT (shop_id, entity_type, entity_id) DO NOTHING
			RETURNING ` + entityColumns
		row = r.pool.QueryRow(ctx, query,
			e.ShopID, string(e.EntityType), e.EntityID, documentOf(e.Data), e.Deleted, e.UpdatedByDevice)
	} else {
		const query = `
			UPDATE sync_entities
			SET data = $4, deleted = $5, updated_by_device = $6,
			    revision = revision + 1, updated_at = clock_timestamp()
			WHERE shop_id = $1 AND entity_type = $2 AND entity_id = $3 AND revision = $7
			RETURNING ` + entityColumns
		row = r.pool.QueryRow(ctx, query,
			e.ShopID, string(e.EntityType), e.EntityID, documentOf(e.Data), e.Deleted, e.UpdatedByDevice, expectedRevision)
	}

	saved, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sync.ErrRevisionMismatch
		}
		r.log.Error("failed to save entity",
			"shop_id", e.ShopID, "entity_type", e.EntityType, "entity_id", e.EntityID, "error", err)
		return nil, fmt.Errorf("save entity: %w", err)
	}
	return saved, nil
}

// Horizon начало самой старой открытой транзакции базы (или начало запроса, если таких нет).
// updated_at пишется из clock_timestamp() внутри транзакции, поэтому незафиксированная запись
// не может оказаться раньше горизонта. Роли сервиса нужно видеть xact_start чужих сеансов:
// для одной роли это так по умолчанию, иначе нужен pg_read_all_stats.
func (r *EntityRepository) Horizon(ctx context.Context) (time.Time, error) {
	const query = `
		SELECT LEAST(statement_timestamp(), min(xact_start))
		FROM pg_stat_activity
		WHERE datname = current_database()
		  AND backend_type = 'client backend'
		  AND pid <> pg_backend_pid()
		  AND xact_start IS NOT NULL`

	var horizon time.Time
	if err := r.pool.QueryRow(ctx, query).Scan(&horizon); err != nil {
		r.log.Error("failed to read feed horizon", "error", err)
		return time.Time{}, fmt.Errorf("feed horizon: %w", err)
	}
	return horizon.UTC(), nil
}

func (r *EntityRepository) ChangesSince(ctx context.Context, shopID int64, since, until time.Time, types []sync.EntityType, limit int) ([]*sync.Entity, error) {
	const query = `
		SELECT ` + entityColumns + `
		FROM sync_entities
		WHERE shop_id = $1 AND updated_at > $2
		  AND ($5::timestamptz IS NULL OR updated_at < $5)
		  AND (cardinality($3::text[]) = 0 OR entity_type = ANY($3))
		ORDER BY updated_at, entity_type, entity_id
		LIMIT $4`

	var bound *time.Time
	if !until.IsZero() {
		bound = &until
	}

	rows, err := r.pool.Query(ctx, query, shopID, since, typeNames(types), limit, bound)
	if err != nil {
		r.log.Error("failed to read change feed", "shop_id", shopID, "since", since, "until", until, "error", err)
		return nil, fmt.Errorf("changes since: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (r *EntityRepository) ChangesAt(ctx context.Context, shopID int64, at time.Time, types []sync.EntityType) ([]*sync.Entity, error) {
	const query = `
		SELECT ` + entityColumns + `
		FROM sync_entities
		WHERE shop_id = $1 AND updated_at = $2
		  AND (cardinality($3::text[]) = 0 OR entity_type = ANY($3))
		ORDER BY entity_type, entity_id`

	rows, err := r.pool.Query(ctx, query, shopID, at, typeNames(types))
	if err != nil {
		r.log.Error("failed to read change group", "shop_id", shopID, "at", at, "error", err)
		return nil, fmt.Errorf("changes at: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func typeNames(types []sync.EntityType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}

func documentOf(data json.RawMessage) []byte {
	if len(data) == 0 {
		return []byte("{}")
	}
	return data
}

func scanEntities(rows pgx.Rows) ([]*sync.Entity, error) {
	out := make([]*sync.Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntity(row pgx.Row) (*sync.Entity, error) {
	var (
		e          sync.Entity
		entityType string
		data       []byte
	)
	err := row.Scan(&e.ShopID, &entityType, &e.EntityID, &data, &e.Revision, &e.Deleted,
		&e.UpdatedByDevice, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.EntityType = sync.EntityType(entityType)
	e.Data = json.RawMessage(data)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

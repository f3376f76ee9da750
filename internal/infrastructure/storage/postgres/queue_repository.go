package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"possync/internal/domain/sync"
)

var queueColumns = []string{
	"id", "seq", "shop_id", "user_id", "entity_type", "entity_id", "action", "data",
	"payload_hash", "client_timestamp", "device_id", "base_revision", "force_apply",
	"status", "attempts", "last_attempt_at", "next_attempt_at", "error_message", "priority",
	"conflict_data", "resolved_by", "resolved_at", "resolution", "resolved_data",
	"created_at", "processed_at",
}

func columns(prefix string) string {
	if prefix == "" {
		return strings.Join(queueColumns, ", ")
	}
	cols := make([]string, len(queueColumns))
	for i, c := range queueColumns {
		cols[i] = prefix + "." + c
	}
	return strings.Join(cols, ", ")
}

type QueueRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewQueueRepository(pool *pgxpool.Pool, log *slog.Logger) *QueueRepository {
	return &QueueRepository{
		pool: pool,
		log:  log.With("component", "queue_repository"),
	}
}

func (r *QueueRepository) FindByIdempotencyKey(ctx context.Context, key sync.IdempotencyKey) (*sync.QueueItem, error) {
	query := `
		SELECT ` + columns("") + `
		FROM sync_queue
		WHERE shop_id = $1 AND device_id = $2 AND entity_type = $3
		  AND entity_id = $4 AND client_timestamp = $5`

	item, err := scanItem(r.pool.QueryRow(ctx, query,
		key.ShopID, key.DeviceID, string(key.EntityType), key.EntityID, key.ClientTimestamp))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sync.ErrItemNotFound
		}
		r.log.Error("failed to find by idempotency key", "shop_id", key.ShopID, "device_id", key.DeviceID, "error", err)
		return nil, fmt.Errorf("find by idempotency key: %w", err)
	}
	return item, nil
}

func (r *QueueRepository) Enqueue(ctx context.Context, item *sync.QueueItem) (*sync.QueueItem, bool, error) {
	query := `
		INSERT INTO sync_queue (
			id, shop_id, user_id, entity_type, entity_id, action, data, payload_hash,
			client_timestamp, device_id, base_revision, force_apply, status, attempts,
			next_attempt_at, error_message, priority, conflict_data, resolved_by,
			resolved_at, resolution, created_at, processed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (shop_id, device_id, entity_type, entity_id, client_timestamp) DO NOTHING
		RETURNING ` + columns("")

	var resolution *string
	if item.Resolution != nil {
		resolution = ptr(string(*item.Resolution))
	}

	stored, err := scanItem(r.pool.QueryRow(ctx, query,
		item.ID, item.ShopID, item.UserID, string(item.EntityType), item.EntityID, string(item.Action),
		nullJSON(item.Data), item.PayloadHash, item.ClientTimestamp, item.DeviceID, item.BaseRevision,
		item.ForceApply, string(item.Status), item.Attempts, item.NextAttemptAt, item.ErrorMessage,
		item.Priority, nullJSON(item.ConflictData), item.ResolvedBy, item.ResolvedAt, resolution,
		item.CreatedAt, item.ProcessedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, ferr := r.FindByIdempotencyKey(ctx, item.IdempotencyKey())
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	if err != nil {
		r.log.Error("failed to enqueue", "shop_id", item.ShopID, "entity_type", item.EntityType, "entity_id", item.EntityID, "error", err)
		return nil, false, fmt.Errorf("enqueue: %w", err)
	}
	return stored, true, nil
}

func (r *QueueRepository) Get(ctx context.Context, shopID int64, id uuid.UUID) (*sync.QueueItem, error) {
	query := `SELECT ` + columns("") + ` FROM sync_queue WHERE id = $1 AND shop_id = $2`

	item, err := scanItem(r.pool.QueryRow(ctx, query, id, shopID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sync.ErrItemNotFound
		}
		r.log.Error("failed to get queue item", "item_id", id, "shop_id", shopID, "error", err)
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// ClaimNext выбирает следующий элемент в порядке priority DESC, created_at, seq, пропуская
// сущности, по которым уже идет применение или есть более раннее ожидающее изменение.
// Гонку двух процессов за одну сущность разрешает частичный уникальный индекс по processing.
func (r *QueueRepository) ClaimNext(ctx context.Context, filter sync.ClaimFilter, now time.Time) (*sync.QueueItem, error) {
	query := `
		WITH next AS (
			SELECT q.id
			FROM sync_queue q
			WHERE q.status = 'pending'
			  AND q.next_attempt_at <= $1
			  AND ($2::bigint IS NULL OR q.shop_id = $2)
			  AND NOT EXISTS (
				SELECT 1 FROM sync_queue o
				WHERE o.shop_id = q.shop_id
				  AND o.entity_type = q.entity_type
				  AND o.entity_id = q.entity_id
				  AND o.id <> q.id
				  AND (o.status = 'processing'
				       OR (o.status = 'pending' AND (o.created_at, o.seq) < (q.created_at, q.seq)))
			  )
			ORDER BY q.priority DESC, q.created_at, q.seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE sync_queue s
		SET status = 'processing', attempts = s.attempts + 1, last_attempt_at = $1
		FROM next
		WHERE s.id = next.id AND s.status = 'pending'
		RETURNING ` + columns("s")

	item, err := scanItem(r.pool.QueryRow(ctx, query, now, filter.ShopID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case isUniqueViolation(err):
		r.log.Debug("claim lost race for entity", "error", err)
		return nil, sync.ErrEntityBusy
	case err != nil:
		r.log.Error("failed to claim queue item", "error", err)
		return nil, fmt.Errorf("claim next: %w", err)
	}
	return item, nil
}

func (r *QueueRepository) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	const query = `
		UPDATE sync_queue
		SET status = 'completed', processed_at = $2, error_message = ''
		WHERE id = $1 AND status = 'processing'`

	tag, err := r.pool.Exec(ctx, query, id, at)
	return r.checkTransition(ctx, id, "complete", tag, err)
}

func (r *QueueRepository) Retry(ctx context.Context, id uuid.UUID, errMsg string, nextAttemptAt time.Time) error {
	const query = `
		UPDATE sync_queue
		SET status = 'pending', error_message = $2, next_attempt_at = $3
		WHERE id = $1 AND status = 'processing'`

	tag, err := r.pool.Exec(ctx, query, id, errMsg, nextAttemptAt)
	return r.checkTransition(ctx, id, "retry", tag, err)
}

func (r *QueueRepository) Fail(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	const query = `
		UPDATE sync_queue
		SET status = 'failed', error_message = $2, processed_at = $3
		WHERE id = $1 AND status = 'processing'`

	tag, err := r.pool.Exec(ctx, query, id, errMsg, at)
	return r.checkTransition(ctx, id, "fail", tag, err)
}

func (r *QueueRepository) MarkConflict(ctx context.Context, id uuid.UUID, snapshot json.RawMessage, errMsg string) error {
	const query = `
		UPDATE sync_queue
		SET status = 'conflict', conflict_data = $2, error_message = $3,
		    resolution = NULL, resolved_by = NULL, resolved_at = NULL
		WHERE id = $1 AND status = 'processing'`

	tag, err := r.pool.Exec(ctx, query, id, []byte(snapshot), errMsg)
	return r.checkTransition(ctx, id, "mark conflict", tag, err)
}

func (r *QueueRepository) ResolveConflict(ctx context.Context, id uuid.UUID, res sync.ConflictResolution) error {
	const query = `
		UPDATE sync_queue
		SET status = 'completed', processed_at = $2, resolution = $3, resolved_by = $4,
		    resolved_at = $2, resolved_data = COALESCE($5, resolved_data)
		WHERE id = $1 AND status = 'conflict'`

	tag, err := r.pool.Exec(ctx, query, id, res.ResolvedAt, string(res.Resolution), res.ResolvedBy, nullJSON(res.Data))
	return r.checkTransition(ctx, id, "resolve conflict", tag, err)
}

func (r *QueueRepository) BeginResolution(ctx context.Context, id uuid.UUID, res sync.ConflictResolution) (*sync.QueueItem, error) {
	query := `
		UPDATE sync_queue
		SET status = 'processing', attempts = attempts + 1, last_attempt_at = $2,
		    force_apply = TRUE, resolution = $3, resolved_by = $4, resolved_at = $2,
		    resolved_data = COALESCE($5, resolved_data)
		WHERE id = $1 AND status = 'conflict'
		RETURNING ` + columns("")

	item, err := scanItem(r.pool.QueryRow(ctx, query, id, res.ResolvedAt, string(res.Resolution), res.ResolvedBy, nullJSON(res.Data)))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, r.missingOrInvalid(ctx, id)
	case isUniqueViolation(err):
		return nil, sync.ErrEntityBusy
	case err != nil:
		r.log.Error("failed to begin resolution", "item_id", id, "error", err)
		return nil, fmt.Errorf("begin resolution: %w", err)
	}
	return item, nil
}

func (r *QueueRepository) ReleaseStale(ctx context.Context, olderThan time.Time) (int, error) {
	const query = `
		UPDATE sync_queue
		SET status = 'pending', next_attempt_at = $1, error_message = 'processing lease expired'
		WHERE status = 'processing' AND last_attempt_at < $1`

	tag, err := r.pool.Exec(ctx, query, olderThan)
	if err != nil {
		r.log.Error("failed to release stale items", "error", err)
		return 0, fmt.Errorf("release stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *QueueRepository) List(ctx context.Context, shopID int64, filter sync.ListFilter) ([]*sync.QueueItem, error) {
	query := `SELECT ` + columns("") + ` FROM sync_queue WHERE shop_id = $1`
	args := []any{shopID}
	argIndex := 2

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argIndex)
		args = append(args, statuses)
		argIndex++
	}

	if filter.Order == sync.OrderQueue {
		query += " ORDER BY priority DESC, created_at, seq"
	} else {
		query += " ORDER BY created_at DESC, seq DESC"
	}

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to list queue items", "shop_id", shopID, "error", err)
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items := make([]*sync.QueueItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *QueueRepository) Summary(ctx context.Context, shopID int64) (*sync.Summary, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'conflict'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			MAX(processed_at) FILTER (WHERE status = 'completed')
		FROM sync_queue
		WHERE shop_id = $1`

	var sum sync.Summary
	err := r.pool.QueryRow(ctx, query, shopID).Scan(
		&sum.Pending, &sum.Processing, &sum.Conflicts, &sum.Failed, &sum.Completed, &sum.LastSyncAt,
	)
	if err != nil {
		r.log.Error("failed to summarize queue", "shop_id", shopID, "error", err)
		return nil, fmt.Errorf("queue summary: %w", err)
	}
	return &sum, nil
}

func (r *QueueRepository) checkTransition(ctx context.Context, id uuid.UUID, op string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		r.log.Error("failed to update queue item", "op", op, "item_id", id, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrInvalid(ctx, id)
	}
	return nil
}

func (r *QueueRepository) missingOrInvalid(ctx context.Context, id uuid.UUID) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM sync_queue WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return sync.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("check queue item status: %w", err)
	}
	return fmt.Errorf("%w: item is %s", sync.ErrInvalidTransition, status)
}

func scanItem(row pgx.Row) (*sync.QueueItem, error) {
	var (
		item                             sync.QueueItem
		entityType, action, status       string
		resolution                       *string
		data, conflictData, resolvedData []byte
	)

	err := row.Scan(
		&item.ID, &item.Seq, &item.ShopID, &item.UserID, &entityType, &item.EntityID, &action, &data,
		&item.PayloadHash, &item.ClientTimestamp, &item.DeviceID, &item.BaseRevision, &item.ForceApply,
		&status, &item.Attempts, &item.LastAttemptAt, &item.NextAttemptAt, &item.ErrorMessage, &item.Priority,
		&conflictData, &item.ResolvedBy, &item.ResolvedAt, &resolution, &resolvedData,
		&item.CreatedAt, &item.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	item.EntityType = sync.EntityType(entityType)
	item.Action = sync.Action(action)
	item.Status = sync.Status(status)
	if resolution != nil {
		item.Resolution = ptr(sync.Resolution(*resolution))
	}
	item.Data = json.RawMessage(data)
	item.ConflictData = json.RawMessage(conflictData)
	item.ResolvedData = json.RawMessage(resolvedData)
	return &item, nil
}

func ptr[T any](v T) *T {
	return &v
}

package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "possync/internal/domain/sync"
)

// QueueRepository хранит очередь синхронизации в памяти процесса.
type QueueRepository struct {
	mu    sync.Mutex
	seq   int64
	items map[uuid.UUID]*domain.QueueItem
	keys  map[domain.IdempotencyKey]uuid.UUID
}

func NewQueueRepository() *QueueRepository {
	return &QueueRepository{
		items: make(map[uuid.UUID]*domain.QueueItem),
		keys:  make(map[domain.IdempotencyKey]uuid.UUID),
	}
}

func (r *QueueRepository) FindByIdempotencyKey(_ context.Context, key domain.IdempotencyKey) (*domain.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.keys[normalizeKey(key)]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	return clone(r.items[id]), nil
}

func (r *QueueRepository) Enqueue(_ context.Context, item *domain.QueueItem) (*domain.QueueItem, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalizeKey(item.IdempotencyKey())
	if id, ok := r.keys[key]; ok {
		return clone(r.items[id]), false, nil
	}

	stored := clone(item)
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	r.seq++
	stored.Seq = r.seq
	r.items[stored.ID] = stored
	r.keys[key] = stored.ID
	return clone(stored), true, nil
}

func (r *QueueRepository) Get(_ context.Context, shopID int64, id uuid.UUID) (*domain.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok || item.ShopID != shopID {
		return nil, domain.ErrItemNotFound
	}
	return clone(item), nil
}

func (r *QueueRepository) ClaimNext(_ context.Context, filter domain.ClaimFilter, now time.Time) (*domain.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *domain.QueueItem
	for _, item := range r.items {
		if item.Status != domain.StatusPending || item.NextAttemptAt.After(now) {
			continue
		}
		if filter.ShopID != nil && item.ShopID != *filter.ShopID {
			continue
		}
		if r.entityBlocked(item) {
			continue
		}
		if next == nil || queueLess(item, next) {
			next = item
		}
	}
	if next == nil {
		return nil, nil
	}

	next.Status = domain.StatusProcessing
	next.Attempts++
	next.LastAttemptAt = ptr(now)
	return clone(next), nil
}

// entityBlocked по сущности уже идет применение или в очереди есть более раннее изменение.
func (r *QueueRepository) entityBlocked(item *domain.QueueItem) bool {
	for _, other := range r.items {
		if other.ID == item.ID || other.ShopID != item.ShopID ||
			other.EntityType != item.EntityType || other.EntityID != item.EntityID {
			continue
		}
		if other.Status == domain.StatusProcessing {
			return true
		}
		if other.Status == domain.StatusPending && fifoLess(other, item) {
			return true
		}
	}
	return false
}

func (r *QueueRepository) Complete(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.transition(id, domain.StatusProcessing, func(item *domain.QueueItem) {
		item.Status = domain.StatusCompleted
		item.ProcessedAt = ptr(at)
		item.ErrorMessage = ""
	})
}

func (r *QueueRepository) Retry(_ context.Context, id uuid.UUID, errMsg string, nextAttemptAt time.Time) error {
	return r.transition(id, domain.StatusProcessing, func(item *domain.QueueItem) {
		item.Status = domain.StatusPending
		item.ErrorMessage = errMsg
		item.NextAttemptAt = nextAttemptAt
	})
}

func (r *QueueRepository) Fail(_ context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	return r.transition(id, domain.StatusProcessing, func(item *domain.QueueItem) {
		item.Status = domain.StatusFailed
		item.ErrorMessage = errMsg
		item.ProcessedAt = ptr(at)
	})
}

func (r *QueueRepository) MarkConflict(_ context.Context, id uuid.UUID, snapshot json.RawMessage, errMsg string) error {
	return r.transition(id, domain.StatusProcessing, func(item *domain.QueueItem) {
		item.Status = domain.StatusConflict
		item.ConflictData = snapshot
		item.ErrorMessage = errMsg
		item.Resolution = nil
		item.ResolvedBy = nil
		item.ResolvedAt = nil
	})
}

func (r *QueueRepository) ResolveConflict(_ context.Context, id uuid.UUID, res domain.ConflictResolution) error {
	return r.transition(id, domain.StatusConflict, func(item *domain.QueueItem) {
		item.Status = domain.StatusCompleted
		item.ProcessedAt = ptr(res.ResolvedAt)
		setResolution(item, res)
	})
}

func (r *QueueRepository) BeginResolution(_ context.Context, id uuid.UUID, res domain.ConflictResolution) (*domain.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	if item.Status != domain.StatusConflict {
		return nil, domain.ErrInvalidTransition
	}
	for _, other := range r.items {
		if other.Status == domain.StatusProcessing && other.ShopID == item.ShopID &&
			other.EntityType == item.EntityType && other.EntityID == item.EntityID {
			return nil, domain.ErrEntityBusy
		}
	}

	item.Status = domain.StatusProcessing
	item.Attempts++
	item.LastAttemptAt = ptr(res.ResolvedAt)
	item.ForceApply = true
	setResolution(item, res)
	return clone(item), nil
}

func (r *QueueRepository) ReleaseStale(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for _, item := range r.items {
		if item.Status != domain.StatusProcessing || item.LastAttemptAt == nil || !item.LastAttemptAt.Before(olderThan) {
			continue
		}
		item.Status = domain.StatusPending
		item.NextAttemptAt = olderThan
		item.ErrorMessage = "processing lease expired"
		released++
	}
	return released, nil
}

func (r *QueueRepository) List(_ context.Context, shopID int64, filter domain.ListFilter) ([]*domain.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.QueueItem, 0)
	for _, item := range r.items {
		if item.ShopID != shopID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, item.Status) {
			continue
		}
		out = append(out, clone(item))
	}

	slices.SortFunc(out, func(a, b *domain.QueueItem) int {
		if filter.Order == domain.OrderQueue {
			if queueLess(a, b) {
				return -1
			}
			return 1
		}
		if fifoLess(a, b) {
			return 1
		}
		return -1
	})

	if filter.Offset >= len(out) {
		return []*domain.QueueItem{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *QueueRepository) Summary(_ context.Context, shopID int64) (*domain.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sum := &domain.Summary{}
	for _, item := range r.items {
		if item.ShopID != shopID {
			continue
		}
		switch item.Status {
		case domain.StatusPending:
			sum.Pending++
		case domain.StatusProcessing:
			sum.Processing++
		case domain.StatusConflict:
			sum.Conflicts++
		case domain.StatusFailed:
			sum.Failed++
		case domain.StatusCompleted:
			sum.Completed++
			if item.ProcessedAt != nil && (sum.LastSyncAt == nil || item.ProcessedAt.After(*sum.LastSyncAt)) {
				sum.LastSyncAt = ptr(*item.ProcessedAt)
			}
		}
	}
	return sum, nil
}

func (r *QueueRepository) transition(id uuid.UUID, from domain.Status, apply func(*domain.QueueItem)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return domain.ErrItemNotFound
	}
	if item.Status != from {
		return domain.ErrInvalidTransition
	}
	apply(item)
	return nil
}

func setResolution(item *domain.QueueItem, res domain.ConflictResolution) {
	item.Resolution = ptr(res.Resolution)
	item.ResolvedBy = ptr(res.ResolvedBy)
	item.ResolvedAt = ptr(res.ResolvedAt)
	if len(res.Data) > 0 {
		item.ResolvedData = res.Data
	}
}

// queueLess порядок обработки: priority DESC, created_at ASC, seq ASC.
func queueLess(a, b *domain.QueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return fifoLess(a, b)
}

func fifoLess(a, b *domain.QueueItem) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

func normalizeKey(key domain.IdempotencyKey) domain.IdempotencyKey {
	key.ClientTimestamp = key.ClientTimestamp.UTC()
	return key
}

func clone(item *domain.QueueItem) *domain.QueueItem {
	c := *item
	return &c
}

func ptr[T any](v T) *T {
	return &v
}

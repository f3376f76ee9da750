package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	domain "possync/internal/domain/sync"
)

type entityKey struct {
	shopID     int64
	entityType domain.EntityType
	entityID   string
}

// EntityStore хранилище документов сущностей в памяти; реализует entity.Store и sync.ChangeFeed.
type EntityStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	entities map[entityKey]*domain.Entity
}

// NewEntityStore создает хранилище; now задает время изменений (nil означает time.Now).
func NewEntityStore(now func() time.Time) *EntityStore {
	if now == nil {
		now = time.Now
	}
	return &EntityStore{now: now, entities: make(map[entityKey]*domain.Entity)}
}

func (s *EntityStore) Get(_ context.Context, shopID int64, entityType domain.EntityType, entityID string) (*domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[entityKey{shopID, entityType, entityID}]
	if !ok {
		return nil, domain.ErrEntityNotFound
	}
	return cloneEntity(e), nil
}

func (s *EntityStore) Save(_ context.Context, e *domain.Entity, expectedRevision int64) (*domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{e.ShopID, e.EntityType, e.EntityID}
	current, exists := s.entities[key]

	currentRev := int64(0)
	if exists {
		currentRev = current.Revision
	}
	if currentRev != expectedRevision {
		return nil, domain.ErrRevisionMismatch
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	saved := cloneEntity(e)
	saved.Revision = currentRev + 1
	saved.UpdatedAt = now
	saved.CreatedAt = now
	if exists {
		saved.CreatedAt = current.CreatedAt
	}
	s.entities[key] = saved
	return cloneEntity(saved), nil
}

// Horizon в памяти запись видна сразу после Save, поэтому горизонта нет.
func (s *EntityStore) Horizon(context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (s *EntityStore) ChangesSince(_ context.Context, shopID int64, since, until time.Time, types []domain.EntityType, limit int) ([]*domain.Entity, error) {
	out := s.collect(shopID, types, func(e *domain.Entity) bool {
		return e.UpdatedAt.After(since) && (until.IsZero() || e.UpdatedAt.Before(until))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *EntityStore) ChangesAt(_ context.Context, shopID int64, at time.Time, types []domain.EntityType) ([]*domain.Entity, error) {
	return s.collect(shopID, types, func(e *domain.Entity) bool { return e.UpdatedAt.Equal(at) }), nil
}

func (s *EntityStore) collect(shopID int64, types []domain.EntityType, match func(*domain.Entity) bool) []*domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Entity, 0)
	for _, e := range s.entities {
		if e.ShopID != shopID || !match(e) {
			continue
		}
		if len(types) > 0 && !slices.Contains(types, e.EntityType) {
			continue
		}
		out = append(out, cloneEntity(e))
	}
	slices.SortFunc(out, compareChanges)
	return out
}

// compareChanges порядок ленты: updated_at, entity_type, entity_id.
func compareChanges(a, b *domain.Entity) int {
	if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
		return c
	}
	if a.EntityType != b.EntityType {
		if a.EntityType < b.EntityType {
			return -1
		}
		return 1
	}
	switch {
	case a.EntityID < b.EntityID:
		return -1
	case a.EntityID > b.EntityID:
		return 1
	}
	return 0
}

func cloneEntity(e *domain.Entity) *domain.Entity {
	c := *e
	return &c
}

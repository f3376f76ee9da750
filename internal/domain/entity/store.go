package entity

import (
	"context"

	"possync/internal/domain/sync"
)

// Store хранилище версионируемых документов сущностей.
//
// Save выполняет условную запись: expectedRevision=0 означает, что сущности еще нет,
// иначе запись проходит только если текущая ревизия равна expectedRevision.
// При несовпадении возвращается sync.ErrRevisionMismatch. Ревизия увеличивается на единицу,
// updated_at выставляет хранилище.
type Store interface {
	Get(ctx context.Context, shopID int64, entityType sync.EntityType, entityID string) (*sync.Entity, error)
	Save(ctx context.Context, e *sync.Entity, expectedRevision int64) (*sync.Entity, error)
}

package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"possync/internal/domain/sync"
)

// forcedWriteRetries сколько раз принудительная запись перечитывает сущность после проигранной гонки.
const forcedWriteRetries = 3

// Validator проверяет итоговый документ сущности перед записью.
type Validator func(action sync.Action, doc map[string]json.RawMessage) error

// Adapter применяет изменения одного типа сущностей поверх общего хранилища документов.
type Adapter struct {
	entityType sync.EntityType
	store      Store
	validate   Validator
}

func NewAdapter(entityType sync.EntityType, store Store, validate Validator) *Adapter {
	return &Adapter{entityType: entityType, store: store, validate: validate}
}

// NewAppliers регистрирует адаптеры для всех известных типов сущностей.
func NewAppliers(store Store) sync.Appliers {
	appliers := make(sync.Appliers, len(sync.EntityTypes))
	for _, t := range sync.EntityTypes {
		appliers[t] = NewAdapter(t, store, Validators[t])
	}
	return appliers
}

func (a *Adapter) Current(ctx context.Context, shopID int64, entityID string) (*sync.Entity, error) {
	return a.store.Get(ctx, shopID, a.entityType, entityID)
}

// Apply create заменяет документ целиком (в том числе восстанавливает удаленный),
// update сливает поля верхнего уровня, delete помечает сущность удаленной.
// Повторное удаление и удаление несуществующей сущности ничего не меняют.
func (a *Adapter) Apply(ctx context.Context, req sync.ApplyRequest) (*sync.Entity, error) {
	if req.ExpectedRevision != nil {
		return a.applyOnce(ctx, req, req.ExpectedRevision)
	}

	var (
		saved *sync.Entity
		err   error
	)
	for i := 0; i < forcedWriteRetries; i++ {
		saved, err = a.applyOnce(ctx, req, nil)
		if !errors.Is(err, sync.ErrRevisionMismatch) {
			return saved, err
		}
	}
	return nil, err
}

func (a *Adapter) applyOnce(ctx context.Context, req sync.ApplyRequest, expected *int64) (*sync.Entity, error) {
	current, err := a.store.Get(ctx, req.ShopID, a.entityType, req.EntityID)
	switch {
	case errors.Is(err, sync.ErrEntityNotFound):
		current = nil
	case err != nil:
		return nil, fmt.Errorf("get %s %s: %w", a.entityType, req.EntityID, err)
	}

	currentRev := int64(0)
	if current != nil {
		currentRev = current.Revision
	}
	if expected != nil && *expected != currentRev {
		return nil, fmt.Errorf("%s %s: expected revision %d, have %d: %w",
			a.entityType, req.EntityID, *expected, currentRev, sync.ErrRevisionMismatch)
	}

	next := &sync.Entity{
		ShopID:          req.ShopID,
		EntityType:      a.entityType,
		EntityID:        req.EntityID,
		UpdatedByDevice: req.DeviceID,
	}

	switch req.Action {
	case sync.ActionCreate:
		doc, err := decodeObject(req.Data)
		if err != nil {
			return nil, sync.Permanent(err)
		}
		if err := a.check(sync.ActionCreate, doc); err != nil {
			return nil, err
		}
		next.Data = compact(req.Data)

	case sync.ActionUpdate:
		if current == nil || current.Deleted {
			return nil, fmt.Errorf("update %s %s: %w", a.entityType, req.EntityID, sync.ErrEntityNotFound)
		}
		merged, err := mergeObjects(current.Data, req.Data)
		if err != nil {
			return nil, sync.Permanent(err)
		}
		if err := a.check(sync.ActionUpdate, merged); err != nil {
			return nil, err
		}
		if next.Data, err = json.Marshal(merged); err != nil {
			return nil, sync.Permanent(err)
		}

	case sync.ActionDelete:
		if current == nil || current.Deleted {
			return current, nil
		}
		next.Data = current.Data
		next.Deleted = true

	default:
		return nil, sync.Permanent(fmt.Errorf("%w: %q", sync.ErrUnknownAction, req.Action))
	}

	saved, err := a.store.Save(ctx, next, currentRev)
	if err != nil {
		return nil, fmt.Errorf("save %s %s: %w", a.entityType, req.EntityID, err)
	}
	return saved, nil
}

func (a *Adapter) check(action sync.Action, doc map[string]json.RawMessage) error {
	if a.validate == nil {
		return nil
	}
	if err := a.validate(action, doc); err != nil {
		return sync.Permanent(fmt.Errorf("invalid %s: %w", a.entityType, err))
	}
	return nil
}

func decodeObject(data json.RawMessage) (map[string]json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if doc == nil {
		return nil, errors.New("payload is not a JSON object")
	}
	return doc, nil
}

// mergeObjects сливает поля верхнего уровня patch поверх base; null в patch удаляет поле.
func mergeObjects(base, patch json.RawMessage) (map[string]json.RawMessage, error) {
	doc, err := decodeObject(base)
	if err != nil {
		return nil, err
	}
	changes, err := decodeObject(patch)
	if err != nil {
		return nil, err
	}
	for k, v := range changes {
		if string(v) == "null" {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	return doc, nil
}

func compact(data json.RawMessage) json.RawMessage {
	doc, err := decodeObject(data)
	if err != nil {
		return data
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return data
	}
	return out
}

package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ConflictError изменение устарело относительно серверного состояния сущности.
type ConflictError struct {
	Snapshot json.RawMessage
	Reason   string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// executor применяет элемент очереди к сущности. Используется обработчиком очереди и при разрешении конфликтов.
type executor struct {
	appliers Appliers
	locker   Locker
	timeout  time.Duration
}

// apply выполняет применение под блокировкой сущности. Без force сначала проверяется,
// не изменил ли сущность другой клиент после того, как изменение было поставлено в очередь.
func (e *executor) apply(ctx context.Context, item *QueueItem, force bool) (*Entity, error) {
	applier, err := e.appliers.For(item.EntityType)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%s: %w", item.EntityType, err))
	}

	unlock := e.locker.Lock(item.LockKey())
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := ApplyRequest{
		ShopID:   item.ShopID,
		EntityID: item.EntityID,
		Action:   item.Action,
		Data:     item.Payload(),
		DeviceID: item.DeviceID,
	}

	if !force {
		current, err := applier.Current(ctx, item.ShopID, item.EntityID)
		switch {
		case errors.Is(err, ErrEntityNotFound):
			if item.Action == ActionCreate {
				zero := int64(0)
				req.ExpectedRevision = &zero
			}
		case err != nil:
			return nil, fmt.Errorf("load current %s: %w", item.EntityType, err)
		default:
			if stale, reason := staleAtApply(item, current); stale {
				return nil, &ConflictError{Snapshot: current.Snapshot(), Reason: reason}
			}
			rev := current.Revision
			req.ExpectedRevision = &rev
		}
	}

	entity, err := applier.Apply(ctx, req)
	if errors.Is(err, ErrRevisionMismatch) {
		snapshot := json.RawMessage("null")
		if current, cerr := applier.Current(ctx, item.ShopID, item.EntityID); cerr == nil {
			snapshot = current.Snapshot()
		}
		return nil, &ConflictError{Snapshot: snapshot, Reason: "entity was modified concurrently"}
	}
	if err != nil {
		return nil, fmt.Errorf("apply %s %s: %w", item.Action, item.EntityType, err)
	}
	return entity, nil
}

// staleAtApply сущность ушла вперед от ревизии, зафиксированной при постановке в очередь, и ее менял другой клиент.
func staleAtApply(item *QueueItem, current *Entity) (bool, string) {
	if item.BaseRevision == nil || current.UpdatedByDevice == item.DeviceID {
		return false, ""
	}
	if current.Revision > *item.BaseRevision {
		return true, fmt.Sprintf("entity revision advanced from %d to %d by device %q",
			*item.BaseRevision, current.Revision, current.UpdatedByDevice)
	}
	return false, ""
}

package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const maxEntityIDLength = 255

// Push принимает пакет изменений устройства. Каждое изменение обрабатывается независимо
// и в порядке отправки; бизнес-сущности при этом не меняются.
func (s *Service) Push(ctx context.Context, req PushRequest) (*PushResult, error) {
	if req.ShopID == 0 {
		return nil, ErrNoShop
	}
	if req.DeviceID == "" {
		verr := &ValidationError{}
		verr.add("device_id", "device_id is required", nil)
		return nil, verr
	}

	log := s.log.With("shop_id", req.ShopID, "device_id", req.DeviceID)
	result := &PushResult{Results: make([]ChangeResult, 0, len(req.Changes))}

	for i, change := range req.Changes {
		res, err := s.pushOne(ctx, req, i, change)
		if err != nil {
			log.Error("failed to push change", "index", i, "entity_type", change.EntityType, "entity_id", change.EntityID, "error", err)
			return nil, fmt.Errorf("push change %d: %w", i, err)
		}
		result.add(res)
	}

	s.touchDevice(ctx, req.ShopID, req.DeviceID, req.UserID, ActivityPush)

	log.Info("push processed",
		"changes", len(req.Changes),
		"enqueued", result.Enqueued,
		"duplicates", result.Duplicates,
		"conflicts", result.Conflicts,
		"rejected", result.Rejected,
	)

	if s.cfg.ProcessAfterPush && s.drainer != nil && result.Enqueued+result.Conflicts > 0 {
		if n, err := s.drainer.Drain(ctx, req.ShopID); err != nil {
			log.Warn("failed to drain queue after push", "processed", n, "error", err)
		}
	}

	return result, nil
}

func (s *Service) pushOne(ctx context.Context, req PushRequest, index int, c Change) (ChangeResult, error) {
	res := ChangeResult{Index: index, EntityType: c.EntityType, EntityID: c.EntityID}

	item, verr := s.buildItem(req, c)
	if verr != nil {
		res.Outcome = OutcomeRejected
		res.Errors = verr.Fields
		return res, nil
	}

	existing, err := s.queue.FindByIdempotencyKey(ctx, item.IdempotencyKey())
	switch {
	case err == nil:
		return duplicateResult(res, existing, item), nil
	case !errors.Is(err, ErrItemNotFound):
		return res, fmt.Errorf("find by idempotency key: %w", err)
	}

	applier, err := s.appliers.For(item.EntityType)
	if err != nil {
		res.Outcome = OutcomeRejected
		res.Errors = []FieldError{{Field: "entity_type", Message: err.Error(), Value: c.EntityType}}
		return res, nil
	}

	current, err := applier.Current(ctx, item.ShopID, item.EntityID)
	switch {
	case errors.Is(err, ErrEntityNotFound):
		current = nil
	case err != nil:
		return res, fmt.Errorf("load current %s: %w", item.EntityType, err)
	}

	stale, reason := stalePush(item, current, req.LastSyncTimestamp)
	if stale {
		item.Status = StatusConflict
		item.ConflictData = current.Snapshot()
		item.ErrorMessage = reason
		s.autoResolve(item)
	}
	if !stale || item.BaseRevision == nil {
		observed := int64(0)
		if current != nil {
			observed = current.Revision
		}
		item.BaseRevision = ptr(observed)
	}

	stored, created, err := s.queue.Enqueue(ctx, item)
	if err != nil {
		return res, fmt.Errorf("enqueue: %w", err)
	}
	if !created {
		return duplicateResult(res, stored, item), nil
	}

	res.ItemID = ptr(stored.ID)
	res.Status = stored.Status
	res.Resolution = stored.Resolution
	if stale {
		res.Outcome = OutcomeConflict
		s.log.Info("conflict detected at push",
			"shop_id", item.ShopID,
			"item_id", stored.ID,
			"entity_type", item.EntityType,
			"entity_id", item.EntityID,
			"reason", reason,
			"status", stored.Status,
		)
	} else {
		res.Outcome = OutcomeEnqueued
	}
	return res, nil
}

// buildItem проверяет изменение и строит элемент очереди в статусе pending.
func (s *Service) buildItem(req PushRequest, c Change) (*QueueItem, *ValidationError) {
	verr := &ValidationError{}

	entityType, err := ParseEntityType(c.EntityType)
	if err != nil {
		verr.add("entity_type", err.Error(), c.EntityType)
	}
	action, err := ParseAction(c.Action)
	if err != nil {
		verr.add("action", err.Error(), c.Action)
	}

	switch {
	case c.EntityID == "":
		verr.add("entity_id", "entity_id is required", nil)
	case len(c.EntityID) > maxEntityIDLength:
		verr.add("entity_id", "entity_id must be at most "+strconv.Itoa(maxEntityIDLength)+" characters", nil)
	}

	if c.ClientTimestamp == nil || c.ClientTimestamp.IsZero() {
		verr.add("client_timestamp", "client_timestamp is required", nil)
	}

	if action.NeedsData() && !isJSONObject(c.Data) {
		verr.add("data", "data must be a JSON object for "+string(action), nil)
	}

	priority := DefaultPriority
	if c.Priority != nil {
		priority = *c.Priority
		if priority < MinPriority || priority > MaxPriority {
			verr.add("priority", fmt.Sprintf("priority must be between %d and %d", MinPriority, MaxPriority), priority)
		}
	}

	if c.BaseRevision != nil && *c.BaseRevision < 0 {
		verr.add("base_revision", "base_revision must not be negative", *c.BaseRevision)
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}

	var base *int64
	if c.BaseRevision != nil {
		base = ptr(*c.BaseRevision)
	}

	now := s.cfg.now()
	data := c.Data
	if !action.NeedsData() && !isJSONObject(data) {
		data = nil
	}

	return &QueueItem{
		ID:              uuid.New(),
		ShopID:          req.ShopID,
		UserID:          req.UserID,
		EntityType:      entityType,
		EntityID:        c.EntityID,
		Action:          action,
		Data:            data,
		PayloadHash:     PayloadHash(data),
		ClientTimestamp: c.ClientTimestamp.UTC().Truncate(time.Microsecond),
		DeviceID:        req.DeviceID,
		BaseRevision:    base,
		Status:          StatusPending,
		NextAttemptAt:   now,
		Priority:        priority,
		CreatedAt:       now,
	}, nil
}

// stalePush изменение устарело, если сущность существует, последним ее менял другой клиент и
// она новее, чем то, что видело устройство: по ревизии, по контрольной точке pull или по времени изменения.
func stalePush(item *QueueItem, current *Entity, checkpoint *time.Time) (bool, string) {
	if current == nil || current.UpdatedByDevice == item.DeviceID {
		return false, ""
	}
	if item.BaseRevision != nil {
		if current.Revision > *item.BaseRevision {
			return true, fmt.Sprintf("server revision %d is newer than base revision %d", current.Revision, *item.BaseRevision)
		}
		return false, ""
	}
	if checkpoint != nil {
		if current.UpdatedAt.After(*checkpoint) {
			return true, "entity changed on server after device checkpoint " + checkpoint.UTC().Format(time.RFC3339Nano)
		}
		return false, ""
	}
	if current.UpdatedAt.After(item.ClientTimestamp) {
		return true, "entity changed on server after client timestamp " + item.ClientTimestamp.Format(time.RFC3339Nano)
	}
	return false, ""
}

// autoResolve применяет политику автоматического разрешения для типа сущности.
func (s *Service) autoResolve(item *QueueItem) {
	resolution, ok := s.cfg.AutoResolve[item.EntityType]
	if !ok {
		return
	}
	now := s.cfg.now()
	switch resolution {
	case ResolutionServerWins:
		item.Status = StatusCompleted
		item.ProcessedAt = ptr(now)
	case ResolutionClientWins:
		item.Status = StatusPending
		item.ForceApply = true
	default:
		return
	}
	item.Resolution = ptr(resolution)
	item.ResolvedBy = ptr(SystemResolver)
	item.ResolvedAt = ptr(now)
}

func duplicateResult(res ChangeResult, existing, incoming *QueueItem) ChangeResult {
	res.Outcome = OutcomeDuplicate
	res.ItemID = ptr(existing.ID)
	res.Status = existing.Status
	res.Resolution = existing.Resolution
	if existing.PayloadHash != incoming.PayloadHash {
		res.Warning = "payload differs from the originally submitted change; the original is kept"
	}
	return res
}

func isJSONObject(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

func ptr[T any](v T) *T {
	return &v
}

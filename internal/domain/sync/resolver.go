package sync

import (
	"context"
	"fmt"
)

// Resolve разрешает конфликт по решению оператора.
//
// server_wins и manual закрывают элемент без обращения к сущности. client_wins применяет
// исходные данные, merge применяет переданные; оба в обход проверки конфликта и под той же
// блокировкой сущности, что и обработчик очереди.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*QueueItem, error) {
	if req.ShopID == 0 {
		return nil, ErrNoShop
	}

	verr := &ValidationError{}
	if err := req.Resolution.Validate(); err != nil {
		verr.add("resolution", err.Error(), string(req.Resolution))
	}
	if req.Resolution == ResolutionMerge && !isJSONObject(req.Data) {
		verr.add("data", "merge resolution requires data as a JSON object", nil)
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	item, err := s.getItem(ctx, req.ShopID, req.ItemID)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusConflict {
		return nil, fmt.Errorf("%w: item %s is %s, not in conflict", ErrInvalidTransition, item.ID, item.Status)
	}
	if req.Resolution == ResolutionMerge && item.Action == ActionDelete {
		verr.add("resolution", "merge is not supported for delete changes", string(req.Resolution))
		return nil, verr
	}

	log := s.log.With(
		"shop_id", req.ShopID,
		"item_id", item.ID,
		"entity_type", item.EntityType,
		"entity_id", item.EntityID,
		"resolution", req.Resolution,
		"resolved_by", req.UserID,
	)

	res := ConflictResolution{
		Resolution: req.Resolution,
		ResolvedBy: req.UserID,
		ResolvedAt: s.cfg.now(),
	}
	if req.Resolution == ResolutionMerge {
		res.Data = req.Data
	}

	if !req.Resolution.Reapplies() {
		if err := s.queue.ResolveConflict(ctx, item.ID, res); err != nil {
			return nil, fmt.Errorf("resolve conflict: %w", err)
		}
		log.Info("conflict resolved without re-apply")
		return s.getItem(ctx, req.ShopID, item.ID)
	}

	claimed, err := s.queue.BeginResolution(ctx, item.ID, res)
	if err != nil {
		return nil, fmt.Errorf("begin resolution: %w", err)
	}

	if _, err := s.exec.apply(ctx, claimed, true); err != nil {
		log.Warn("re-apply of resolved conflict failed", "error", err)
		if ferr := s.queue.Fail(ctx, claimed.ID, err.Error(), s.cfg.now()); ferr != nil {
			return nil, fmt.Errorf("mark failed after %v: %w", err, ferr)
		}
		return s.getItem(ctx, req.ShopID, item.ID)
	}

	if err := s.queue.Complete(ctx, claimed.ID, s.cfg.now()); err != nil {
		return nil, fmt.Errorf("complete resolution: %w", err)
	}
	log.Info("conflict resolved")
	return s.getItem(ctx, req.ShopID, item.ID)
}

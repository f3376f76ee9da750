package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Pull возвращает страницу серверных изменений с updated_at > last_sync_timestamp.
//
// Страница никогда не разрывает группу изменений с одинаковым updated_at: курсор строгий,
// и разорванная группа потеряла бы свой хвост. Если одна группа больше лимита, она отдается целиком.
// Изменения не старше горизонта ленты не отдаются: запись, которая еще не зафиксирована,
// могла получить более ранний updated_at, чем уже видимые соседи.
// Pull не меняет состояние очереди и сущностей.
func (s *Service) Pull(ctx context.Context, req PullRequest) (*PullResult, error) {
	if req.ShopID == 0 {
		return nil, ErrNoShop
	}

	verr := &ValidationError{}
	for i, t := range req.EntityTypes {
		if err := t.Validate(); err != nil {
			verr.add("entity_types["+strconv.Itoa(i)+"]", err.Error(), string(t))
		}
	}
	if req.Limit < 0 {
		verr.add("limit", "limit must not be negative", req.Limit)
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = s.cfg.PullLimit
	}
	limit = min(limit, s.cfg.PullMaxLimit)

	since := req.LastSyncTimestamp.UTC()
	until, err := s.feed.Horizon(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed horizon: %w", err)
	}
	rows, err := s.feed.ChangesSince(ctx, req.ShopID, since, until, req.EntityTypes, limit+1)
	if err != nil {
		return nil, fmt.Errorf("changes since %s: %w", since.Format(time.RFC3339Nano), err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows, hasMore, err = s.trimPage(ctx, req, rows, limit, until)
		if err != nil {
			return nil, err
		}
	}

	result := &PullResult{
		Data:      make([]PulledEntity, 0, len(rows)),
		Timestamp: since,
		HasMore:   hasMore,
	}
	for _, e := range rows {
		result.Data = append(result.Data, PulledEntity{
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Data:       e.Data,
			Revision:   e.Revision,
			Deleted:    e.Deleted,
			UpdatedAt:  e.UpdatedAt,
		})
	}
	if n := len(rows); n > 0 {
		result.Timestamp = rows[n-1].UpdatedAt
	}

	s.touchDevice(ctx, req.ShopID, req.DeviceID, req.UserID, ActivityPull)

	return result, nil
}

// trimPage обрезает страницу из limit+1 строк до границы группы с одинаковым updated_at.
// Если вся страница состоит из одной группы, группа дочитывается целиком.
func (s *Service) trimPage(ctx context.Context, req PullRequest, rows []*Entity, limit int, until time.Time) ([]*Entity, bool, error) {
	page := rows[:limit]
	boundary := page[len(page)-1].UpdatedAt
	if !rows[limit].UpdatedAt.Equal(boundary) {
		return page, true, nil
	}

	cut := len(page)
	for cut > 0 && page[cut-1].UpdatedAt.Equal(boundary) {
		cut--
	}
	if cut > 0 {
		return page[:cut], true, nil
	}

	group, err := s.feed.ChangesAt(ctx, req.ShopID, boundary, req.EntityTypes)
	if err != nil {
		return nil, false, fmt.Errorf("changes at %s: %w", boundary.Format(time.RFC3339Nano), err)
	}
	more, err := s.hasChangesAfter(ctx, req, boundary, until)
	if err != nil {
		return nil, false, err
	}
	return group, more, nil
}

func (s *Service) hasChangesAfter(ctx context.Context, req PullRequest, cursor, until time.Time) (bool, error) {
	next, err := s.feed.ChangesSince(ctx, req.ShopID, cursor, until, req.EntityTypes, 1)
	if err != nil {
		return false, fmt.Errorf("changes since %s: %w", cursor.Format(time.RFC3339Nano), err)
	}
	return len(next) > 0, nil
}

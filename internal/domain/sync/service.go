package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Servicer интерфейс сервиса синхронизации
type Servicer interface {
	// Push принимает пакет изменений устройства и ставит их в очередь
	Push(ctx context.Context, req PushRequest) (*PushResult, error)

	// Pull возвращает страницу серверных изменений после контрольной точки
	Pull(ctx context.Context, req PullRequest) (*PullResult, error)

	// Status возвращает сводку по очереди магазина
	Status(ctx context.Context, shopID int64) (*StatusResult, error)

	// Pending возвращает изменения, ожидающие применения
	Pending(ctx context.Context, shopID int64, limit int) ([]*QueueItem, error)

	// Conflicts возвращает неразрешенные конфликты
	Conflicts(ctx context.Context, shopID int64, limit, offset int) ([]*QueueItem, error)

	// History возвращает журнал изменений, опционально по статусу
	History(ctx context.Context, shopID int64, status *Status, limit, offset int) ([]*QueueItem, error)

	// Resolve разрешает конфликт
	Resolve(ctx context.Context, req ResolveRequest) (*QueueItem, error)

	// Devices возвращает устройства магазина
	Devices(ctx context.Context, shopID int64) ([]*Device, error)
}

// Drainer синхронно обрабатывает очередь магазина.
type Drainer interface {
	Drain(ctx context.Context, shopID int64) (int, error)
}

// Dependencies хранилища и адаптеры, с которыми работает сервис.
type Dependencies struct {
	Queue    QueueRepository
	Appliers Appliers
	Feed     ChangeFeed
	Devices  DeviceRepository
	Locker   Locker
}

// Service реализация сервиса синхронизации
type Service struct {
	queue    QueueRepository
	appliers Appliers
	feed     ChangeFeed
	devices  DeviceRepository
	exec     *executor
	drainer  Drainer
	cfg      Config
	log      *slog.Logger
}

// NewService создает новый сервис синхронизации
func NewService(deps Dependencies, cfg Config, log *slog.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		queue:    deps.Queue,
		appliers: deps.Appliers,
		feed:     deps.Feed,
		devices:  deps.Devices,
		exec:     &executor{appliers: deps.Appliers, locker: deps.Locker, timeout: cfg.ApplyTimeout},
		cfg:      cfg,
		log:      log.With("component", "sync_service"),
	}
}

// SetDrainer включает синхронную обработку очереди после push, если она разрешена настройками.
func (s *Service) SetDrainer(d Drainer) {
	s.drainer = d
}

// Status возвращает сводку по очереди магазина
func (s *Service) Status(ctx context.Context, shopID int64) (*StatusResult, error) {
	if shopID == 0 {
		return nil, ErrNoShop
	}
	sum, err := s.queue.Summary(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("queue summary: %w", err)
	}
	return &StatusResult{
		Pending:    sum.Pending + sum.Processing,
		Conflicts:  sum.Conflicts,
		Failed:     sum.Failed,
		LastSyncAt: sum.LastSyncAt,
		HasIssues:  sum.Conflicts > 0 || sum.Failed > 0,
	}, nil
}

// Pending возвращает изменения, ожидающие применения, в порядке обработки
func (s *Service) Pending(ctx context.Context, shopID int64, limit int) ([]*QueueItem, error) {
	if shopID == 0 {
		return nil, ErrNoShop
	}
	items, err := s.queue.List(ctx, shopID, ListFilter{
		Statuses: []Status{StatusPending, StatusProcessing},
		Limit:    clampLimit(limit),
		Order:    OrderQueue,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return items, nil
}

// Conflicts возвращает неразрешенные конфликты
func (s *Service) Conflicts(ctx context.Context, shopID int64, limit, offset int) ([]*QueueItem, error) {
	if shopID == 0 {
		return nil, ErrNoShop
	}
	items, err := s.queue.List(ctx, shopID, ListFilter{
		Statuses: []Status{StatusConflict},
		Limit:    clampLimit(limit),
		Offset:   max(offset, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return items, nil
}

// History возвращает журнал изменений магазина
func (s *Service) History(ctx context.Context, shopID int64, status *Status, limit, offset int) ([]*QueueItem, error) {
	if shopID == 0 {
		return nil, ErrNoShop
	}
	filter := ListFilter{Limit: clampLimit(limit), Offset: max(offset, 0)}
	if status != nil {
		if err := status.Validate(); err != nil {
			verr := &ValidationError{}
			verr.add("status", err.Error(), string(*status))
			return nil, verr
		}
		filter.Statuses = []Status{*status}
	}
	items, err := s.queue.List(ctx, shopID, filter)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return items, nil
}

// Devices возвращает устройства магазина
func (s *Service) Devices(ctx context.Context, shopID int64) ([]*Device, error) {
	if shopID == 0 {
		return nil, ErrNoShop
	}
	devices, err := s.devices.List(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

func (s *Service) touchDevice(ctx context.Context, shopID int64, deviceID string, userID int64, activity Activity) {
	if deviceID == "" || s.devices == nil {
		return
	}
	if err := s.devices.Touch(ctx, shopID, deviceID, userID, activity, s.cfg.now()); err != nil {
		s.log.Warn("failed to record device activity", "shop_id", shopID, "device_id", deviceID, "error", err)
	}
}

func (s *Service) getItem(ctx context.Context, shopID int64, id uuid.UUID) (*QueueItem, error) {
	item, err := s.queue.Get(ctx, shopID, id)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

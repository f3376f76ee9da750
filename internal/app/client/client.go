package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"possync/internal/app/client/config"
	"possync/internal/domain/sync"
)

// App клиент устройства: локальный outbox, кэш сущностей и обмен с сервером.
type App struct {
	config  *config.Config
	log     *slog.Logger
	http    *httpClient
	storage *SQLiteStorage
	sync    *SyncService
}

// RecordInput изменение, которое устройство записывает офлайн.
type RecordInput struct {
	EntityType   string
	EntityID     string
	Action       string
	Data         json.RawMessage
	Priority     *int
	BaseRevision *int64
}

// LocalStatus состояние outbox и кэша устройства.
type LocalStatus struct {
	Outbox     map[OutboxState]int
	Entities   int
	Checkpoint *time.Time
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	storage, err := NewSQLiteStorage(cfg.DataPath)
	if err != nil {
		return nil, err
	}

	httpClient := NewHTTPClient(cfg, log)

	return &App{
		config:  cfg,
		log:     log,
		http:    httpClient,
		storage: storage,
		sync:    NewSyncService(httpClient, storage, cfg.DeviceID, cfg.PullLimit, log),
	}, nil
}

func (a *App) Close() error {
	return a.storage.Close()
}

func (a *App) Config() *config.Config {
	return a.config
}

// CheckConnection проверяет доступность сервера
func (a *App) CheckConnection(ctx context.Context) error {
	return a.http.HealthCheck(ctx)
}

// Record записывает изменение в outbox. Если ревизия не указана, берется ревизия
// из локального кэша, полученная последним pull.
func (a *App) Record(ctx context.Context, in RecordInput) (*OutboxChange, error) {
	entityType, err := sync.ParseEntityType(in.EntityType)
	if err != nil {
		return nil, err
	}
	action, err := sync.ParseAction(in.Action)
	if err != nil {
		return nil, err
	}
	if in.EntityID == "" {
		return nil, errors.New("entity id is required")
	}
	if len(in.Data) > 0 && !json.Valid(in.Data) {
		return nil, errors.New("data is not valid JSON")
	}
	if action.NeedsData() && len(in.Data) == 0 {
		return nil, fmt.Errorf("data is required for %s", action)
	}

	baseRevision := in.BaseRevision
	if baseRevision == nil {
		cached, err := a.storage.GetEntity(ctx, entityType, in.EntityID)
		switch {
		case err == nil:
			baseRevision = &cached.Revision
		case !errors.Is(err, ErrNotCached):
			return nil, err
		}
	}

	now := time.Now().UTC()
	change := &OutboxChange{
		ID:              uuid.New(),
		EntityType:      entityType,
		EntityID:        in.EntityID,
		Action:          action,
		Data:            in.Data,
		ClientTimestamp: now,
		Priority:        in.Priority,
		BaseRevision:    baseRevision,
		State:           OutboxPending,
		CreatedAt:       now,
	}
	if err := a.storage.AddChange(ctx, change); err != nil {
		return nil, err
	}

	a.log.Debug("change recorded", "entity_type", entityType, "entity_id", in.EntityID, "action", action)
	return change, nil
}

func (a *App) Push(ctx context.Context) (*PushReport, error) {
	return a.sync.Push(ctx)
}

func (a *App) Pull(ctx context.Context, types []sync.EntityType) (*PullReport, error) {
	return a.sync.Pull(ctx, types)
}

func (a *App) Sync(ctx context.Context) (*SyncResult, error) {
	return a.sync.Sync(ctx)
}

// RunSyncLoop выполняет Sync с заданным интервалом до SIGINT/SIGTERM или отмены контекста.
func (a *App) RunSyncLoop(ctx context.Context, interval time.Duration, onResult func(*SyncResult, error)) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		onResult(a.sync.Sync(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// LocalStatus состояние устройства без обращения к серверу.
func (a *App) LocalStatus(ctx context.Context) (*LocalStatus, error) {
	counts, err := a.storage.CountOutbox(ctx)
	if err != nil {
		return nil, err
	}
	entities, err := a.storage.CountEntities(ctx)
	if err != nil {
		return nil, err
	}
	checkpoint, err := a.storage.Checkpoint(ctx)
	if err != nil {
		return nil, err
	}
	return &LocalStatus{Outbox: counts, Entities: entities, Checkpoint: checkpoint}, nil
}

func (a *App) Outbox(ctx context.Context, state OutboxState, limit int) ([]*OutboxChange, error) {
	return a.storage.ListOutbox(ctx, state, limit)
}

func (a *App) Entity(ctx context.Context, entityType sync.EntityType, entityID string) (*CachedEntity, error) {
	return a.storage.GetEntity(ctx, entityType, entityID)
}

func (a *App) ServerStatus(ctx context.Context) (*sync.StatusResult, error) {
	return a.http.Status(ctx)
}

func (a *App) Pending(ctx context.Context, limit int) ([]*sync.QueueItem, error) {
	return a.http.Pending(ctx, limit)
}

func (a *App) Conflicts(ctx context.Context, page Page) ([]*sync.QueueItem, error) {
	return a.http.Conflicts(ctx, page)
}

func (a *App) History(ctx context.Context, status sync.Status, page Page) ([]*sync.QueueItem, error) {
	return a.http.History(ctx, status, page)
}

func (a *App) Resolve(ctx context.Context, id uuid.UUID, resolution sync.Resolution, data json.RawMessage) (*sync.QueueItem, error) {
	return a.http.Resolve(ctx, id, ResolveRequest{Resolution: resolution, Data: data})
}

func (a *App) Devices(ctx context.Context) ([]*sync.Device, error) {
	return a.http.Devices(ctx)
}

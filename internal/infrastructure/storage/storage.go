package storage

import (
	"context"
	"fmt"

	"golang.org/x/exp/slog"

	"possync/internal/config"
	"possync/internal/domain/entity"
	"possync/internal/domain/sync"
	"possync/internal/infrastructure/storage/memory"
	"possync/internal/infrastructure/storage/postgres"
)

// Storage набор хранилищ, с которыми работает движок синхронизации.
type Storage interface {
	// Очередь синхронизации
	Queue() sync.QueueRepository

	// Документы сущностей и лента их изменений
	Entities() entity.Store
	Feed() sync.ChangeFeed

	// Устройства
	Devices() sync.DeviceRepository

	Ping(ctx context.Context) error
	Close() error
}

// New открывает хранилище, выбранное в настройках.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (Storage, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		pg, err := postgres.New(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.StorageMemory:
		log.Warn("using in-memory storage, data will be lost on restart")
		return memory.New(nil), nil
	}
	return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

// Package memory содержит хранилища движка синхронизации в памяти процесса.
// Используется для локального запуска без PostgreSQL и в тестах.
package memory

import (
	"context"
	"time"

	"possync/internal/domain/entity"
	domain "possync/internal/domain/sync"
)

// Storage набор хранилищ в памяти.
type Storage struct {
	queue    *QueueRepository
	entities *EntityStore
	devices  *DeviceRepository
}

// New создает хранилище; now задает часы хранилища сущностей (nil означает time.Now).
func New(now func() time.Time) *Storage {
	return &Storage{
		queue:    NewQueueRepository(),
		entities: NewEntityStore(now),
		devices:  NewDeviceRepository(),
	}
}

func (s *Storage) Queue() domain.QueueRepository    { return s.queue }
func (s *Storage) Entities() entity.Store           { return s.entities }
func (s *Storage) Feed() domain.ChangeFeed          { return s.entities }
func (s *Storage) Devices() domain.DeviceRepository { return s.devices }
func (s *Storage) Ping(context.Context) error       { return nil }
func (s *Storage) Close() error                     { return nil }

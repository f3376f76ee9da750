package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"possync/internal/config"
	"possync/internal/domain/entity"
	"possync/internal/domain/sync"
	"possync/internal/infrastructure/migration"
)

const uniqueViolation = "23505"

type Storage struct {
	pool     *pgxpool.Pool
	queue    *QueueRepository
	entities *EntityRepository
	devices  *DeviceRepository
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Storage, error) {
	pool, err := pgxpool.New(ctx, cfg.DB.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	mg := migration.NewMigration(cfg.DB.Migrations, cfg.DB.DatabaseURI, migration.DefaultEngine, log)
	if err := mg.Up(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return NewWithPool(pool, log), nil
}

// NewWithPool собирает хранилище поверх готового пула (схема должна быть уже применена).
func NewWithPool(pool *pgxpool.Pool, log *slog.Logger) *Storage {
	return &Storage{
		pool:     pool,
		queue:    NewQueueRepository(pool, log),
		entities: NewEntityRepository(pool, log),
		devices:  NewDeviceRepository(pool, log),
	}
}

func (s *Storage) Queue() sync.QueueRepository    { return s.queue }
func (s *Storage) Entities() entity.Store         { return s.entities }
func (s *Storage) Feed() sync.ChangeFeed          { return s.entities }
func (s *Storage) Devices() sync.DeviceRepository { return s.devices }

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullJSON(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	return data
}

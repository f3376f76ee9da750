package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"possync/internal/domain/sync"
)

type DeviceRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewDeviceRepository(pool *pgxpool.Pool, log *slog.Logger) *DeviceRepository {
	return &DeviceRepository{
		pool: pool,
		log:  log.With("component", "device_repository"),
	}
}

// Touch регистрирует устройство и отмечает время его последнего push или pull
func (r *DeviceRepository) Touch(ctx context.Context, shopID int64, deviceID string, userID int64, activity sync.Activity, at time.Time) error {
	const query = `
		INSERT INTO sync_devices (shop_id, device_id, user_id, last_push_at, last_pull_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (shop_id, device_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			last_push_at = COALESCE(EXCLUDED.last_push_at, sync_devices.last_push_at),
			last_pull_at = COALESCE(EXCLUDED.last_pull_at, sync_devices.last_pull_at)`

	var pushAt, pullAt *time.Time
	switch activity {
	case sync.ActivityPush:
		pushAt = &at
	case sync.ActivityPull:
		pullAt = &at
	}

	if _, err := r.pool.Exec(ctx, query, shopID, deviceID, userID, pushAt, pullAt, at); err != nil {
		r.log.Error("failed to touch device", "shop_id", shopID, "device_id", deviceID, "error", err)
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

// List возвращает устройства магазина
func (r *DeviceRepository) List(ctx context.Context, shopID int64) ([]*sync.Device, error) {
	const query = `
		SELECT shop_id, device_id, user_id, last_push_at, last_pull_at, created_at
		FROM sync_devices
		WHERE shop_id = $1
		ORDER BY device_id`

	rows, err := r.pool.Query(ctx, query, shopID)
	if err != nil {
		r.log.Error("failed to list devices", "shop_id", shopID, "error", err)
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]*sync.Device, 0)
	for rows.Next() {
		var d sync.Device
		if err := rows.Scan(&d.ShopID, &d.DeviceID, &d.UserID, &d.LastPushAt, &d.LastPullAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

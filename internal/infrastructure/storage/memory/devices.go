package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	domain "possync/internal/domain/sync"
)

type deviceKey struct {
	shopID   int64
	deviceID string
}

// DeviceRepository реестр устройств в памяти.
type DeviceRepository struct {
	mu      sync.Mutex
	devices map[deviceKey]*domain.Device
}

func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{devices: make(map[deviceKey]*domain.Device)}
}

func (r *DeviceRepository) Touch(_ context.Context, shopID int64, deviceID string, userID int64, activity domain.Activity, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := deviceKey{shopID, deviceID}
	d, ok := r.devices[key]
	if !ok {
		d = &domain.Device{ShopID: shopID, DeviceID: deviceID, CreatedAt: at}
		r.devices[key] = d
	}
	d.UserID = userID
	switch activity {
	case domain.ActivityPush:
		d.LastPushAt = &at
	case domain.ActivityPull:
		d.LastPullAt = &at
	}
	return nil
}

func (r *DeviceRepository) List(_ context.Context, shopID int64) ([]*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Device, 0)
	for _, d := range r.devices {
		if d.ShopID == shopID {
			c := *d
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Device) int { return strings.Compare(a.DeviceID, b.DeviceID) })
	return out, nil
}

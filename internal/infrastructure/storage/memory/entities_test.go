package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "possync/internal/domain/sync"
)

func TestEntityStore_SaveIsConditional(t *testing.T) {
	now := t0
	s := NewEntityStore(func() time.Time { return now })
	ctx := context.Background()
	e := &domain.Entity{ShopID: 1, EntityType: domain.EntityProduct, EntityID: "p-1", Data: json.RawMessage(`{"name":"Milk"}`)}

	saved, err := s.Save(ctx, e, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Revision)
	assert.Equal(t, t0, saved.CreatedAt)

	_, err = s.Save(ctx, e, 0)
	assert.ErrorIs(t, err, domain.ErrRevisionMismatch)

	now = t0.Add(time.Minute + 1500*time.Nanosecond)
	saved, err = s.Save(ctx, e, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Revision)
	assert.Equal(t, t0, saved.CreatedAt)
	assert.Equal(t, t0.Add(time.Minute+time.Microsecond), saved.UpdatedAt, "timestamps are kept with microsecond precision")

	_, err = s.Get(ctx, 2, domain.EntityProduct, "p-1")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestEntityStore_Changes(t *testing.T) {
	now := t0
	s := NewEntityStore(func() time.Time { return now })
	ctx := context.Background()

	save := func(shop int64, et domain.EntityType, id string) {
		_, err := s.Save(ctx, &domain.Entity{ShopID: shop, EntityType: et, EntityID: id, Data: json.RawMessage(`{}`)}, 0)
		require.NoError(t, err)
	}
	save(1, domain.EntitySale, "s-1")
	save(1, domain.EntityProduct, "p-2")
	save(1, domain.EntityProduct, "p-1")
	save(2, domain.EntityProduct, "x-1")
	now = t0.Add(time.Second)
	save(1, domain.EntityCustomer, "c-1")

	all, err := s.ChangesSince(ctx, 1, t0.Add(-time.Second), time.Time{}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1", "p-2", "s-1", "c-1"}, entityIDs(all))

	limited, err := s.ChangesSince(ctx, 1, t0.Add(-time.Second), time.Time{}, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1", "p-2"}, entityIDs(limited))

	after, err := s.ChangesSince(ctx, 1, t0, time.Time{}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1"}, entityIDs(after))

	settled, err := s.ChangesSince(ctx, 1, t0.Add(-time.Second), t0.Add(time.Second), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1", "p-2", "s-1"}, entityIDs(settled), "until is exclusive")

	horizon, err := s.Horizon(ctx)
	require.NoError(t, err)
	assert.True(t, horizon.IsZero())

	group, err := s.ChangesAt(ctx, 1, t0, []domain.EntityType{domain.EntitySale})
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, entityIDs(group))
}

func TestDeviceRepository_Touch(t *testing.T) {
	r := NewDeviceRepository()
	ctx := context.Background()

	require.NoError(t, r.Touch(ctx, 1, "d2", 5, domain.ActivityPull, t0))
	require.NoError(t, r.Touch(ctx, 1, "d1", 5, domain.ActivityPush, t0))
	require.NoError(t, r.Touch(ctx, 1, "d1", 6, domain.ActivityPull, t0.Add(time.Minute)))
	require.NoError(t, r.Touch(ctx, 2, "d9", 1, domain.ActivityPush, t0))

	devices, err := r.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "d1", devices[0].DeviceID)
	assert.Equal(t, int64(6), devices[0].UserID)
	assert.Equal(t, t0, *devices[0].LastPushAt)
	assert.Equal(t, t0.Add(time.Minute), *devices[0].LastPullAt)
	assert.Equal(t, t0, devices[0].CreatedAt)
	assert.Nil(t, devices[1].LastPushAt)
}

func entityIDs(items []*domain.Entity) []string {
	out := make([]string, 0, len(items))
	for _, e := range items {
		out = append(out, e.EntityID)
	}
	return out
}

package client

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possync/internal/domain/sync"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	st, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func addChange(t *testing.T, st *SQLiteStorage, entityID string, at time.Time) *OutboxChange {
	t.Helper()
	rev := int64(2)
	prio := 7
	c := &OutboxChange{
		EntityType:      sync.EntityProduct,
		EntityID:        entityID,
		Action:          sync.ActionUpdate,
		Data:            json.RawMessage(`{"price":"35"}`),
		ClientTimestamp: at,
		Priority:        &prio,
		BaseRevision:    &rev,
		CreatedAt:       at,
	}
	require.NoError(t, st.AddChange(context.Background(), c))
	return c
}

func TestSQLiteStorage_Outbox(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	second := addChange(t, st, "p-2", t0.Add(time.Second))
	first := addChange(t, st, "p-1", t0)
	third := addChange(t, st, "p-3", t0.Add(2*time.Second))

	pending, err := st.PendingChanges(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID, third.ID},
		[]uuid.UUID{pending[0].ID, pending[1].ID, pending[2].ID})

	got := pending[0]
	assert.Equal(t, sync.EntityProduct, got.EntityType)
	assert.Equal(t, sync.ActionUpdate, got.Action)
	assert.JSONEq(t, `{"price":"35"}`, string(got.Data))
	assert.True(t, t0.Equal(got.ClientTimestamp))
	require.NotNil(t, got.Priority)
	assert.Equal(t, 7, *got.Priority)
	require.NotNil(t, got.BaseRevision)
	assert.Equal(t, int64(2), *got.BaseRevision)
	assert.Equal(t, OutboxPending, got.State)

	itemID := uuid.New()
	require.NoError(t, st.MarkSent(ctx, first.ID, sync.ChangeResult{Outcome: sync.OutcomeEnqueued, ItemID: &itemID}, t0.Add(time.Minute)))
	require.NoError(t, st.MarkSent(ctx, second.ID, sync.ChangeResult{
		Outcome: sync.OutcomeRejected,
		Errors:  []sync.FieldError{{Field: "data", Message: "must be a JSON object"}},
	}, t0.Add(time.Minute)))

	pending, err = st.PendingChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, third.ID, pending[0].ID)

	rejected, err := st.ListOutbox(ctx, OutboxRejected, 0)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "data: must be a JSON object", rejected[0].Error)
	assert.Equal(t, sync.OutcomeRejected, rejected[0].Outcome)

	sent, err := st.ListOutbox(ctx, OutboxSent, 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].ItemID)
	assert.Equal(t, itemID, *sent[0].ItemID)
	require.NotNil(t, sent[0].SentAt)

	counts, err := st.CountOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[OutboxState]int{OutboxPending: 1, OutboxSent: 1, OutboxRejected: 1}, counts)
}

func TestSQLiteStorage_DeleteWithoutData(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	require.NoError(t, st.AddChange(ctx, &OutboxChange{
		EntityType:      sync.EntityCustomer,
		EntityID:        "c-1",
		Action:          sync.ActionDelete,
		ClientTimestamp: t0,
		CreatedAt:       t0,
	}))

	pending, err := st.PendingChanges(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].Data)
	assert.Nil(t, pending[0].Priority)
	assert.Nil(t, pending[0].BaseRevision)

	change := pending[0].Change()
	assert.Equal(t, "delete", change.Action)
	require.NotNil(t, change.ClientTimestamp)
	assert.True(t, t0.Equal(*change.ClientTimestamp))
}

func TestSQLiteStorage_Entities(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	_, err := st.GetEntity(ctx, sync.EntityProduct, "p-1")
	assert.ErrorIs(t, err, ErrNotCached)

	require.NoError(t, st.SaveEntities(ctx, []sync.PulledEntity{
		{EntityType: sync.EntityProduct, EntityID: "p-1", Data: json.RawMessage(`{"price":"40"}`), Revision: 2, UpdatedAt: t0},
		{EntityType: sync.EntityProduct, EntityID: "p-2", Revision: 3, Deleted: true, UpdatedAt: t0},
	}))

	// Старая ревизия не перезаписывает кэш
	require.NoError(t, st.SaveEntities(ctx, []sync.PulledEntity{
		{EntityType: sync.EntityProduct, EntityID: "p-1", Data: json.RawMessage(`{"price":"1"}`), Revision: 1, UpdatedAt: t0},
	}))

	e, err := st.GetEntity(ctx, sync.EntityProduct, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Revision)
	assert.JSONEq(t, `{"price":"40"}`, string(e.Data))
	assert.False(t, e.Deleted)

	deleted, err := st.GetEntity(ctx, sync.EntityProduct, "p-2")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	n, err := st.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStorage_Checkpoint(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	cp, err := st.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	at := t0.Add(123456 * time.Microsecond)
	require.NoError(t, st.SetCheckpoint(ctx, at))
	require.NoError(t, st.SetCheckpoint(ctx, at.Add(time.Hour)))

	cp, err = st.Checkpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, at.Add(time.Hour).Equal(*cp))
}

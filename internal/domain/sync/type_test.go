package sync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnums(t *testing.T) {
	entityType, err := ParseEntityType("stock_movement")
	require.NoError(t, err)
	assert.Equal(t, EntityStockMovement, entityType)

	_, err = ParseEntityType("invoice")
	assert.ErrorIs(t, err, ErrUnknownEntityType)

	_, err = ParseAction("upsert")
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = ParseStatus("done")
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = ParseResolution("last_write_wins")
	assert.ErrorIs(t, err, ErrUnknownResolution)
}

func TestEnumPredicates(t *testing.T) {
	assert.True(t, ActionCreate.NeedsData())
	assert.True(t, ActionUpdate.NeedsData())
	assert.False(t, ActionDelete.NeedsData())

	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusConflict.Terminal())
	assert.False(t, StatusPending.Terminal())

	assert.True(t, ResolutionClientWins.Reapplies())
	assert.True(t, ResolutionMerge.Reapplies())
	assert.False(t, ResolutionServerWins.Reapplies())
	assert.False(t, ResolutionManual.Reapplies())
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(assert.AnError)))
	assert.True(t, IsPermanent(ErrEntityNotFound))
	assert.False(t, IsPermanent(assert.AnError))
	assert.Nil(t, Permanent(nil))
}

func TestEntityKey(t *testing.T) {
	assert.Equal(t, "7:product:p-1", EntityKey(7, EntityProduct, "p-1"))
}

func TestEntity_Snapshot(t *testing.T) {
	updated := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		entity   Entity
		expected string
	}{
		{
			name:   "fields stay at the top level",
			entity: Entity{Data: json.RawMessage(`{"name":"Milk","quantity":35}`), Revision: 2, UpdatedByDevice: "d2", UpdatedAt: updated},
			expected: `{"name":"Milk","quantity":35,
				"_server":{"revision":2,"deleted":false,"updated_by_device":"d2","updated_at":"2024-03-01T09:00:00Z"}}`,
		},
		{
			name:     "deleted entity without data",
			entity:   Entity{Data: json.RawMessage(`null`), Revision: 3, Deleted: true, UpdatedAt: updated},
			expected: `{"_server":{"revision":3,"deleted":true,"updated_at":"2024-03-01T09:00:00Z"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.expected, string(tt.entity.Snapshot()))
		})
	}
}

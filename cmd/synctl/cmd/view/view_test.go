package view

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possync/internal/domain/sync"
)

func TestItems(t *testing.T) {
	items := []*sync.QueueItem{{
		ID:              uuid.New(),
		EntityType:      sync.EntityProduct,
		EntityID:        "p-1",
		Action:          sync.ActionUpdate,
		DeviceID:        "till-2",
		Status:          sync.StatusConflict,
		Priority:        5,
		ClientTimestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		ErrorMessage:    "server revision 2 is newer than base revision 1",
	}}

	t.Run("table", func(t *testing.T) {
		Setup(false, true)
		var buf bytes.Buffer

		require.NoError(t, Items(&buf, items))

		out := buf.String()
		assert.Contains(t, out, "product/p-1")
		assert.Contains(t, out, "conflict")
		assert.Contains(t, out, "till-2")
	})

	t.Run("json", func(t *testing.T) {
		Setup(true, false)
		defer Setup(false, true)
		var buf bytes.Buffer

		require.NoError(t, Items(&buf, items))

		var decoded []*sync.QueueItem
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		require.Len(t, decoded, 1)
		assert.Equal(t, items[0].ID, decoded[0].ID)
	})

	t.Run("empty", func(t *testing.T) {
		Setup(false, true)
		var buf bytes.Buffer

		require.NoError(t, Items(&buf, nil))
		assert.Equal(t, "Элементы не найдены\n", buf.String())
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "абв…", truncate("абвгдеж", 4))
}

func TestItem(t *testing.T) {
	processed := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	tests := []struct {
		name    string
		item    sync.QueueItem
		want    string
		notWant string
	}{
		{
			name:    "completed shows processing time",
			item:    sync.QueueItem{Status: sync.StatusCompleted, Attempts: 1, ProcessedAt: &processed},
			want:    "Обработано:",
			notWant: "Следующая попытка:",
		},
		{
			name:    "retried item shows next attempt",
			item:    sync.QueueItem{Status: sync.StatusPending, Attempts: 2, NextAttemptAt: processed},
			want:    "Следующая попытка:",
			notWant: "Обработано:",
		},
		{
			name: "conflict shows server version",
			item: sync.QueueItem{
				Status:       sync.StatusConflict,
				Attempts:     1,
				ConflictData: json.RawMessage(`{"quantity":35}`),
			},
			want:    `{"quantity":35}`,
			notWant: "Обработано:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(false, true)
			var buf bytes.Buffer
			tt.item.ID = uuid.New()

			require.NoError(t, Item(&buf, &tt.item))

			assert.Contains(t, buf.String(), tt.want)
			assert.NotContains(t, buf.String(), tt.notWant)
		})
	}
}

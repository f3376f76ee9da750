package sync

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SystemResolver идентификатор "пользователя", от имени которого работает автоматическое разрешение конфликтов.
const SystemResolver int64 = 0

const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// QueueItem элемент очереди синхронизации: одно изменение, присланное устройством.
type QueueItem struct {
	ID              uuid.UUID       `json:"id"`
	Seq             int64           `json:"seq"`
	ShopID          int64           `json:"shop_id"`
	UserID          int64           `json:"user_id"`
	EntityType      EntityType      `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	Action          Action          `json:"action"`
	Data            json.RawMessage `json:"data,omitempty"`
	PayloadHash     string          `json:"payload_hash,omitempty"`
	ClientTimestamp time.Time       `json:"client_timestamp"`
	DeviceID        string          `json:"device_id"`
	BaseRevision    *int64          `json:"base_revision,omitempty"`
	ForceApply      bool            `json:"force_apply,omitempty"`
	Status          Status          `json:"status"`
	Attempts        int             `json:"attempts"`
	LastAttemptAt   *time.Time      `json:"last_attempt_at,omitempty"`
	NextAttemptAt   time.Time       `json:"next_attempt_at"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Priority        int             `json:"priority"`
	ConflictData    json.RawMessage `json:"conflict_data,omitempty"`
	ResolvedBy      *int64          `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	Resolution      *Resolution     `json:"resolution,omitempty"`
	ResolvedData    json.RawMessage `json:"resolved_data,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
}

// LockKey ключ сериализации применений по одной сущности.
func (i *QueueItem) LockKey() string {
	return EntityKey(i.ShopID, i.EntityType, i.EntityID)
}

// Payload данные, которые нужно применить к сущности: результат слияния, если он есть, иначе исходные.
func (i *QueueItem) Payload() json.RawMessage {
	if len(i.ResolvedData) > 0 {
		return i.ResolvedData
	}
	return i.Data
}

// IdempotencyKey ключ идемпотентности изменения внутри магазина.
type IdempotencyKey struct {
	ShopID          int64
	DeviceID        string
	EntityType      EntityType
	EntityID        string
	ClientTimestamp time.Time
}

func (i *QueueItem) IdempotencyKey() IdempotencyKey {
	return IdempotencyKey{
		ShopID:          i.ShopID,
		DeviceID:        i.DeviceID,
		EntityType:      i.EntityType,
		EntityID:        i.EntityID,
		ClientTimestamp: i.ClientTimestamp,
	}
}

// Entity серверное состояние бизнес-сущности, как его видит движок синхронизации.
type Entity struct {
	ShopID          int64           `json:"shop_id"`
	EntityType      EntityType      `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	Data            json.RawMessage `json:"data"`
	Revision        int64           `json:"revision"`
	Deleted         bool            `json:"deleted"`
	UpdatedByDevice string          `json:"updated_by_device,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SnapshotMetaKey ключ conflict_data, под которым лежат сведения о версии сервера.
const SnapshotMetaKey = "_server"

// SnapshotMeta версия серверной сущности на момент обнаружения конфликта.
type SnapshotMeta struct {
	Revision        int64     `json:"revision"`
	Deleted         bool      `json:"deleted"`
	UpdatedByDevice string    `json:"updated_by_device,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Snapshot снимок серверного состояния для conflict_data: поля сущности на верхнем уровне,
// версия под ключом SnapshotMetaKey.
func (e *Entity) Snapshot() json.RawMessage {
	var fields map[string]json.RawMessage
	if len(e.Data) > 0 {
		_ = json.Unmarshal(e.Data, &fields)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}

	meta, _ := json.Marshal(SnapshotMeta{
		Revision:        e.Revision,
		Deleted:         e.Deleted,
		UpdatedByDevice: e.UpdatedByDevice,
		UpdatedAt:       e.UpdatedAt,
	})
	fields[SnapshotMetaKey] = meta

	snap, _ := json.Marshal(fields)
	return snap
}

// Device устройство магазина, участвующее в синхронизации.
type Device struct {
	ShopID     int64      `json:"shop_id"`
	DeviceID   string     `json:"device_id"`
	UserID     int64      `json:"user_id"`
	LastPushAt *time.Time `json:"last_push_at,omitempty"`
	LastPullAt *time.Time `json:"last_pull_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Summary агрегированное состояние очереди магазина.
type Summary struct {
	Pending    int        `json:"pending"`
	Processing int        `json:"processing"`
	Conflicts  int        `json:"conflicts"`
	Failed     int        `json:"failed"`
	Completed  int        `json:"completed"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// EntityKey формирует ключ вида shop:entity_type:entity_id.
func EntityKey(shopID int64, entityType EntityType, entityID string) string {
	return strconv.FormatInt(shopID, 10) + ":" + string(entityType) + ":" + entityID
}

package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueueRepository хранилище элементов очереди синхронизации.
//
// Все переходы состояний выполняются условно от ожидаемого текущего статуса;
// если элемент уже в другом статусе, возвращается ErrInvalidTransition.
type QueueRepository interface {
	// FindByIdempotencyKey ищет изменение по ключу идемпотентности, ErrItemNotFound если его нет.
	FindByIdempotencyKey(ctx context.Context, key IdempotencyKey) (*QueueItem, error)

	// Enqueue сохраняет новый элемент. Если элемент с тем же ключом идемпотентности уже есть,
	// возвращает существующий и created=false.
	Enqueue(ctx context.Context, item *QueueItem) (stored *QueueItem, created bool, err error)

	// Get возвращает элемент очереди магазина.
	Get(ctx context.Context, shopID int64, id uuid.UUID) (*QueueItem, error)

	// ClaimNext атомарно переводит следующий готовый элемент в processing.
	// Возвращает nil, nil если готовых элементов нет, и ErrEntityBusy, если выбранный элемент
	// перехватил другой обработчик той же сущности.
	ClaimNext(ctx context.Context, filter ClaimFilter, now time.Time) (*QueueItem, error)

	Complete(ctx context.Context, id uuid.UUID, at time.Time) error
	Retry(ctx context.Context, id uuid.UUID, errMsg string, nextAttemptAt time.Time) error
	Fail(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error
	MarkConflict(ctx context.Context, id uuid.UUID, snapshot json.RawMessage, errMsg string) error

	// ResolveConflict закрывает конфликт без повторного применения (conflict -> completed).
	ResolveConflict(ctx context.Context, id uuid.UUID, r ConflictResolution) error

	// BeginResolution захватывает конфликтный элемент для повторного применения (conflict -> processing).
	// Если по сущности уже идет применение, возвращает ErrEntityBusy.
	BeginResolution(ctx context.Context, id uuid.UUID, r ConflictResolution) (*QueueItem, error)

	// ReleaseStale возвращает в pending элементы, зависшие в processing дольше lease.
	ReleaseStale(ctx context.Context, olderThan time.Time) (int, error)

	List(ctx context.Context, shopID int64, filter ListFilter) ([]*QueueItem, error)
	Summary(ctx context.Context, shopID int64) (*Summary, error)
}

// ClaimFilter ограничивает выборку ClaimNext.
type ClaimFilter struct {
	ShopID *int64
}

// ListOrder порядок выдачи списка.
type ListOrder int

const (
	// OrderNewest от новых к старым (журнал).
	OrderNewest ListOrder = iota
	// OrderQueue в порядке обработки: priority DESC, created_at, seq.
	OrderQueue
)

// ListFilter параметры выборки списка элементов.
type ListFilter struct {
	Statuses []Status
	Limit    int
	Offset   int
	Order    ListOrder
}

// ConflictResolution решение по конфликту.
type ConflictResolution struct {
	Resolution Resolution
	ResolvedBy int64
	ResolvedAt time.Time
	Data       json.RawMessage
}

// ApplyRequest запрос на применение изменения к сущности.
type ApplyRequest struct {
	ShopID   int64
	EntityID string
	Action   Action
	Data     json.RawMessage
	DeviceID string
	// ExpectedRevision ревизия, от которой построено изменение; nil отключает условную запись.
	ExpectedRevision *int64
}

// Applier адаптер одного типа сущностей.
//
// Current возвращает ErrEntityNotFound, если сущность не существует (удаленные возвращаются с Deleted=true).
// Apply возвращает ErrRevisionMismatch, если условная запись проиграла гонку,
// и ошибки, обернутые в ErrPermanent, для данных, которые никогда не удастся применить.
type Applier interface {
	Current(ctx context.Context, shopID int64, entityID string) (*Entity, error)
	Apply(ctx context.Context, req ApplyRequest) (*Entity, error)
}

// Appliers реестр адаптеров по типам сущностей.
type Appliers map[EntityType]Applier

func (a Appliers) For(t EntityType) (Applier, error) {
	applier, ok := a[t]
	if !ok {
		return nil, ErrNoApplier
	}
	return applier, nil
}

// ChangeFeed лента изменений сущностей магазина для pull.
type ChangeFeed interface {
	// Horizon момент, раньше которого все записи сущностей уже зафиксированы и видны читателю.
	// Нулевое время означает, что незафиксированных записей не бывает.
	Horizon(ctx context.Context) (time.Time, error)

	// ChangesSince возвращает не более limit сущностей с since < updated_at < until
	// (нулевой until не ограничивает) в порядке (updated_at, entity_type, entity_id).
	ChangesSince(ctx context.Context, shopID int64, since, until time.Time, types []EntityType, limit int) ([]*Entity, error)

	// ChangesAt возвращает все сущности с updated_at = at в том же порядке.
	ChangesAt(ctx context.Context, shopID int64, at time.Time, types []EntityType) ([]*Entity, error)
}

// Activity вид активности устройства.
type Activity int

const (
	ActivityPush Activity = iota + 1
	ActivityPull
)

// DeviceRepository реестр устройств магазина.
type DeviceRepository interface {
	Touch(ctx context.Context, shopID int64, deviceID string, userID int64, activity Activity, at time.Time) error
	List(ctx context.Context, shopID int64) ([]*Device, error)
}

// Locker сериализует работу по ключу.
type Locker interface {
	Lock(key string) (unlock func())
}

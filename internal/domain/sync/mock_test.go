package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) FindByIdempotencyKey(ctx context.Context, key IdempotencyKey) (*QueueItem, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*QueueItem), args.Error(1)
}

func (m *MockQueue) Enqueue(ctx context.Context, item *QueueItem) (*QueueItem, bool, error) {
	args := m.Called(ctx, item)
	if fn, ok := args.Get(0).(func(*QueueItem) *QueueItem); ok {
		return fn(item), args.Bool(1), args.Error(2)
	}
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*QueueItem), args.Bool(1), args.Error(2)
}

func (m *MockQueue) Get(ctx context.Context, shopID int64, id uuid.UUID) (*QueueItem, error) {
	args := m.Called(ctx, shopID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*QueueItem), args.Error(1)
}

func (m *MockQueue) ClaimNext(ctx context.Context, filter ClaimFilter, now time.Time) (*QueueItem, error) {
	args := m.Called(ctx, filter, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*QueueItem), args.Error(1)
}

func (m *MockQueue) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockQueue) Retry(ctx context.Context, id uuid.UUID, errMsg string, nextAttemptAt time.Time) error {
	return m.Called(ctx, id, errMsg, nextAttemptAt).Error(0)
}

func (m *MockQueue) Fail(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	return m.Called(ctx, id, errMsg, at).Error(0)
}

func (m *MockQueue) MarkConflict(ctx context.Context, id uuid.UUID, snapshot json.RawMessage, errMsg string) error {
	return m.Called(ctx, id, snapshot, errMsg).Error(0)
}

func (m *MockQueue) ResolveConflict(ctx context.Context, id uuid.UUID, r ConflictResolution) error {
	return m.Called(ctx, id, r).Error(0)
}

func (m *MockQueue) BeginResolution(ctx context.Context, id uuid.UUID, r ConflictResolution) (*QueueItem, error) {
	args := m.Called(ctx, id, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*QueueItem), args.Error(1)
}

func (m *MockQueue) ReleaseStale(ctx context.Context, olderThan time.Time) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}

func (m *MockQueue) List(ctx context.Context, shopID int64, filter ListFilter) ([]*QueueItem, error) {
	args := m.Called(ctx, shopID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*QueueItem), args.Error(1)
}

func (m *MockQueue) Summary(ctx context.Context, shopID int64) (*Summary, error) {
	args := m.Called(ctx, shopID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Summary), args.Error(1)
}

// storedAsIs возвращает элемент, переданный в Enqueue.
func storedAsIs(item *QueueItem) *QueueItem { return item }

type MockApplier struct {
	mock.Mock
}

func (m *MockApplier) Current(ctx context.Context, shopID int64, entityID string) (*Entity, error) {
	args := m.Called(ctx, shopID, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Entity), args.Error(1)
}

func (m *MockApplier) Apply(ctx context.Context, req ApplyRequest) (*Entity, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Entity), args.Error(1)
}

type MockFeed struct {
	mock.Mock
}

func (m *MockFeed) Horizon(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockFeed) ChangesSince(ctx context.Context, shopID int64, since, until time.Time, types []EntityType, limit int) ([]*Entity, error) {
	args := m.Called(ctx, shopID, since, until, types, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Entity), args.Error(1)
}

func (m *MockFeed) ChangesAt(ctx context.Context, shopID int64, at time.Time, types []EntityType) ([]*Entity, error) {
	args := m.Called(ctx, shopID, at, types)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Entity), args.Error(1)
}

type MockDevices struct {
	mock.Mock
}

func (m *MockDevices) Touch(ctx context.Context, shopID int64, deviceID string, userID int64, activity Activity, at time.Time) error {
	return m.Called(ctx, shopID, deviceID, userID, activity, at).Error(0)
}

func (m *MockDevices) List(ctx context.Context, shopID int64) ([]*Device, error) {
	args := m.Called(ctx, shopID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Device), args.Error(1)
}

type noopLocker struct{}

func (noopLocker) Lock(string) func() { return func() {} }

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Clock = func() time.Time { return fixedNow }
	return cfg
}

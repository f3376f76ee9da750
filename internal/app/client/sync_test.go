package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/app/client/config"
	"possync/internal/app/server/api"
	"possync/internal/domain/entity"
	"possync/internal/domain/sync"
	"possync/internal/infrastructure/storage/memory"
	"possync/internal/lib/keylock"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) Push(ctx context.Context, req sync.PushRequest) (*sync.PushResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.PushResult), args.Error(1)
}

func (m *MockAPI) Pull(ctx context.Context, req PullRequest) (*sync.PullResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.PullResult), args.Error(1)
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSyncService_Push(t *testing.T) {
	// Arrange
	ctx := context.Background()
	st := newTestStorage(t)
	first := addChange(t, st, "p-1", t0)
	second := addChange(t, st, "p-2", t0.Add(time.Second))
	require.NoError(t, st.SetCheckpoint(ctx, t0.Add(-time.Hour)))

	remote := new(MockAPI)
	remote.On("Push", mock.Anything, mock.MatchedBy(func(req sync.PushRequest) bool {
		return req.DeviceID == "till-1" &&
			len(req.Changes) == 2 &&
			req.Changes[0].EntityID == "p-1" &&
			req.LastSyncTimestamp != nil && req.LastSyncTimestamp.Equal(t0.Add(-time.Hour))
	})).Return(&sync.PushResult{
		Results: []sync.ChangeResult{
			{Index: 1, Outcome: sync.OutcomeRejected, Errors: []sync.FieldError{{Field: "data", Message: "bad"}}},
			{Index: 0, Outcome: sync.OutcomeEnqueued},
		},
		Enqueued: 1,
		Rejected: 1,
	}, nil).Once()

	svc := NewSyncService(remote, st, "till-1", 0, discardLog())

	// Act
	report, err := svc.Push(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Enqueued)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, second.ID, report.Rejected[0].ID)
	assert.Equal(t, "data: bad", report.Rejected[0].Error)

	pending, err := st.PendingChanges(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	sent, err := st.ListOutbox(ctx, OutboxSent, 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, first.ID, sent[0].ID)
	remote.AssertExpectations(t)
}

func TestSyncService_PushErrorKeepsOutbox(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	addChange(t, st, "p-1", t0)

	remote := new(MockAPI)
	remote.On("Push", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := NewSyncService(remote, st, "till-1", 0, discardLog()).Push(ctx)
	require.Error(t, err)

	pending, err := st.PendingChanges(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "change stays in the outbox for the next attempt")
}

func TestSyncService_PushResultMismatch(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	addChange(t, st, "p-1", t0)

	remote := new(MockAPI)
	remote.On("Push", mock.Anything, mock.Anything).Return(&sync.PushResult{}, nil)

	_, err := NewSyncService(remote, st, "till-1", 0, discardLog()).Push(ctx)
	assert.ErrorContains(t, err, "0 results for 1 changes")
}

func TestSyncService_Pull(t *testing.T) {
	// Arrange
	ctx := context.Background()
	st := newTestStorage(t)
	t1, t2 := t0.Add(time.Minute), t0.Add(2*time.Minute)

	remote := new(MockAPI)
	remote.On("Pull", mock.Anything, mock.MatchedBy(func(req PullRequest) bool {
		return req.LastSyncTimestamp == nil && req.Limit == 2
	})).Return(&sync.PullResult{
		Data: []sync.PulledEntity{
			{EntityType: sync.EntityProduct, EntityID: "a", Revision: 1, UpdatedAt: t1},
			{EntityType: sync.EntityProduct, EntityID: "b", Revision: 1, UpdatedAt: t1},
		},
		Timestamp: t1,
		HasMore:   true,
	}, nil).Once()
	remote.On("Pull", mock.Anything, mock.MatchedBy(func(req PullRequest) bool {
		return req.LastSyncTimestamp != nil && req.LastSyncTimestamp.Equal(t1)
	})).Return(&sync.PullResult{
		Data:      []sync.PulledEntity{{EntityType: sync.EntitySale, EntityID: "c", Revision: 4, UpdatedAt: t2}},
		Timestamp: t2,
	}, nil).Once()

	svc := NewSyncService(remote, st, "till-1", 2, discardLog())

	// Act
	report, err := svc.Pull(ctx, nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, 3, report.Entities)
	assert.True(t, t2.Equal(report.Checkpoint))

	cp, err := st.Checkpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, t2.Equal(*cp))

	e, err := st.GetEntity(ctx, sync.EntitySale, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(4), e.Revision)
	remote.AssertExpectations(t)
}

func TestSyncService_PullStuckCursor(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	require.NoError(t, st.SetCheckpoint(ctx, t0))

	remote := new(MockAPI)
	remote.On("Pull", mock.Anything, mock.Anything).Return(&sync.PullResult{Timestamp: t0, HasMore: true}, nil).Once()

	_, err := NewSyncService(remote, st, "till-1", 0, discardLog()).Pull(ctx, nil)
	assert.ErrorContains(t, err, "did not advance")
}

// newTestApp поднимает настоящий сервер на in-memory хранилище и клиента устройства к нему.
func newTestApp(t *testing.T, srv *httptest.Server, deviceID string) *App {
	t.Helper()
	app, err := New(&config.Config{
		ServerAddress: srv.URL,
		UserID:        1,
		ShopID:        5,
		DeviceID:      deviceID,
		DataPath:      filepath.Join(t.TempDir(), deviceID+".db"),
	}, discardLog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New(nil)
	appliers := entity.NewAppliers(store.Entities())
	locks := keylock.New()
	cfg := sync.DefaultConfig()
	cfg.ProcessAfterPush = true

	svc := sync.NewService(sync.Dependencies{
		Queue:    store.Queue(),
		Appliers: appliers,
		Feed:     store.Feed(),
		Devices:  store.Devices(),
		Locker:   locks,
	}, cfg, discardLog())
	svc.SetDrainer(sync.NewProcessor(store.Queue(), appliers, locks, cfg, discardLog()))

	srv := httptest.NewServer(api.New(api.Services{Sync: svc, Pinger: store}, discardLog()))
	t.Cleanup(srv.Close)
	return srv
}

func TestApp_OfflineRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	till1 := newTestApp(t, srv, "till-1")
	till2 := newTestApp(t, srv, "till-2")

	require.NoError(t, till1.CheckConnection(ctx))

	// till-1 создает товар офлайн и синхронизируется
	_, err := till1.Record(ctx, RecordInput{
		EntityType: "product",
		EntityID:   "p-1",
		Action:     "create",
		Data:       json.RawMessage(`{"name":"Milk","price":"40"}`),
	})
	require.NoError(t, err)

	res, err := till1.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Push.Enqueued)

	// till-2 получает товар и правит его от полученной ревизии
	pulled, err := till2.Pull(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pulled.Entities)

	change, err := till2.Record(ctx, RecordInput{
		EntityType: "product",
		EntityID:   "p-1",
		Action:     "update",
		Data:       json.RawMessage(`{"price":"35"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, change.BaseRevision, "base revision comes from the local cache")
	assert.Equal(t, int64(1), *change.BaseRevision)

	pushed, err := till2.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pushed.Enqueued)

	// till-1 видит новую версию
	_, err = till1.Pull(ctx, nil)
	require.NoError(t, err)
	cached, err := till1.Entity(ctx, sync.EntityProduct, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cached.Revision)
	assert.JSONEq(t, `{"name":"Milk","price":"35"}`, string(cached.Data))

	status, err := till1.ServerStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Pending)
	assert.False(t, status.HasIssues)

	devices, err := till1.Devices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	history, err := till1.History(ctx, sync.StatusCompleted, Page{})
	require.NoError(t, err)
	assert.Len(t, history, 2)

	local, err := till2.LocalStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, local.Outbox[OutboxSent])
	assert.Equal(t, 1, local.Entities)
	assert.NotNil(t, local.Checkpoint)
}

func TestApp_StaleEditBecomesConflict(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	till1 := newTestApp(t, srv, "till-1")
	till2 := newTestApp(t, srv, "till-2")

	_, err := till1.Record(ctx, RecordInput{EntityType: "product", EntityID: "p-1", Action: "create", Data: json.RawMessage(`{"name":"Milk","price":"30"}`)})
	require.NoError(t, err)
	_, err = till1.Sync(ctx)
	require.NoError(t, err)
	_, err = till2.Pull(ctx, nil)
	require.NoError(t, err)

	// Оба устройства правят revision 1; till-1 успевает первым
	_, err = till1.Record(ctx, RecordInput{EntityType: "product", EntityID: "p-1", Action: "update", Data: json.RawMessage(`{"price":"40"}`)})
	require.NoError(t, err)
	_, err = till2.Record(ctx, RecordInput{EntityType: "product", EntityID: "p-1", Action: "update", Data: json.RawMessage(`{"price":"35"}`)})
	require.NoError(t, err)

	_, err = till1.Push(ctx)
	require.NoError(t, err)
	report, err := till2.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)

	conflicts, err := till2.Conflicts(ctx, Page{})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	item, err := till2.Resolve(ctx, conflicts[0].ID, sync.ResolutionMerge, json.RawMessage(`{"price":"38"}`))
	require.NoError(t, err)
	assert.Equal(t, sync.StatusCompleted, item.Status)

	_, err = till1.Pull(ctx, nil)
	require.NoError(t, err)
	cached, err := till1.Entity(ctx, sync.EntityProduct, "p-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Milk","price":"38"}`, string(cached.Data))

	_, err = till2.Resolve(ctx, conflicts[0].ID, sync.ResolutionServerWins, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Status)
}

func TestApp_RecordValidation(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	app := newTestApp(t, srv, "till-1")

	tests := []struct {
		name string
		in   RecordInput
	}{
		{name: "unknown type", in: RecordInput{EntityType: "invoice", EntityID: "i", Action: "create", Data: json.RawMessage(`{}`)}},
		{name: "unknown action", in: RecordInput{EntityType: "product", EntityID: "p", Action: "upsert", Data: json.RawMessage(`{}`)}},
		{name: "no id", in: RecordInput{EntityType: "product", Action: "create", Data: json.RawMessage(`{}`)}},
		{name: "bad json", in: RecordInput{EntityType: "product", EntityID: "p", Action: "create", Data: json.RawMessage(`{`)}},
		{name: "no data", in: RecordInput{EntityType: "product", EntityID: "p", Action: "update"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := app.Record(ctx, tt.in)
			assert.Error(t, err)
		})
	}

	local, err := app.LocalStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, local.Outbox)
}

func TestSyncService_PullEmptyFeedKeepsNoCheckpoint(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	remote := new(MockAPI)
	remote.On("Pull", mock.Anything, mock.Anything).Return(&sync.PullResult{}, nil).Once()

	report, err := NewSyncService(remote, st, "till-1", 0, discardLog()).Pull(ctx, []sync.EntityType{sync.EntityProduct})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pages)

	cp, err := st.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestApp_FilteredPullKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	till1 := newTestApp(t, srv, "till-1")
	till2 := newTestApp(t, srv, "till-2")

	_, err := till1.Record(ctx, RecordInput{EntityType: "customer", EntityID: "c-1", Action: "create", Data: json.RawMessage(`{"name":"Ann"}`)})
	require.NoError(t, err)
	_, err = till1.Push(ctx)
	require.NoError(t, err)
	_, err = till1.Record(ctx, RecordInput{EntityType: "product", EntityID: "p-1", Action: "create", Data: json.RawMessage(`{"name":"Milk"}`)})
	require.NoError(t, err)
	_, err = till1.Push(ctx)
	require.NoError(t, err)

	// Act
	partial, err := till2.Pull(ctx, []sync.EntityType{sync.EntityProduct})
	require.NoError(t, err)
	local, err := till2.LocalStatus(ctx)
	require.NoError(t, err)
	full, err := till2.Pull(ctx, nil)
	require.NoError(t, err)

	// Assert
	assert.True(t, partial.Partial)
	assert.Equal(t, 1, partial.Entities)
	assert.Nil(t, local.Checkpoint)

	assert.False(t, full.Partial)
	assert.Equal(t, 2, full.Entities)
	_, err = till2.Entity(ctx, sync.EntityCustomer, "c-1")
	assert.NoError(t, err)

	local, err = till2.LocalStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, local.Checkpoint)
	assert.True(t, full.Checkpoint.Equal(*local.Checkpoint))
}

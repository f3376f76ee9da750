package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/domain/entity"
	"possync/internal/domain/sync"
	"possync/internal/infrastructure/storage/memory"
	"possync/internal/lib/keylock"
)

func newAPI(t *testing.T) humatest.TestAPI {
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
	}, cfg, slog.Default())
	svc.SetDrainer(sync.NewProcessor(store.Queue(), appliers, locks, cfg, slog.Default()))

	_, api := humatest.New(t)
	Register(api, Services{Sync: svc, Pinger: store}, slog.Default())
	return api
}

func TestAPI_PushThenPull(t *testing.T) {
	api := newAPI(t)
	ts := time.Now().UTC().Add(-time.Minute)

	resp := api.Post("/sync/push", "X-User-ID: 1", "X-Shop-ID: 5", map[string]any{
		"device_id": "till-1",
		"changes": []map[string]any{
			{"entity_type": "product", "entity_id": "p-1", "action": "create", "data": map[string]any{"name": "Milk", "price": "1.20"}, "client_timestamp": ts},
			{"entity_type": "invoice", "entity_id": "i-1", "action": "create", "data": map[string]any{}, "client_timestamp": ts},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), `"enqueued":1`)
	assert.Contains(t, resp.Body.String(), `"rejected":1`)

	resp = api.Post("/sync/pull", "X-User-ID: 1", "X-Shop-ID: 5", map[string]any{"device_id": "till-2"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), `"entity_id":"p-1"`)

	resp = api.Post("/sync/pull", "X-User-ID: 1", "X-Shop-ID: 6", map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotContains(t, resp.Body.String(), `"p-1"`, "shops are isolated")

	resp = api.Get("/sync/devices", "X-User-ID: 1", "X-Shop-ID: 5")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "till-1")
	assert.Contains(t, resp.Body.String(), "till-2")
}

func TestAPI_Identity(t *testing.T) {
	api := newAPI(t)

	assert.Equal(t, http.StatusUnauthorized, api.Get("/sync/status", "X-Shop-ID: 5").Code)
	assert.Equal(t, http.StatusNotFound, api.Get("/sync/status", "X-User-ID: 1").Code)
	assert.Equal(t, http.StatusOK, api.Get("/sync/status", "X-User-ID: 1", "X-Shop-ID: 5").Code)
	assert.Equal(t, http.StatusOK, api.Get("/api/v1/health").Code, "health is public")
}

func TestNew(t *testing.T) {
	mux := New(Services{Sync: new(noopService)}, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "OK"))
}

// noopService заглушка для проверки сборки роутера.
type noopService struct{ sync.Servicer }

// POST /sync/push                    # Отправить изменения устройства
// POST /sync/pull                    # Получить серверные изменения
// GET  /sync/status                  # Сводка по очереди магазина
// GET  /sync/pending                 # Изменения, ожидающие применения
// GET  /sync/conflicts               # Неразрешенные конфликты
// POST /sync/conflicts/{id}/resolve  # Разрешить конфликт
// GET  /sync/history                 # Журнал изменений
// GET  /sync/devices                 # Устройства магазина
// GET  /api/v1/health                # Проверка доступности (публичный)

package api

import (
	healthAPI "possync/internal/app/server/api/http/health"
	"possync/internal/app/server/api/http/middleware"
	"possync/internal/app/server/api/http/middleware/identity"
	"possync/internal/app/server/api/http/middleware/logger"
	syncAPI "possync/internal/app/server/api/http/sync"
	"possync/internal/domain/sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"
)

type Handlers struct {
	Health *healthAPI.Handler
	Sync   *syncAPI.Handler
}

// Services зависимости HTTP слоя
type Services struct {
	Sync   sync.Servicer
	Pinger healthAPI.Pinger
}

// New создает *chi.Mux с ВСЕМИ операциями через huma.Register
func New(services Services, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()

	config := huma.DefaultConfig("possync API", "1.0.0")
	config.Info.Description = "Офлайн-синхронизация кассовых устройств магазина"
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"user": {Type: "apiKey", In: "header", Name: identity.HeaderUserID},
		"shop": {Type: "apiKey", In: "header", Name: identity.HeaderShopID},
	}

	API := humachi.New(mux, config)
	Register(API, services, log)

	return mux
}

// Register регистрирует все операции в API.
func Register(api huma.API, services Services, log *slog.Logger) {
	h := handlers(services, log)
	h.Health.SetupRoutes(api)
	h.Sync.SetupRoutes(api)
}

func handlers(services Services, log *slog.Logger) *Handlers {
	identityMW := identity.New(log)
	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := healthAPI.NewHandler(log, services.Pinger, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware(), identityMW.Middleware())
	syncHandler := syncAPI.NewHandler(services.Sync, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health: healthHandler,
		Sync:   syncHandler,
	}
}

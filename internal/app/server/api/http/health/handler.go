package health

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Pinger проверка доступности хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	log        *slog.Logger
	pinger     Pinger
	middleware huma.Middlewares
}

// NewHandler создает обработчик health check; pinger может быть nil.
func NewHandler(log *slog.Logger, pinger Pinger, middleware huma.Middlewares) *Handler {
	return &Handler{
		log:        log,
		pinger:     pinger,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(ctx context.Context, _ *Input) (*Output, error) {
	h.log.Debug("health check request received")

	storage := "skipped"
	if h.pinger != nil {
		if err := h.pinger.Ping(ctx); err != nil {
			h.log.Error("storage is unavailable", "error", err)
			return nil, huma.Error503ServiceUnavailable("storage is unavailable")
		}
		storage = "up"
	}

	return &Output{
		Body: Response{
			Status:  "OK",
			Storage: storage,
		},
	}, nil
}

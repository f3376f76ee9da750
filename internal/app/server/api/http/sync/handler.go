package sync

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"possync/internal/app/server/api/http/middleware/identity"
	"possync/internal/domain/sync"
)

type Handler struct {
	service    sync.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service sync.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log.With("component", "sync_handler"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.pushOp(), h.push)
	huma.Register(api, h.pullOp(), h.pull)
	huma.Register(api, h.statusOp(), h.status)
	huma.Register(api, h.pendingOp(), h.pending)
	huma.Register(api, h.conflictsOp(), h.conflicts)
	huma.Register(api, h.resolveOp(), h.resolve)
	huma.Register(api, h.historyOp(), h.history)
	huma.Register(api, h.devicesOp(), h.devices)
}

func (h *Handler) push(ctx context.Context, input *pushInput) (*pushOutput, error) {
	req := input.Body
	req.ShopID, req.UserID = scope(ctx)

	res, err := h.service.Push(ctx, req)
	if err != nil {
		return nil, h.toHTTP(ctx, err)
	}
	return &pushOutput{Body: res}, nil
}

func (h *Handler) pull(ctx context.Context, input *pullInput) (*pullOutput, error) {
	req := sync.PullRequest{
		DeviceID:    input.Body.DeviceID,
		EntityTypes: input.Body.EntityTypes,
		Limit:       input.Body.Limit,
	}
	req.ShopID, req.UserID = scope(ctx)
	if input.Body.LastSyncTimestamp != nil {
		req.LastSyncTimestamp = *input.Body.LastSyncTimestamp
	}

	res, err := h.service.Pull(ctx, req)
	if err != nil {
		return nil, h.toHTTP(ctx, err)
	}
	return &pullOutput{Body: res}, nil
}

func (h *Handler) status(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	shopID, _ := scope(ctx)
	res, err := h.service.Status(ctx, shopID)
	if err != nil {
		return nil, h.toHTTP(ctx, err)
	}
	return &statusOutput{Body: res}, nil
}

func (h *Handler) pending(ctx context.Context, input *pendingInput) (*itemsOutput, error) {
	shopID, _ := scope(ctx)
	items, err := h.service.Pending(ctx, shopID, input.Limit)
	if err != nil {
		return nil, h.toHTTP(ctx, err)
	}
	return newItemsOutput(items), nil
}

func (h *Handler) conflicts(ctx context.Context, input *pageInput) (*itemsOutput, error) {
	shopID, _ := scope(ctx)
	items, err := h.service.Conflicts(ctx, shopID, input.Limit, input.Offset)
	if err != nil {
		return nil, h.toHTTP(ctx, err)
	}
	return newItemsOutput(items), nil
}

func (h *Handler) resolve(ctx context.Context, input *resolveInput) (*itemOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid queue item id", &huma.ErrorDetail{
			Location: "path.id",
			Message:  err.Error(),
			Value:    input.ID,
		})
	}

	req := sync.ResolveRequest{
		ItemID:     id,
		Resolution: input.Body.Resolution,
		Data:       input.Body.Data,
	}
	req.ShopID, req.UserID = scope(ctx)

	item, err := h.service.Resolve(ctx, req)
	if err != nil {
		return nil, h.toHTTP(ctx, err)
	}
	return &itemOutput{Body: item}, nil
}

func (h *Handler) history(ctx context.Context, input *historyInput) (*itemsOutput, error) {
	shopID, _ := scope(ctx)

	var status *sync.Status
	if input.Status != "" {
		st := sync.Status(input.Status)
		status = &st
	}

	items, err := h.service.History(ctx, shopID, status, input.Limit, input.Offset)
	if err != nil {
		return nil, h.toHTTP(ctx, err)
	}
	return newItemsOutput(items), nil
}

func (h *Handler) devices(ctx context.Context, _ *struct{}) (*devicesOutput, error) {
	shopID, _ := scope(ctx)
	devices, err := h.service.Devices(ctx, shopID)
	if err != nil {
		return nil, h.toHTTP(ctx, err)
	}
	if devices == nil {
		devices = []*sync.Device{}
	}
	return &devicesOutput{Body: devicesResponse{Devices: devices}}, nil
}

// scope магазин и пользователь запроса; 0 означает, что шлюз их не передал.
func scope(ctx context.Context) (shopID, userID int64) {
	shopID, _ = identity.GetShopID(ctx)
	userID, _ = identity.GetUserID(ctx)
	return shopID, userID
}

// toHTTP переводит доменные ошибки в ответы huma.
func (h *Handler) toHTTP(ctx context.Context, err error) error {
	var verr *sync.ValidationError
	switch {
	case errors.As(err, &verr):
		details := make([]error, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			details = append(details, &huma.ErrorDetail{
				Location: "body." + f.Field,
				Message:  f.Message,
				Value:    f.Value,
			})
		}
		return huma.Error422UnprocessableEntity("validation failed", details...)

	case errors.Is(err, sync.ErrNoShop):
		return huma.Error404NotFound("shop not found")

	case errors.Is(err, sync.ErrItemNotFound):
		return huma.Error404NotFound("queue item not found")

	case errors.Is(err, sync.ErrInvalidTransition), errors.Is(err, sync.ErrEntityBusy):
		return huma.Error409Conflict(err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("request timed out")
	}

	shopID, _ := scope(ctx)
	h.log.Error("request failed", "shop_id", shopID, "error", err)
	return huma.Error500InternalServerError("internal error")
}

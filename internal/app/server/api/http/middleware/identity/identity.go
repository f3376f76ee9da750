// Package identity читает идентификаторы пользователя и магазина, которые проставляет шлюз.
package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderShopID = "X-Shop-ID"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	shopIDKey contextKey = "shopID"
)

type Identity struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Identity {
	return &Identity{
		log: log.With("component", "identity_middleware"),
	}
}

// Middleware без X-User-ID отвечает 401. Отсутствие X-Shop-ID не ошибка middleware:
// операции сами отвечают 404 "shop not found".
func (i *Identity) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		userID, ok := parseID(ctx.Header(HeaderUserID))
		if !ok {
			i.log.Warn("request without valid user id", "path", ctx.URL().Path)
			i.reject(ctx, http.StatusUnauthorized, "Unauthorized")
			return
		}

		newCtx := WithUserID(ctx.Context(), userID)
		if shopID, ok := parseID(ctx.Header(HeaderShopID)); ok {
			newCtx = WithShopID(newCtx, shopID)
		}

		next(huma.WithContext(ctx, newCtx))
	}
}

func (i *Identity) reject(ctx huma.Context, status int, msg string) {
	ctx.SetHeader("Content-Type", "application/problem+json")
	ctx.SetStatus(status)
	if err := json.NewEncoder(ctx.BodyWriter()).Encode(huma.NewError(status, msg)); err != nil {
		i.log.Error("failed to encode error response", "error", err)
	}
}

func parseID(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func WithShopID(ctx context.Context, shopID int64) context.Context {
	return context.WithValue(ctx, shopIDKey, shopID)
}

func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey).(int64)
	return userID, ok
}

// GetShopID возвращает 0, false если магазин не определен.
func GetShopID(ctx context.Context) (int64, bool) {
	shopID, ok := ctx.Value(shopIDKey).(int64)
	return shopID, ok
}

package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type whoami struct {
	UserID  int64 `json:"user_id"`
	ShopID  int64 `json:"shop_id"`
	HasShop bool  `json:"has_shop"`
}

type whoamiOutput struct {
	Body whoami
}

func setup(t *testing.T) humatest.TestAPI {
	_, api := humatest.New(t)
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/whoami",
		Middlewares: huma.Middlewares{New(slog.Default()).Middleware()},
	}, func(ctx context.Context, _ *struct{}) (*whoamiOutput, error) {
		out := &whoamiOutput{}
		out.Body.UserID, _ = GetUserID(ctx)
		out.Body.ShopID, out.Body.HasShop = GetShopID(ctx)
		return out, nil
	})
	return api
}

func TestIdentity_Middleware(t *testing.T) {
	tests := []struct {
		name       string
		headers    []any
		wantStatus int
		want       *whoami
	}{
		{
			name:       "user and shop",
			headers:    []any{"X-User-ID: 7", "X-Shop-ID: 3"},
			wantStatus: http.StatusOK,
			want:       &whoami{UserID: 7, ShopID: 3, HasShop: true},
		},
		{
			name:       "user without shop",
			headers:    []any{"X-User-ID: 7"},
			wantStatus: http.StatusOK,
			want:       &whoami{UserID: 7},
		},
		{
			name:       "missing user",
			headers:    []any{"X-Shop-ID: 3"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed user",
			headers:    []any{"X-User-ID: abc", "X-Shop-ID: 3"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed shop is treated as absent",
			headers:    []any{"X-User-ID: 7", "X-Shop-ID: -1"},
			wantStatus: http.StatusOK,
			want:       &whoami{UserID: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := setup(t)

			resp := api.Get("/whoami", tt.headers...)

			assert.Equal(t, tt.wantStatus, resp.Code)
			if tt.want != nil {
				var got whoami
				require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
				assert.Equal(t, *tt.want, got)
			}
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := WithShopID(WithUserID(context.Background(), 1), 2)

	userID, ok := GetUserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(1), userID)

	shopID, ok := GetShopID(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(2), shopID)

	_, ok = GetShopID(context.Background())
	assert.False(t, ok)
}

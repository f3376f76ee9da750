package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/config"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, &config.Config{Storage: config.StorageMemory}, slog.Default())
	require.NoError(t, err)
	assert.NoError(t, s.Ping(ctx))
	assert.NotNil(t, s.Queue())
	assert.NoError(t, s.Close())

	_, err = New(ctx, &config.Config{Storage: "redis"}, slog.Default())
	assert.Error(t, err)
}

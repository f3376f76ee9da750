package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func newFeedService(feed *MockFeed) *Service {
	return NewService(Dependencies{
		Queue:    new(MockQueue),
		Appliers: Appliers{},
		Feed:     feed,
		Locker:   noopLocker{},
	}, testConfig(), slog.Default())
}

func TestService_Pull_StopsAtFeedHorizon(t *testing.T) {
	// Arrange
	since := fixedNow.Add(-time.Hour)
	horizon := fixedNow.Add(-time.Minute)
	settled := &Entity{ShopID: 1, EntityType: EntityProduct, EntityID: "p-1", Revision: 1, UpdatedAt: horizon.Add(-time.Second)}

	feed := new(MockFeed)
	feed.On("Horizon", mock.Anything).Return(horizon, nil).Once()
	feed.On("ChangesSince", mock.Anything, int64(1), since, horizon, []EntityType(nil), 101).
		Return([]*Entity{settled}, nil).Once()

	// Act
	res, err := newFeedService(feed).Pull(context.Background(), PullRequest{ShopID: 1, LastSyncTimestamp: since})

	// Assert
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "p-1", res.Data[0].EntityID)
	assert.Equal(t, settled.UpdatedAt, res.Timestamp)
	assert.False(t, res.HasMore)
	feed.AssertExpectations(t)
}

func TestService_Pull_NothingSettledKeepsCursor(t *testing.T) {
	since := fixedNow.Add(-time.Minute)

	feed := new(MockFeed)
	feed.On("Horizon", mock.Anything).Return(since, nil).Once()
	feed.On("ChangesSince", mock.Anything, int64(1), since, since, []EntityType(nil), 101).
		Return([]*Entity{}, nil).Once()

	res, err := newFeedService(feed).Pull(context.Background(), PullRequest{ShopID: 1, LastSyncTimestamp: since})

	require.NoError(t, err)
	assert.Empty(t, res.Data)
	assert.Equal(t, since, res.Timestamp)
	feed.AssertExpectations(t)
}

func TestService_Pull_HorizonError(t *testing.T) {
	feed := new(MockFeed)
	feed.On("Horizon", mock.Anything).Return(time.Time{}, errors.New("stats unavailable")).Once()

	_, err := newFeedService(feed).Pull(context.Background(), PullRequest{ShopID: 1})

	assert.ErrorContains(t, err, "stats unavailable")
	feed.AssertNotCalled(t, "ChangesSince", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

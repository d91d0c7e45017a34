package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

func TestThreadTrackers(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	sent := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	for _, id := range []string{"m1", "m2"} {
		require.NoError(t, store.UpsertThreadTracker(ctx, &model.ThreadTracker{
			UserID: "user-1", ThreadID: "t1", MessageID: id, Type: model.TrackerAwaiting, SentAt: sent,
		}))
	}
	require.NoError(t, store.UpsertThreadTracker(ctx, &model.ThreadTracker{
		UserID: "user-1", ThreadID: "t2", MessageID: "m3", Type: model.TrackerAwaiting, SentAt: sent,
	}))

	open, err := store.OpenThreadTrackers(ctx, "user-1", model.TrackerAwaiting)
	require.NoError(t, err)
	assert.Len(t, open, 3)

	n, err := store.ResolveThreadTrackers(ctx, "user-1", "t1", model.TrackerAwaiting)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.ResolveThreadTrackers(ctx, "user-1", "t1", model.TrackerAwaiting)
	require.NoError(t, err)
	assert.Zero(t, n)

	open, err = store.OpenThreadTrackers(ctx, "user-1", model.TrackerAwaiting)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "t2", open[0].ThreadID)
	assert.True(t, open[0].SentAt.Equal(sent))

	// Upserting the same message replaces its tracker.
	require.NoError(t, store.UpsertThreadTracker(ctx, &model.ThreadTracker{
		UserID: "user-1", ThreadID: "t1", MessageID: "m2", Type: model.TrackerNeedsReply,
	}))
	needsReply, err := store.OpenThreadTrackers(ctx, "user-1", model.TrackerNeedsReply)
	require.NoError(t, err)
	require.Len(t, needsReply, 1)
	assert.Equal(t, "m2", needsReply[0].MessageID)
	assert.False(t, needsReply[0].SentAt.IsZero())
}

func TestUpsertThreadTracker_Invalid(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	err := store.UpsertThreadTracker(context.Background(), &model.ThreadTracker{
		UserID: "user-1", ThreadID: "t1", MessageID: "m1", Type: "WAITING",
	})
	assert.ErrorIs(t, err, ErrInvalidTracker)
}

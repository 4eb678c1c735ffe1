package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardmesh/boardmesh/pkg/models"
)

func newTestNotifier(t *testing.T) *RedisNotifier {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisNotifier(client, nil, nil)
}

func TestNotifyUsersRoundTrip(t *testing.T) {
	notifier := newTestNotifier(t)
	ctx := context.Background()

	sub, err := notifier.Subscribe(ctx, "wb-1")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	notice := models.Notification{
		Kind:         models.NotificationConflictDetected,
		WhiteboardID: "wb-1",
		ConflictID:   uuid.New(),
		Message:      "overlapping edits on the same shape",
		Suggestions:  []string{"keep your version"},
		SentAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, notifier.NotifyUsers(ctx, []string{"user-a", "user-b"}, notice))

	select {
	case delivery := <-sub.C:
		assert.Equal(t, []string{"user-a", "user-b"}, delivery.UserIDs)
		assert.Equal(t, notice.Kind, delivery.Notice.Kind)
		assert.Equal(t, notice.ConflictID, delivery.Notice.ConflictID)
		assert.Equal(t, notice.Message, delivery.Notice.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestSubscriptionIsolatedPerWhiteboard(t *testing.T) {
	notifier := newTestNotifier(t)
	ctx := context.Background()

	sub, err := notifier.Subscribe(ctx, "wb-other")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	notice := models.Notification{
		Kind:         models.NotificationConflictResolved,
		WhiteboardID: "wb-1",
		SentAt:       time.Now(),
	}
	require.NoError(t, notifier.NotifyUsers(ctx, []string{"user-a"}, notice))

	select {
	case delivery := <-sub.C:
		t.Fatalf("unexpected delivery on other whiteboard: %+v", delivery)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscriptionCloseStopsDeliveries(t *testing.T) {
	notifier := newTestNotifier(t)
	ctx := context.Background()

	sub, err := notifier.Subscribe(ctx, "wb-1")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	assert.Eventually(t, func() bool {
		_, open := <-sub.C
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/stores"
)

var (
	notificationsRoute = stores.Route{Entity: models.EntityNotification, Table: "notifications", Owner: stores.Realtime}
	mirrorRoute        = stores.Route{Entity: models.EntitySessionMirror, Table: "session_mirrors", Owner: stores.Realtime}
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test:"), mr
}

func TestInsertReadDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)
	require.NoError(t, store.Ping(ctx))

	n := &models.Notification{UserID: "u1", Type: "payment", Title: "Payment received"}
	n.Stamp(time.Now())
	require.NoError(t, store.Insert(ctx, notificationsRoute, n))
	require.True(t, mr.Exists("test:notifications:"+n.ID))

	require.ErrorIs(t, store.Insert(ctx, notificationsRoute, n), stores.ErrConflict)

	var loaded models.Notification
	require.NoError(t, store.Read(ctx, notificationsRoute, n.ID, &loaded))
	require.Equal(t, "Payment received", loaded.Title)

	require.NoError(t, store.Delete(ctx, notificationsRoute, n.ID))
	require.ErrorIs(t, store.Read(ctx, notificationsRoute, n.ID, &loaded), stores.ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, notificationsRoute, n.ID), stores.ErrNotFound)
	require.NoError(t, store.Remove(ctx, notificationsRoute, n.ID))
}

func TestUpdateRequiresExistingDocument(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	n := &models.Notification{UserID: "u1", Type: "club", Title: "Joined"}
	n.Stamp(time.Now())
	require.ErrorIs(t, store.Update(ctx, notificationsRoute, n), stores.ErrNotFound)

	require.NoError(t, store.Insert(ctx, notificationsRoute, n))
	n.IsRead = true
	require.NoError(t, store.Update(ctx, notificationsRoute, n))

	var loaded models.Notification
	require.NoError(t, store.Read(ctx, notificationsRoute, n.ID, &loaded))
	require.True(t, loaded.IsRead)
}

func TestExpiringRecordsCarryTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	mirror := &models.SessionMirror{TokenHash: "abc", UserID: "u1", ExpiresAt: time.Now().Add(time.Minute)}
	mirror.Stamp(time.Now())
	require.NoError(t, store.Upsert(ctx, mirrorRoute, mirror))

	ttl := mr.TTL("test:session_mirrors:abc")
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, time.Minute)

	mr.FastForward(2 * time.Minute)
	var loaded models.SessionMirror
	require.ErrorIs(t, store.Read(ctx, mirrorRoute, "abc", &loaded), stores.ErrNotFound)

	expired := &models.SessionMirror{TokenHash: "old", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.Upsert(ctx, mirrorRoute, expired))
	require.False(t, mr.Exists("test:session_mirrors:old"))
}

func TestListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	for i, user := range []string{"u1", "u2", "u1", "u1"} {
		n := &models.Notification{UserID: user, Type: "club", Title: "n"}
		n.Stamp(base.Add(time.Duration(i) * time.Minute))
		n.ID = string(rune('a' + i))
		require.NoError(t, store.Upsert(ctx, notificationsRoute, n))
	}

	var out []models.Notification
	require.NoError(t, store.List(ctx, notificationsRoute, stores.Filter{Where: map[string]any{"user_id": "u1"}, Limit: 2}, &out))
	require.Len(t, out, 2)
	require.Equal(t, "d", out[0].ID)
	require.Equal(t, "c", out[1].ID)
}

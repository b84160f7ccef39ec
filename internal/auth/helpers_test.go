package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tandem/internal/cache"
	"github.com/charlesng35/tandem/internal/database/testutil"
	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/storage"
	"github.com/charlesng35/tandem/internal/stores"
	"github.com/charlesng35/tandem/internal/stores/primary"
	"github.com/charlesng35/tandem/internal/stores/realtime"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type authFixture struct {
	svc      *storage.Service
	clock    *fakeClock
	sessions *SessionManager
	users    *storage.Collection[models.User, *models.User]
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	registry := stores.NewRegistry()
	require.NoError(t, registry.Register(primary.New(db)))
	require.NoError(t, registry.Register(realtime.New(client, "test:")))

	router, err := stores.NewRouter(registry, storage.DefaultRoutes())
	require.NoError(t, err)
	manager, err := cache.NewManager(cache.DefaultClasses())
	require.NoError(t, err)
	svc, err := storage.New(router, manager)
	require.NoError(t, err)
	t.Cleanup(svc.Wait)

	clock := newFakeClock()
	sessions, err := NewSessionManager(svc, SessionConfig{Clock: clock.Now})
	require.NoError(t, err)
	users, err := storage.For[models.User](svc, models.EntityUser)
	require.NoError(t, err)

	return &authFixture{svc: svc, clock: clock, sessions: sessions, users: users}
}

func (f *authFixture) createUser(t *testing.T, name string) *models.User {
	t.Helper()
	user := &models.User{Username: name, Email: name + "@example.com", IsActive: true}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

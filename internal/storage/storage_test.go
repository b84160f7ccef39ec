package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tandem/internal/cache"
	"github.com/charlesng35/tandem/internal/database/testutil"
	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/stores"
	"github.com/charlesng35/tandem/internal/stores/backup"
	"github.com/charlesng35/tandem/internal/stores/primary"
	"github.com/charlesng35/tandem/internal/stores/realtime"
	apperrors "github.com/charlesng35/tandem/pkg/errors"
)

var errStoreDown = errors.New("connection refused")

// flakyPrimary lets a test take the primary's reads offline while writes keep working.
type flakyPrimary struct {
	*primary.Store
	failReads atomic.Bool
	reads     atomic.Int64
	pause     atomic.Pointer[readPause]
}

// readPause holds the next read after it has loaded its record.
type readPause struct {
	loaded  chan struct{}
	release chan struct{}
}

func newReadPause() *readPause {
	return &readPause{loaded: make(chan struct{}), release: make(chan struct{})}
}

func (f *flakyPrimary) Read(ctx context.Context, route stores.Route, id string, dest models.Entity) error {
	f.reads.Add(1)
	if f.failReads.Load() {
		return errStoreDown
	}
	err := f.Store.Read(ctx, route, id, dest)
	if pause := f.pause.Swap(nil); pause != nil {
		close(pause.loaded)
		<-pause.release
	}
	return err
}

func (f *flakyPrimary) List(ctx context.Context, route stores.Route, filter stores.Filter, dest any) error {
	f.reads.Add(1)
	if f.failReads.Load() {
		return errStoreDown
	}
	return f.Store.List(ctx, route, filter, dest)
}

// countingBackup counts reads and can fail its health probe.
type countingBackup struct {
	*backup.Store
	failPing atomic.Bool
	reads    atomic.Int64
}

func (c *countingBackup) Ping(ctx context.Context) error {
	if c.failPing.Load() {
		return errStoreDown
	}
	return c.Store.Ping(ctx)
}

func (c *countingBackup) Read(ctx context.Context, route stores.Route, id string, dest models.Entity) error {
	c.reads.Add(1)
	return c.Store.Read(ctx, route, id, dest)
}

type harness struct {
	svc      *Service
	registry *stores.Registry
	primary  *flakyPrimary
	realtime *realtime.Store
	backup   *countingBackup
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	p := &flakyPrimary{Store: primary.New(db, primary.WithListScope(models.EntityPost, primary.PostFeed))}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rt := realtime.New(client, "test:")

	bk, err := backup.Open(backup.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bk.Close() })
	b := &countingBackup{Store: bk}

	registry := stores.NewRegistry(stores.WithProbeTimeout(time.Second))
	require.NoError(t, registry.Register(p))
	require.NoError(t, registry.Register(rt))
	require.NoError(t, registry.Register(b))

	router, err := stores.NewRouter(registry, DefaultRoutes())
	require.NoError(t, err)
	manager, err := cache.NewManager(cache.DefaultClasses())
	require.NoError(t, err)

	svc, err := New(router, manager, WithReplicationTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(svc.Wait)

	return &harness{svc: svc, registry: registry, primary: p, realtime: rt, backup: b}
}

func users(t *testing.T, svc *Service) *Collection[models.User, *models.User] {
	t.Helper()
	c, err := For[models.User](svc, models.EntityUser)
	require.NoError(t, err)
	return c
}

func clubs(t *testing.T, svc *Service) *Collection[models.Club, *models.Club] {
	t.Helper()
	c, err := For[models.Club](svc, models.EntityClub)
	require.NoError(t, err)
	return c
}

func newUser(name string) *models.User {
	return &models.User{Username: name, Email: name + "@example.com", Region: "gh"}
}

func newClub(ownerID string) *models.Club {
	return &models.Club{Name: "Susu circle", OwnerID: ownerID, Currency: "GHS", Cycle: models.CycleMonthly, ContributionAmount: 5000}
}

func TestDefaultRoutesAreValid(t *testing.T) {
	registry := stores.NewRegistry()
	router, err := stores.NewRouter(registry, DefaultRoutes())
	require.NoError(t, err)

	manager, err := cache.NewManager(cache.DefaultClasses())
	require.NoError(t, err)
	for _, route := range router.Routes() {
		if route.Cached() {
			require.True(t, manager.HasClass(route.CacheClass), route.Entity)
		}
	}
}

func TestForRejectsMismatchedEntity(t *testing.T) {
	h := newHarness(t)
	_, err := For[models.User](h.svc, models.EntityClub)
	require.Error(t, err)
	_, err = For[models.User](h.svc, "ledger")
	require.ErrorIs(t, err, stores.ErrUnknownEntity)
}

func TestCreateThenGetServesFromCacheAndReachesMirrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	user := newUser("ama")
	require.NoError(t, c.Create(ctx, user))
	require.NotEmpty(t, user.ID)

	got, info, err := c.Lookup(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, info.Cached)
	require.Equal(t, stores.Primary, info.Source)
	require.Equal(t, "ama", got.Username)

	h.svc.Wait()
	var mirrored models.User
	require.NoError(t, h.backup.Store.Read(ctx, c.Route(), user.ID, &mirrored))
	require.Equal(t, "ama", mirrored.Username)
	require.NoError(t, h.realtime.Read(ctx, c.Route(), user.ID, &mirrored))
}

func TestGetMissReadsOwnerAndPopulatesCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	user := newUser("kofi")
	require.NoError(t, c.Create(ctx, user))
	h.svc.Cache().ClearAll()

	_, info, err := c.Lookup(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, info.Cached)
	require.Equal(t, stores.Primary, info.Source)

	_, info, err = c.Lookup(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, info.Cached)
}

func TestGetMissingRecord(t *testing.T) {
	h := newHarness(t)
	_, err := users(t, h.svc).Get(context.Background(), "2b1c7d8e-0000-4000-8000-000000000000")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCorruptCacheEntryIsTreatedAsMiss(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	user := newUser("esi")
	require.NoError(t, c.Create(ctx, user))

	key, err := cache.Key(models.EntityUser, user.ID)
	require.NoError(t, err)
	require.NoError(t, h.svc.Cache().Set(cache.ClassUsers, key, []byte("{not json")))

	got, info, err := c.Lookup(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, info.Cached)
	require.Equal(t, "esi", got.Username)
}

func TestCreateRejectsInvalidPayloadBeforeWriting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	err := c.Create(ctx, &models.User{Username: "ab", Email: "not-an-email"})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	n, err := c.Count(ctx, stores.Filter{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	require.NoError(t, c.Create(ctx, newUser("yaw")))
	err := c.Create(ctx, newUser("yaw"))
	require.ErrorIs(t, err, apperrors.ErrConflictOnWrite)
}

func TestUpdateIsVisibleToNextRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	user := newUser("abena")
	require.NoError(t, c.Create(ctx, user))
	_, err := c.Get(ctx, user.ID)
	require.NoError(t, err)

	updated, err := c.Update(ctx, user.ID, map[string]any{"display_name": "Abena M."})
	require.NoError(t, err)
	require.Equal(t, "Abena M.", updated.DisplayName)

	got, info, err := c.Lookup(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, info.Cached)
	require.Equal(t, "Abena M.", got.DisplayName)

	h.svc.Wait()
	var mirrored models.User
	require.NoError(t, h.backup.Store.Read(ctx, c.Route(), user.ID, &mirrored))
	require.Equal(t, "Abena M.", mirrored.DisplayName)
}

func TestReadRacingUpdateDoesNotCacheStaleValue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	user := newUser("racer")
	user.DisplayName = "Before"
	require.NoError(t, c.Create(ctx, user))
	h.svc.Wait()
	key, err := cache.Key(models.EntityUser, user.ID)
	require.NoError(t, err)
	h.svc.cache.Invalidate(cache.ClassUsers, key)

	pause := newReadPause()
	h.primary.pause.Store(pause)

	type outcome struct {
		user *models.User
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		got, err := c.Get(ctx, user.ID)
		done <- outcome{user: got, err: err}
	}()

	<-pause.loaded
	_, err = c.Update(ctx, user.ID, map[string]any{"display_name": "After"})
	require.NoError(t, err)
	close(pause.release)

	racing := <-done
	require.NoError(t, racing.err)
	require.Equal(t, "Before", racing.user.DisplayName)

	got, info, err := c.Lookup(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, info.Cached)
	require.Equal(t, "After", got.DisplayName)
}

func TestUpdateRejectsBadPatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	user := newUser("akua")
	require.NoError(t, c.Create(ctx, user))

	_, err := c.Update(ctx, user.ID, map[string]any{"id": "other"})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	_, err = c.Update(ctx, user.ID, map[string]any{"nickname": "x"})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	_, err = c.Update(ctx, user.ID, map[string]any{"password_hash": "x"})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	_, err = c.Update(ctx, user.ID, map[string]any{"email": "broken"})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	_, err = c.Update(ctx, "2b1c7d8e-0000-4000-8000-000000000000", map[string]any{"display_name": "x"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateFuncPreservesHiddenFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	user := newUser("kwame")
	require.NoError(t, c.Create(ctx, user))

	_, err := c.UpdateFunc(ctx, user.ID, func(u *models.User) error {
		u.PasswordHash = "hash"
		return nil
	})
	require.NoError(t, err)

	_, err = c.Update(ctx, user.ID, map[string]any{"display_name": "Kwame"})
	require.NoError(t, err)

	var stored models.User
	require.NoError(t, h.primary.Store.Read(ctx, c.Route(), user.ID, &stored))
	require.Equal(t, "hash", stored.PasswordHash)
	require.Equal(t, "Kwame", stored.DisplayName)

	got, err := c.Get(ctx, user.ID)
	require.NoError(t, err)
	require.Empty(t, got.PasswordHash)
}

func TestDeleteDoesNotResurrectInMirrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := clubs(t, h.svc)

	club := newClub("owner-1")
	require.NoError(t, c.Create(ctx, club))
	require.NoError(t, c.Delete(ctx, club.ID))
	h.svc.Wait()

	var mirrored models.Club
	require.ErrorIs(t, h.backup.Store.Read(ctx, c.Route(), club.ID, &mirrored), stores.ErrNotFound)

	_, err := c.Get(ctx, club.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.ErrorIs(t, c.Delete(ctx, club.ID), apperrors.ErrNotFound)
}

func TestLockRecordHoldsBackPropagation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	user := newUser("locked")
	user.ID = "7f3c2a10-0000-4000-8000-000000000001"
	unlock := h.svc.LockRecord("users", user.ID)
	require.NoError(t, c.Create(ctx, user))

	var mirrored models.User
	require.Never(t, func() bool {
		return h.backup.Store.Read(ctx, c.Route(), user.ID, &mirrored) == nil
	}, 200*time.Millisecond, 20*time.Millisecond)

	unlock()
	h.svc.Wait()
	require.NoError(t, h.backup.Store.Read(ctx, c.Route(), user.ID, &mirrored))
}

func TestDegradedReadFromFallbackIsNotCached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	user := newUser("adjoa")
	require.NoError(t, c.Create(ctx, user))
	h.svc.Wait()
	h.svc.Cache().ClearAll()

	h.primary.failReads.Store(true)
	got, info, err := c.Lookup(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, info.Degraded)
	require.Equal(t, stores.Realtime, info.Source)
	require.Equal(t, "adjoa", got.Username)

	_, info, err = c.Lookup(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, info.Degraded)
	require.False(t, info.Cached)

	h.primary.failReads.Store(false)
	_, info, err = c.Lookup(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, info.Degraded)
	require.Equal(t, stores.Primary, info.Source)
}

func TestUnhealthyFallbackIsNotAttempted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := clubs(t, h.svc)

	club := newClub("owner-2")
	require.NoError(t, c.Create(ctx, club))
	h.svc.Wait()
	h.svc.Cache().ClearAll()

	h.backup.failPing.Store(true)
	h.registry.HealthCheck(ctx)
	h.registry.HealthCheck(ctx)
	require.False(t, h.registry.Healthy(stores.Backup))

	h.primary.failReads.Store(true)
	_, err := c.Get(ctx, club.ID)
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	require.Zero(t, h.backup.reads.Load())

	h.backup.failPing.Store(false)
	h.registry.HealthCheck(ctx)
	require.True(t, h.registry.Healthy(stores.Backup))

	_, info, err := c.Lookup(ctx, club.ID)
	require.NoError(t, err)
	require.True(t, info.Degraded)
	require.Equal(t, stores.Backup, info.Source)
	require.Equal(t, int64(1), h.backup.reads.Load())
}

func TestListIsNewestFirstAndCachedPerFilter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := base
	h.svc.now = func() time.Time { tick = tick.Add(time.Minute); return tick }
	c := clubs(t, h.svc)

	for i := 0; i < 3; i++ {
		club := newClub("owner-3")
		if i == 2 {
			club.Region = "ng"
		}
		require.NoError(t, c.Create(ctx, club))
	}

	all, err := c.List(ctx, stores.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

	regional, err := c.List(ctx, stores.Filter{Region: "ng"})
	require.NoError(t, err)
	require.Len(t, regional, 1)

	h.svc.Wait()
	reads := h.primary.reads.Load()
	_, err = c.List(ctx, stores.Filter{Region: "ng"})
	require.NoError(t, err)
	require.Equal(t, reads, h.primary.reads.Load())

	require.NoError(t, c.Create(ctx, newClub("owner-3")))
	all, err = c.List(ctx, stores.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)

	_, err = c.List(ctx, stores.Filter{OrderBy: "name; drop table clubs"})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)
}

func TestPostFeedThroughFacade(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := users(t, h.svc)
	author := newUser("poster")
	author.DisplayName = "The Poster"
	require.NoError(t, u.Create(ctx, author))

	posts, err := For[models.Post](h.svc, models.EntityPost)
	require.NoError(t, err)
	likes, err := For[models.PostLike](h.svc, models.EntityPostLike)
	require.NoError(t, err)

	post := &models.Post{AuthorID: author.ID, Body: "First contribution in!"}
	require.NoError(t, posts.Create(ctx, post))
	require.NoError(t, likes.Create(ctx, &models.PostLike{PostID: post.ID, UserID: author.ID}))

	feed, err := posts.List(ctx, stores.Filter{Viewer: author.ID})
	require.NoError(t, err)
	require.Len(t, feed, 1)
	require.Equal(t, int64(1), feed[0].LikeCount)
	require.Equal(t, "The Poster", feed[0].AuthorName)
	require.True(t, feed[0].ViewerLiked)
}

func TestAuthorRenameRefreshesCachedFeed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := users(t, h.svc)
	author := newUser("renamer")
	author.DisplayName = "Old Name"
	require.NoError(t, u.Create(ctx, author))

	posts, err := For[models.Post](h.svc, models.EntityPost)
	require.NoError(t, err)
	require.NoError(t, posts.Create(ctx, &models.Post{AuthorID: author.ID, Body: "dues paid"}))

	feed, err := posts.List(ctx, stores.Filter{})
	require.NoError(t, err)
	require.Len(t, feed, 1)
	require.Equal(t, "Old Name", feed[0].AuthorName)

	_, err = u.Update(ctx, author.ID, map[string]any{"display_name": "New Name"})
	require.NoError(t, err)

	feed, err = posts.List(ctx, stores.Filter{})
	require.NoError(t, err)
	require.Len(t, feed, 1)
	require.Equal(t, "New Name", feed[0].AuthorName)
}

func TestNotificationsOwnedByRealtime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := For[models.Notification](h.svc, models.EntityNotification)
	require.NoError(t, err)

	n := &models.Notification{UserID: "u1", Type: "payment", Title: "Contribution received"}
	require.NoError(t, c.Create(ctx, n))
	h.svc.Wait()

	var stored models.Notification
	require.NoError(t, h.realtime.Read(ctx, c.Route(), n.ID, &stored))
	require.NoError(t, h.backup.Store.Read(ctx, c.Route(), n.ID, &stored))

	listed, err := c.List(ctx, stores.Filter{Where: map[string]any{"user_id": "u1"}})
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestAdminStatsAreCachedUntilMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := users(t, h.svc)

	require.NoError(t, c.Create(ctx, newUser("one")))
	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Users)

	cached, ok := h.svc.Cache().Get(cache.ClassStats, AdminStatsKey)
	require.True(t, ok)
	require.Equal(t, stats, cached)

	require.NoError(t, c.Create(ctx, newUser("two")))
	_, ok = h.svc.Cache().Get(cache.ClassStats, AdminStatsKey)
	require.False(t, ok)

	stats, err = h.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Users)
}

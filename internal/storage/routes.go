package storage

import (
	"github.com/charlesng35/tandem/internal/cache"
	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/stores"
)

// DefaultRoutes is the routing table loaded at startup. Table names are part of the external
// contract shared with every store.
func DefaultRoutes() []stores.Route {
	return []stores.Route{
		{
			Entity:      models.EntityUser,
			Table:       "users",
			Owner:       stores.Primary,
			Mirrors:     []stores.Name{stores.Realtime, stores.Backup, stores.Analytics},
			Fallback:    stores.Realtime,
			CacheClass:  cache.ClassUsers,
			Invalidates: []string{cache.ClassPosts, cache.ClassStats},
			Critical:    true,
		},
		{
			Entity:      models.EntityClub,
			Table:       "clubs",
			Owner:       stores.Primary,
			Mirrors:     []stores.Name{stores.Backup, stores.Analytics},
			Fallback:    stores.Backup,
			CacheClass:  cache.ClassClubs,
			Invalidates: []string{cache.ClassStats},
			Critical:    true,
		},
		{
			Entity:      models.EntityMembership,
			Table:       "memberships",
			Owner:       stores.Primary,
			Mirrors:     []stores.Name{stores.Backup},
			Fallback:    stores.Backup,
			CacheClass:  cache.ClassClubs,
			Invalidates: []string{cache.ClassClubs},
			Critical:    true,
		},
		{
			Entity:      models.EntityPayment,
			Table:       "payments",
			Owner:       stores.Primary,
			Mirrors:     []stores.Name{stores.Backup, stores.Analytics},
			Fallback:    stores.Backup,
			Pinned:      true,
			CacheClass:  cache.ClassPayments,
			Invalidates: []string{cache.ClassClubs, cache.ClassStats},
			Critical:    true,
		},
		{
			Entity:      models.EntityPost,
			Table:       "posts",
			Owner:       stores.Primary,
			Mirrors:     []stores.Name{stores.Backup, stores.Analytics},
			Fallback:    stores.Backup,
			CacheClass:  cache.ClassPosts,
			Invalidates: []string{cache.ClassStats},
		},
		{
			Entity:      models.EntityPostLike,
			Table:       "post_likes",
			Owner:       stores.Primary,
			Mirrors:     []stores.Name{stores.Analytics},
			CacheClass:  cache.ClassPosts,
			Invalidates: []string{cache.ClassPosts},
		},
		{
			Entity:      models.EntityPostComment,
			Table:       "post_comments",
			Owner:       stores.Primary,
			Mirrors:     []stores.Name{stores.Backup, stores.Analytics},
			CacheClass:  cache.ClassPosts,
			Invalidates: []string{cache.ClassPosts},
		},
		{
			Entity:      models.EntityListing,
			Table:       "listings",
			Owner:       stores.Primary,
			Mirrors:     []stores.Name{stores.Backup, stores.Analytics},
			Fallback:    stores.Backup,
			CacheClass:  cache.ClassListings,
			Invalidates: []string{cache.ClassStats},
		},
		{
			Entity:     models.EntityNotification,
			Table:      "notifications",
			Owner:      stores.Realtime,
			Mirrors:    []stores.Name{stores.Backup},
			Fallback:   stores.Backup,
			CacheClass: cache.ClassNotifications,
		},
		{
			Entity: models.EntitySession,
			Table:  "sessions",
			Owner:  stores.Primary,
			Pinned: true,
		},
		{
			Entity: models.EntitySessionMirror,
			Table:  "session_mirrors",
			Owner:  stores.Realtime,
		},
		{
			Entity: models.EntityResetRequest,
			Table:  "reset_requests",
			Owner:  stores.Realtime,
		},
		{
			Entity: models.EntityResetMarker,
			Table:  "reset_markers",
			Owner:  stores.Primary,
			Pinned: true,
		},
	}
}

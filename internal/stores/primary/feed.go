package primary

import (
	"gorm.io/gorm"

	"github.com/charlesng35/tandem/internal/stores"
)

// PostFeed computes like and comment counts, the author's display name and whether the viewer
// liked each post in the same statement that selects the posts.
func PostFeed(db *gorm.DB, route stores.Route, filter stores.Filter) *gorm.DB {
	return db.Table(route.Table).
		Select(`posts.*,
			(SELECT COUNT(*) FROM post_likes pl WHERE pl.post_id = posts.id) AS like_count,
			(SELECT COUNT(*) FROM post_comments pc WHERE pc.post_id = posts.id) AS comment_count,
			COALESCE(NULLIF(author.display_name, ''), author.username, '') AS author_name,
			EXISTS (SELECT 1 FROM post_likes vl WHERE vl.post_id = posts.id AND vl.user_id = ?) AS viewer_liked`,
			filter.Viewer).
		Joins("LEFT JOIN users author ON author.id = posts.author_id")
}

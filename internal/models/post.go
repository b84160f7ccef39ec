package models

// Post is a social feed entry. The count and author fields are computed by the feed query.
type Post struct {
	BaseModel

	AuthorID string `gorm:"type:uuid;not null;index" json:"author_id" validate:"required"`
	ClubID   string `gorm:"type:uuid;index" json:"club_id,omitempty"`
	Region   string `gorm:"type:varchar(32);index" json:"region" validate:"omitempty,region"`
	Body     string `gorm:"type:text;not null" json:"body" validate:"required,max=4000"`
	ImageURL string `json:"image_url,omitempty" validate:"omitempty,url"`

	LikeCount    int64  `gorm:"->;-:migration" json:"like_count"`
	CommentCount int64  `gorm:"->;-:migration" json:"comment_count"`
	AuthorName   string `gorm:"->;-:migration" json:"author_name"`
	ViewerLiked  bool   `gorm:"->;-:migration" json:"viewer_liked"`
}

func (Post) EntityName() string { return EntityPost }

// PostLike records a single user's like on a post.
type PostLike struct {
	BaseModel

	PostID string `gorm:"type:uuid;not null;uniqueIndex:idx_post_like_user" json:"post_id" validate:"required"`
	UserID string `gorm:"type:uuid;not null;uniqueIndex:idx_post_like_user" json:"user_id" validate:"required"`
}

func (PostLike) EntityName() string { return EntityPostLike }

// PostComment is a reply to a post.
type PostComment struct {
	BaseModel

	PostID   string `gorm:"type:uuid;not null;index" json:"post_id" validate:"required"`
	AuthorID string `gorm:"type:uuid;not null;index" json:"author_id" validate:"required"`
	Body     string `gorm:"type:text;not null" json:"body" validate:"required,max=2000"`
}

func (PostComment) EntityName() string { return EntityPostComment }

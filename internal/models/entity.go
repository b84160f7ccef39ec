package models

import "time"

// Entity names used by the routing table.
const (
	EntityUser          = "user"
	EntityClub          = "club"
	EntityMembership    = "membership"
	EntityPayment       = "payment"
	EntityPost          = "post"
	EntityPostLike      = "post_like"
	EntityPostComment   = "post_comment"
	EntityListing       = "listing"
	EntityNotification  = "notification"
	EntitySession       = "session"
	EntitySessionMirror = "session_mirror"
	EntityResetRequest  = "reset_request"
	EntityResetMarker   = "reset_marker"
)

// Entity is implemented by every record persisted through the store router.
type Entity interface {
	EntityName() string
	EntityKey() string
	CreatedTime() time.Time
	Stamp(now time.Time)
}

// Expiring is implemented by records that must disappear from TTL-capable stores.
type Expiring interface {
	ExpiresTime() time.Time
}

var constructors = map[string]func() Entity{
	EntityUser:          func() Entity { return &User{} },
	EntityClub:          func() Entity { return &Club{} },
	EntityMembership:    func() Entity { return &Membership{} },
	EntityPayment:       func() Entity { return &Payment{} },
	EntityPost:          func() Entity { return &Post{} },
	EntityPostLike:      func() Entity { return &PostLike{} },
	EntityPostComment:   func() Entity { return &PostComment{} },
	EntityListing:       func() Entity { return &Listing{} },
	EntityNotification:  func() Entity { return &Notification{} },
	EntitySession:       func() Entity { return &Session{} },
	EntitySessionMirror: func() Entity { return &SessionMirror{} },
	EntityResetRequest:  func() Entity { return &ResetRequest{} },
	EntityResetMarker:   func() Entity { return &ResetMarker{} },
}

// New returns an empty record for an entity name.
func New(name string) (Entity, bool) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/pkg/errors"
	"github.com/charlesng35/tandem/pkg/response"
)

const (
	CtxUserIDKey   = "userID"
	CtxUsernameKey = "username"
)

// SessionValidator resolves an opaque session token to its user.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*models.User, error)
}

// Auth enforces session authentication against the primary session store.
func Auth(sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Abort(c, errors.ErrUnauthorized)
			return
		}

		user, err := sessions.ValidateSession(c.Request.Context(), strings.TrimSpace(authz[7:]))
		if err != nil {
			// Every validation failure is reported as 401.
			c.Header("WWW-Authenticate", "Bearer")
			response.Abort(c, errors.ErrUnauthorized)
			return
		}

		c.Set(CtxUserIDKey, user.ID)
		c.Set(CtxUsernameKey, user.Username)
		c.Next()
	}
}

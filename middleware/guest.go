package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	GuestCookieName = "guest_session_id"
	guestCookieAge  = 30 * 24 * 60 * 60
)

type guestKey struct{}

// GuestSession makes sure every request carries a guest session id, issuing
// the cookie on first contact.
func GuestSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(GuestCookieName)
		if err != nil || uuid.Validate(sessionID) != nil {
			sessionID = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(GuestCookieName, sessionID, guestCookieAge, "/", "", false, true)
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), guestKey{}, sessionID))
		c.Next()
	}
}

// GuestSessionID returns the guest session id set by GuestSession.
func GuestSessionID(ctx context.Context) string {
	id, _ := ctx.Value(guestKey{}).(string)
	return id
}

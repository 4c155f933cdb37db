package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const reviewerKey = "reviewer"

// Middleware accepts the session token from the cookie or an
// "Authorization: Bearer" header and stores the token subject as the
// reviewer identity.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			if cookie, err := c.Cookie(sessionCookieName); err == nil {
				token = cookie
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Missing session token", "code": "UNAUTHORIZED"})
			return
		}
		subject, err := a.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid session token", "code": "UNAUTHORIZED"})
			return
		}
		c.Set(reviewerKey, subject)
		c.Next()
	}
}

// Reviewer returns the authenticated identity, or "" outside the middleware.
func Reviewer(c *gin.Context) string {
	return c.GetString(reviewerKey)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

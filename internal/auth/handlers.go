package auth

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// LoginPayload defines the expected JSON structure for login requests.
// Reviewer, when set, names the person behind the shared operator account
// and becomes the identity recorded on claims and resolutions.
type LoginPayload struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Reviewer string `json:"reviewer"`
}

const sessionCookieName = "canonsafe_session"

// LoginHandler checks credentials and issues a session token as both a
// cookie and a JSON field.
func (a *Authenticator) LoginHandler(c *gin.Context) {
	var payload LoginPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "code": "VALIDATION_ERROR"})
		return
	}
	if a.username == "" || a.password == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Admin credentials not configured on server", "code": "INTERNAL"})
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(payload.Username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(payload.Password), []byte(a.password)) == 1
	if !userOK || !passOK {
		log.Printf("Failed login attempt for user %q", payload.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials", "code": "UNAUTHORIZED"})
		return
	}

	subject := strings.TrimSpace(payload.Reviewer)
	if subject == "" {
		subject = payload.Username
	}
	token, err := a.IssueToken(subject)
	if err != nil {
		log.Printf("Error issuing session token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not issue session token", "code": "INTERNAL"})
		return
	}
	c.SetCookie(sessionCookieName, token, int(a.ttl.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"message":  "Login successful",
		"token":    token,
		"reviewer": subject,
	})
}

// LogoutHandler clears the session cookie.
func (a *Authenticator) LogoutHandler(c *gin.Context) {
	c.SetCookie(sessionCookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

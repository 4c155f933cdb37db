package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(Config{Username: "admin", Password: "pw", Secret: "k", TokenTTL: time.Hour})
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	a := newTestAuthenticator()
	token, err := a.IssueToken("ana")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	subject, err := a.VerifyToken(token)
	if err != nil || subject != "ana" {
		t.Fatalf("verify = %q, %v", subject, err)
	}
	if _, err := a.IssueToken(" "); err == nil {
		t.Fatal("blank subject accepted")
	}
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()
	a := newTestAuthenticator()
	token, err := a.IssueToken("ana")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewAuthenticator(Config{Username: "admin", Password: "pw", Secret: "other", TokenTTL: time.Hour})
	if _, err := other.VerifyToken(token); err == nil {
		t.Error("token signed with another key accepted")
	}

	late := newTestAuthenticator()
	late.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	if _, err := late.VerifyToken(token); err == nil {
		t.Error("expired token accepted")
	}

	if _, err := a.VerifyToken(token + "x"); err == nil {
		t.Error("tampered token accepted")
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"":             "",
	}
	for header, want := range tests {
		if got := bearerToken(header); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(a *Authenticator) *gin.Engine {
	r := gin.New()
	r.POST("/login", a.LoginHandler)
	r.POST("/logout", a.LogoutHandler)
	r.GET("/me", a.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"reviewer": Reviewer(c)})
	})
	return r
}

func TestLoginAndMiddleware(t *testing.T) {
	t.Parallel()
	r := newRouter(newTestAuthenticator())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"admin","password":"nope"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"admin","password":"pw","reviewer":"bo"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"reviewer":"bo"`) {
		t.Fatalf("cookie session = %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no session = %d", w.Code)
	}
}

func TestLoginWithoutConfiguredCredentials(t *testing.T) {
	t.Parallel()
	r := newRouter(NewAuthenticator(Config{Secret: "k"}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"a","password":"b"}`)))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("unconfigured login = %d", w.Code)
	}
}

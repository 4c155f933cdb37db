package apigateway

import (
	"net/http"

	"canonsafe-governance/backend/internal/auth"
	"canonsafe-governance/backend/internal/configmanagement"
	"canonsafe-governance/backend/internal/jobmanagement"
	"canonsafe-governance/backend/internal/reviewmanagement"

	"github.com/gin-gonic/gin"
)

// Services bundles everything the router mounts.
type Services struct {
	Auth    *auth.Authenticator
	Config  *configmanagement.Handlers
	Jobs    *jobmanagement.Handlers
	Reviews *reviewmanagement.Handlers
}

// SetupRouter initializes the main Gin router for the API gateway.
// It includes public routes and authenticated routes.
func SetupRouter(s Services) *gin.Engine {
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/login", s.Auth.LoginHandler)
		authRoutes.POST("/logout", s.Auth.LogoutHandler)
	}

	// Every API route requires a session; the token subject is the reviewer.
	api := router.Group("/api/v1")
	api.Use(s.Auth.Middleware())
	{
		s.Config.RegisterRoutes(api)
		s.Jobs.RegisterRoutes(api)
		s.Reviews.RegisterRoutes(api)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "code": "NOT_FOUND"})
	})
	return router
}

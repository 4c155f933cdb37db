// Package configmanagement serves the operator-managed configuration:
// judges, consent records and certification test suites.
package configmanagement

import (
	"canonsafe-governance/backend/internal/coreengine/consentgate"
	"canonsafe-governance/backend/internal/coreengine/criticadapters"
	"canonsafe-governance/backend/internal/coreengine/decisionengine"
	"canonsafe-governance/backend/internal/datastore"

	"github.com/gin-gonic/gin"
)

// Handlers holds the dependencies of the configuration routes.
type Handlers struct {
	Store     *datastore.Store
	Decisions *decisionengine.Engine
	Health    *criticadapters.HealthMonitor
	Consent   *consentgate.Gate
}

// RegisterRoutes mounts judges, consent and test suites under rg.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	judgeRoutes := rg.Group("/judges")
	{
		judgeRoutes.POST("", h.CreateJudgeHandler)
		judgeRoutes.GET("", h.ListJudgesHandler)
		judgeRoutes.GET("/:id", h.GetJudgeHandler)
		judgeRoutes.POST("/:id/test", h.TestJudgeHandler)
		judgeRoutes.POST("/:id/health-check", h.HealthCheckJudgeHandler)
		judgeRoutes.DELETE("/:id", h.DeactivateJudgeHandler)
	}

	consentRoutes := rg.Group("/consent")
	{
		consentRoutes.POST("", h.CreateConsentHandler)
		consentRoutes.GET("", h.ListConsentHandler)
		consentRoutes.POST("/check", h.CheckConsentHandler)
		consentRoutes.POST("/:id/strike", h.StrikeConsentHandler)
	}

	suiteRoutes := rg.Group("/test-suites")
	{
		suiteRoutes.POST("", h.CreateTestSuiteHandler)
		suiteRoutes.GET("", h.ListTestSuitesHandler)
		suiteRoutes.GET("/:id", h.GetTestSuiteHandler)
	}
}

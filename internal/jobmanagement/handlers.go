// Package jobmanagement serves the work-producing routes: evaluations,
// A/B experiments and certification runs, plus the background sweeper.
package jobmanagement

import (
	"strconv"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/coreengine/certificationengine"
	"canonsafe-governance/backend/internal/coreengine/decisionengine"
	"canonsafe-governance/backend/internal/coreengine/experimentengine"
	"canonsafe-governance/backend/internal/datastore"
	"canonsafe-governance/backend/internal/objectstore"

	"github.com/gin-gonic/gin"
)

// Handlers holds the dependencies of the job routes. Archive may be nil.
type Handlers struct {
	Store          *datastore.Store
	Decisions      *decisionengine.Engine
	Experiments    *experimentengine.Engine
	Certifications *certificationengine.Engine
	Archive        objectstore.Archiver
}

// RegisterRoutes mounts evaluations, ab-testing and certifications under rg.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	evalRoutes := rg.Group("/evaluations")
	{
		evalRoutes.POST("", h.CreateEvaluationHandler)
		evalRoutes.GET("", h.ListEvaluationsHandler)
		evalRoutes.GET("/:id", h.GetEvaluationHandler)
		evalRoutes.GET("/:id/evidence", h.GetEvaluationEvidenceHandler)
	}

	abRoutes := rg.Group("/ab-testing")
	{
		abRoutes.POST("", h.CreateExperimentHandler)
		abRoutes.GET("", h.ListExperimentsHandler)
		abRoutes.GET("/:id", h.GetExperimentHandler)
		abRoutes.POST("/:id/start", h.StartExperimentHandler)
		abRoutes.POST("/:id/cancel", h.CancelExperimentHandler)
		abRoutes.POST("/:id/run-trial", h.RunTrialHandler)
		abRoutes.POST("/:id/complete", h.CompleteExperimentHandler)
	}

	certRoutes := rg.Group("/certifications")
	{
		certRoutes.POST("", h.CreateCertificationHandler)
		certRoutes.GET("", h.ListCertificationsHandler)
		certRoutes.GET("/:id", h.GetCertificationHandler)
		certRoutes.PATCH("/:id", h.OverrideCertificationHandler)
		certRoutes.GET("/:id/report", h.GetCertificationReportHandler)
	}
}

// pageParams reads ?limit and ?offset.
func pageParams(c *gin.Context) (limit, offset int, err error) {
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return 0, 0, apperrors.Invalid("limit", "limit must be a non-negative integer")
		}
	}
	if v := c.Query("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, apperrors.Invalid("offset", "offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

package jobmanagement

import (
	"net/http"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/coreengine/experimentengine"

	"github.com/gin-gonic/gin"
)

// CreateExperimentHandler stores a draft experiment.
func (h *Handlers) CreateExperimentHandler(c *gin.Context) {
	var req experimentengine.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	exp, err := h.Experiments.Create(c.Request.Context(), req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, exp)
}

// ListExperimentsHandler lists experiments, optionally by ?status.
func (h *Handlers) ListExperimentsHandler(c *gin.Context) {
	exps, err := h.Experiments.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, exps)
}

// GetExperimentHandler returns an experiment with its summary and trials.
func (h *Handlers) GetExperimentHandler(c *gin.Context) {
	detail, err := h.Experiments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// StartExperimentHandler moves a draft experiment to running.
func (h *Handlers) StartExperimentHandler(c *gin.Context) {
	exp, err := h.Experiments.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// CancelExperimentHandler cancels a draft or running experiment.
func (h *Handlers) CancelExperimentHandler(c *gin.Context) {
	exp, err := h.Experiments.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// RunTrialHandler evaluates one content sample under both variants.
func (h *Handlers) RunTrialHandler(c *gin.Context) {
	var req experimentengine.TrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	pair, err := h.Experiments.RunTrial(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, pair)
}

// CompleteExperimentHandler runs the significance test and freezes the winner.
func (h *Handlers) CompleteExperimentHandler(c *gin.Context) {
	exp, err := h.Experiments.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

package jobmanagement

import (
	"net/http"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/auth"
	"canonsafe-governance/backend/internal/coreengine/certificationengine"
	"canonsafe-governance/backend/internal/datastore"

	"github.com/gin-gonic/gin"
)

// CreateCertificationHandler runs a test suite against an agent and stores
// the certification.
func (h *Handlers) CreateCertificationHandler(c *gin.Context) {
	var req certificationengine.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	cert, err := h.Certifications.Run(c.Request.Context(), req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

// ListCertificationsHandler lists certifications by agent_id, character_id
// and status.
func (h *Handlers) ListCertificationsHandler(c *gin.Context) {
	certs, err := h.Certifications.List(c.Request.Context(), datastore.CertificationFilter{
		AgentID:     c.Query("agent_id"),
		CharacterID: c.Query("character_id"),
		Status:      c.Query("status"),
	})
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, certs)
}

// GetCertificationHandler returns one certification.
func (h *Handlers) GetCertificationHandler(c *gin.Context) {
	cert, err := h.Certifications.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

// OverrideCertificationHandler applies a manual status or score override.
// The operator defaults to the authenticated reviewer.
func (h *Handlers) OverrideCertificationHandler(c *gin.Context) {
	var req certificationengine.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	if req.Operator == "" {
		req.Operator = auth.Reviewer(c)
	}
	cert, err := h.Certifications.Override(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

// GetCertificationReportHandler returns the archived certification report.
func (h *Handlers) GetCertificationReportHandler(c *gin.Context) {
	body, err := h.Certifications.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

package configmanagement

import (
	"net/http"
	"strings"
	"time"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/auth"
	"canonsafe-governance/backend/internal/coreengine/consentgate"
	"canonsafe-governance/backend/internal/datastore"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateConsentRequest is the body of POST /consent.
type CreateConsentRequest struct {
	CharacterID       string     `json:"character_id" binding:"required"`
	PerformerName     string     `json:"performer_name" binding:"required"`
	ConsentType       string     `json:"consent_type" binding:"required"`
	Territories       []string   `json:"territories"`
	Modalities        []string   `json:"modalities"`
	UsageRestrictions []string   `json:"usage_restrictions"`
	ValidFrom         *time.Time `json:"valid_from"`
	ValidUntil        *time.Time `json:"valid_until"`
	StrikeClause      bool       `json:"strike_clause"`
}

func consentFromRequest(req CreateConsentRequest) (*datastore.ConsentRecord, error) {
	switch req.ConsentType {
	case datastore.ConsentVoice, datastore.ConsentLikeness, datastore.ConsentFull:
	default:
		return nil, apperrors.Invalid("consent_type", "consent_type must be voice, likeness or full")
	}
	if strings.TrimSpace(req.CharacterID) == "" || strings.TrimSpace(req.PerformerName) == "" {
		return nil, apperrors.Invalid("", "character_id and performer_name are required")
	}
	rec := &datastore.ConsentRecord{
		ID:                "cns_" + uuid.NewString(),
		CharacterID:       req.CharacterID,
		PerformerName:     req.PerformerName,
		ConsentType:       req.ConsentType,
		Territories:       req.Territories,
		Modalities:        req.Modalities,
		UsageRestrictions: req.UsageRestrictions,
		ValidUntil:        req.ValidUntil,
		StrikeClause:      req.StrikeClause,
	}
	if req.ValidFrom != nil {
		rec.ValidFrom = req.ValidFrom.UTC()
	}
	if rec.ValidUntil != nil {
		until := rec.ValidUntil.UTC()
		rec.ValidUntil = &until
		if !rec.ValidFrom.IsZero() && !until.After(rec.ValidFrom) {
			return nil, apperrors.Invalid("valid_until", "valid_until must be after valid_from")
		}
	}
	return rec, nil
}

// CreateConsentHandler stores a performer's consent grant.
func (h *Handlers) CreateConsentHandler(c *gin.Context) {
	var req CreateConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	rec, err := consentFromRequest(req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	if err := h.Store.CreateConsentRecord(c.Request.Context(), rec); err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// ListConsentHandler lists consent records, optionally for ?character_id.
func (h *Handlers) ListConsentHandler(c *gin.Context) {
	records, err := h.Store.ListConsentRecords(c.Request.Context(), c.Query("character_id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// StrikeConsentHandler activates a record's strike. A second strike is a
// no-op and still returns 200.
func (h *Handlers) StrikeConsentHandler(c *gin.Context) {
	id := c.Param("id")
	rec, changed, err := h.Store.StrikeConsentRecord(c.Request.Context(), id, datastore.Now(), &datastore.AuditEntry{
		EntityType: "consent_record",
		EntityID:   id,
		Action:     "strike",
		Actor:      auth.Reviewer(c),
	})
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consent": rec, "changed": changed})
}

// CheckConsentHandler answers allow/deny for a prospective use.
func (h *Handlers) CheckConsentHandler(c *gin.Context) {
	var req consentgate.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	if req.CharacterID == "" || req.Modality == "" {
		apperrors.Respond(c, apperrors.Invalid("", "character_id and modality are required"))
		return
	}
	res, err := h.Consent.Check(c.Request.Context(), req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

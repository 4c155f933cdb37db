package jobmanagement

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/coreengine/decisionengine"
	"canonsafe-governance/backend/internal/datastore"
	"canonsafe-governance/backend/internal/objectstore"

	"github.com/gin-gonic/gin"
)

// CreateEvaluationRequest is the body of POST /evaluations.
type CreateEvaluationRequest struct {
	CharacterID string               `json:"character_id" binding:"required"`
	Content     string               `json:"content" binding:"required"`
	Modality    string               `json:"modality" binding:"required"`
	Territory   string               `json:"territory"`
	UsageType   string               `json:"usage_type"`
	Tier        string               `json:"tier"`
	AgentID     string               `json:"agent_id"`
	Context     map[string]any       `json:"context"`
	Overrides   *EvaluationOverrides `json:"overrides"`
}

// EvaluationOverrides are the per-request critic settings a caller may
// change. The decision policy is not among them.
type EvaluationOverrides struct {
	Weights        map[string]float64 `json:"weights"`
	JudgeIDs       []string           `json:"judge_ids"`
	PromptTemplate string             `json:"prompt_template"`
	ModelID        string             `json:"model_id"`
}

func (o *EvaluationOverrides) engineOverrides() *decisionengine.Overrides {
	if o == nil {
		return nil
	}
	return &decisionengine.Overrides{
		Weights:        o.Weights,
		JudgeIDs:       o.JudgeIDs,
		PromptTemplate: o.PromptTemplate,
		ModelID:        o.ModelID,
	}
}

// CreateEvaluationHandler evaluates content synchronously and returns the
// committed eval run. When the run was queued for review the item id is
// returned in the X-Review-Item-ID header.
func (h *Handlers) CreateEvaluationHandler(c *gin.Context) {
	var req CreateEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	run, review, err := h.Decisions.Run(c.Request.Context(), decisionengine.Request{
		CharacterID: req.CharacterID,
		Content:     req.Content,
		Modality:    req.Modality,
		Territory:   req.Territory,
		UsageType:   req.UsageType,
		Tier:        req.Tier,
		AgentID:     req.AgentID,
		Source:      datastore.SourceEvaluation,
		Context:     req.Context,
		Overrides:   req.Overrides.engineOverrides(),
	})
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	if review != nil {
		c.Header("X-Review-Item-ID", review.ID)
	}
	c.JSON(http.StatusCreated, run)
}

// ListEvaluationsHandler lists eval runs, newest first. Filters:
// character_id, decision, source, since (RFC 3339), limit, offset.
func (h *Handlers) ListEvaluationsHandler(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	filter := datastore.EvalRunFilter{
		CharacterID: c.Query("character_id"),
		Source:      c.Query("source"),
		Limit:       limit,
		Offset:      offset,
	}
	if v := c.Query("decision"); v != "" {
		d, err := datastore.ParseDecision(v)
		if err != nil {
			apperrors.Respond(c, apperrors.Invalid("decision", "%v", err))
			return
		}
		filter.Decision = d
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apperrors.Respond(c, apperrors.Invalid("since", "since must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = since
	}
	runs, err := h.Store.ListEvalRuns(c.Request.Context(), filter)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

// GetEvaluationHandler returns one eval run with its critic results.
func (h *Handlers) GetEvaluationHandler(c *gin.Context) {
	run, err := h.Store.GetEvalRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetEvaluationEvidenceHandler streams the archived evidence bundle.
func (h *Handlers) GetEvaluationEvidenceHandler(c *gin.Context) {
	id := c.Param("id")
	run, err := h.Store.GetEvalRun(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	if h.Archive == nil || run.Provenance.ArchiveKey == "" {
		apperrors.Respond(c, fmt.Errorf("evidence for eval run %s: %w", id, apperrors.ErrNotFound))
		return
	}
	body, err := h.Archive.Get(c.Request.Context(), run.Provenance.ArchiveKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			err = fmt.Errorf("evidence for eval run %s: %w", id, apperrors.ErrNotFound)
		}
		apperrors.Respond(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

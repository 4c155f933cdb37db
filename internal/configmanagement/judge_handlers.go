package configmanagement

import (
	"encoding/json"
	"net/http"
	"strings"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/auth"
	"canonsafe-governance/backend/internal/coreengine/criticadapters"
	"canonsafe-governance/backend/internal/datastore"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateJudgeRequest is the body of POST /judges.
type CreateJudgeRequest struct {
	Name            string          `json:"name" binding:"required"`
	ModelType       string          `json:"model_type" binding:"required"`
	Endpoint        string          `json:"endpoint"`
	APIKey          string          `json:"api_key"`
	ModelID         string          `json:"model_id"`
	Modalities      []string        `json:"modalities"`
	Weight          *float64        `json:"weight"`
	PromptTemplate  string          `json:"prompt_template"`
	ScoreScale      string          `json:"score_scale"`
	TimeoutMs       int64           `json:"timeout_ms"`
	CostPer1KInput  float64         `json:"cost_per_1k_input"`
	CostPer1KOutput float64         `json:"cost_per_1k_output"`
	OtherConfigs    json.RawMessage `json:"other_configs"`
	IsActive        *bool           `json:"is_active"`
}

func (h *Handlers) judgeFromRequest(req CreateJudgeRequest) (*datastore.Judge, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.Invalid("name", "name is required")
	}
	if !h.Decisions.Registry().Supports(req.ModelType) {
		return nil, apperrors.Invalid("model_type", "unsupported model_type %q", req.ModelType)
	}
	switch req.ScoreScale {
	case "":
		req.ScoreScale = datastore.ScoreScalePercent
	case datastore.ScoreScalePercent, datastore.ScoreScaleUnit:
	default:
		return nil, apperrors.Invalid("score_scale", "score_scale must be %s or %s", datastore.ScoreScalePercent, datastore.ScoreScaleUnit)
	}
	weight := 1.0
	if req.Weight != nil {
		weight = *req.Weight
	}
	if weight < 0 {
		return nil, apperrors.Invalid("weight", "weight must be non-negative")
	}
	if req.TimeoutMs < 0 || req.CostPer1KInput < 0 || req.CostPer1KOutput < 0 {
		return nil, apperrors.Invalid("", "timeout_ms and costs must be non-negative")
	}
	if len(req.OtherConfigs) > 0 && !json.Valid(req.OtherConfigs) {
		return nil, apperrors.Invalid("other_configs", "other_configs is not valid JSON")
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &datastore.Judge{
		ID:              "jdg_" + uuid.NewString(),
		Name:            req.Name,
		ModelType:       req.ModelType,
		Endpoint:        req.Endpoint,
		APIKey:          req.APIKey,
		ModelID:         req.ModelID,
		Modalities:      req.Modalities,
		Weight:          weight,
		PromptTemplate:  req.PromptTemplate,
		ScoreScale:      req.ScoreScale,
		TimeoutMs:       req.TimeoutMs,
		CostPer1KInput:  req.CostPer1KInput,
		CostPer1KOutput: req.CostPer1KOutput,
		OtherConfigs:    req.OtherConfigs,
		IsActive:        active,
	}, nil
}

// CreateJudgeHandler registers a new critic backend.
func (h *Handlers) CreateJudgeHandler(c *gin.Context) {
	var req CreateJudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	judge, err := h.judgeFromRequest(req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	if err := h.Store.CreateJudge(c.Request.Context(), judge); err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, judge.Redacted())
}

// ListJudgesHandler lists judges; ?active=true restricts to active ones.
func (h *Handlers) ListJudgesHandler(c *gin.Context) {
	judges, err := h.Store.ListJudges(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	out := make([]*datastore.Judge, 0, len(judges))
	for _, j := range judges {
		out = append(out, j.Redacted())
	}
	c.JSON(http.StatusOK, out)
}

// GetJudgeHandler retrieves a specific judge.
func (h *Handlers) GetJudgeHandler(c *gin.Context) {
	judge, err := h.Store.GetJudge(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, judge.Redacted())
}

// TestJudgeRequest is the body of POST /judges/{id}/test.
type TestJudgeRequest struct {
	Content     string         `json:"content" binding:"required"`
	Modality    string         `json:"modality"`
	CharacterID string         `json:"character_id"`
	Territory   string         `json:"territory"`
	UsageType   string         `json:"usage_type"`
	Context     map[string]any `json:"context"`
}

// TestJudgeHandler scores one sample with a single judge. Nothing is stored.
func (h *Handlers) TestJudgeHandler(c *gin.Context) {
	var req TestJudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	judge, err := h.Store.GetJudge(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	if req.Modality == "" {
		req.Modality = "text"
	}
	result := h.Decisions.ScoreWithJudge(c.Request.Context(), judge, criticadapters.ScoreRequest{
		Content:     req.Content,
		Modality:    req.Modality,
		CharacterID: req.CharacterID,
		Territory:   req.Territory,
		UsageType:   req.UsageType,
		Context:     req.Context,
	})
	c.JSON(http.StatusOK, result)
}

// HealthCheckJudgeHandler probes a judge and stores its health status.
func (h *Handlers) HealthCheckJudgeHandler(c *gin.Context) {
	judge, err := h.Store.GetJudge(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	report, err := h.Health.Check(c.Request.Context(), judge)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// DeactivateJudgeHandler soft-deletes a judge; its past results stay intact.
func (h *Handlers) DeactivateJudgeHandler(c *gin.Context) {
	id := c.Param("id")
	err := h.Store.DeactivateJudge(c.Request.Context(), id, &datastore.AuditEntry{
		EntityType: "judge",
		EntityID:   id,
		Action:     "deactivate",
		Actor:      auth.Reviewer(c),
	})
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Judge deactivated", "id": id})
}

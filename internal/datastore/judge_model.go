package datastore

import (
	"encoding/json"
	"time"
)

// Judge model types, one critic adapter implementation each.
const (
	ModelTypeOpenAI        = "openai"
	ModelTypeAnthropic     = "anthropic"
	ModelTypeHuggingFace   = "huggingface"
	ModelTypeCustom        = "custom"
	ModelTypeVolcengineArk = "volcengine_ark"
	ModelTypeReference     = "reference"
	ModelTypeMock          = "mock"
)

// Score scales a judge may report on. Everything is stored on the percent scale.
const (
	ScoreScalePercent = "percent"
	ScoreScaleUnit    = "unit"
)

// Health statuses reported by the health monitor.
const (
	HealthUnknown  = "unknown"
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// Judge maps to the judges table: one configured critic backend.
type Judge struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	ModelType           string          `json:"model_type"`
	Endpoint            string          `json:"endpoint,omitempty"`
	APIKey              string          `json:"api_key,omitempty"`
	ModelID             string          `json:"model_id,omitempty"`
	Modalities          []string        `json:"modalities"`
	Weight              float64         `json:"weight"`
	PromptTemplate      string          `json:"prompt_template,omitempty"`
	ScoreScale          string          `json:"score_scale"`
	TimeoutMs           int64           `json:"timeout_ms"`
	CostPer1KInput      float64         `json:"cost_per_1k_input"`
	CostPer1KOutput     float64         `json:"cost_per_1k_output"`
	OtherConfigs        json.RawMessage `json:"other_configs,omitempty"`
	IsActive            bool            `json:"is_active"`
	HealthStatus        string          `json:"health_status"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	LastLatencyMs       int64           `json:"last_latency_ms"`
	LastCheckedAt       *time.Time      `json:"last_checked_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Redacted returns a copy safe to serialize to API clients.
func (j *Judge) Redacted() *Judge {
	cp := *j
	if cp.APIKey != "" {
		cp.APIKey = "********"
	}
	return &cp
}

// Supports reports whether the judge scores the given modality. An empty
// modality list means every modality.
func (j *Judge) Supports(modality string) bool {
	if len(j.Modalities) == 0 {
		return true
	}
	for _, m := range j.Modalities {
		if m == modality {
			return true
		}
	}
	return false
}

// Options decodes OtherConfigs into a generic map.
func (j *Judge) Options() map[string]any {
	out := map[string]any{}
	if len(j.OtherConfigs) == 0 {
		return out
	}
	_ = json.Unmarshal(j.OtherConfigs, &out)
	return out
}

// JudgeHealth is the outcome of one health probe.
type JudgeHealth struct {
	Status              string
	ConsecutiveFailures int
	LatencyMs           int64
	CheckedAt           time.Time
}

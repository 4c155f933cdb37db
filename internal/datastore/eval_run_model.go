package datastore

import (
	"encoding/json"
	"time"
)

// Eval run sources. Only SourceEvaluation runs feed the review queue.
const (
	SourceEvaluation    = "evaluation"
	SourceExperiment    = "experiment"
	SourceCertification = "certification"
)

// Engine-level flags added on top of critic flags.
const (
	FlagAllCriticsFailed = "all_critics_failed"
	FlagConsentDenied    = "consent_denied"
	FlagCriticalSafety   = "critical_safety_flag"
	FlagHighSeverity     = "high_severity_flag"
	FlagDisagreement     = "critic_disagreement"
	FlagSampledAudit     = "sampled_for_audit"
)

// CriticResult is one critic's verdict on one piece of content. A failed
// critic still gets a row (FailureKind set, Score nil) so the audit trail
// shows which critics were excluded from aggregation.
type CriticResult struct {
	ID           string   `json:"id"`
	EvalRunID    string   `json:"eval_run_id"`
	JudgeID      string   `json:"critic_id"`
	JudgeName    string   `json:"critic_name"`
	Score        *float64 `json:"score"`
	Weight       float64  `json:"weight"`
	Reasoning    string   `json:"reasoning"`
	Flags        []string `json:"flags"`
	LatencyMs    int64    `json:"latency_ms"`
	InputTokens  int64    `json:"input_tokens"`
	OutputTokens int64    `json:"output_tokens"`
	Cost         float64  `json:"estimated_cost"`
	FailureKind  string   `json:"failure_kind,omitempty"`
	Failure      string   `json:"failure,omitempty"`
}

// Failed reports whether the critic produced no usable score.
func (r *CriticResult) Failed() bool {
	return r.FailureKind != "" || r.Score == nil
}

// Provenance records how an EvalRun was produced.
type Provenance struct {
	ContentSHA256   string             `json:"content_sha256"`
	EngineVersion   string             `json:"engine_version"`
	PolicyProfile   string             `json:"policy_profile,omitempty"`
	Policy          map[string]any     `json:"policy,omitempty"`
	ExperimentID    string             `json:"experiment_id,omitempty"`
	Variant         string             `json:"variant,omitempty"`
	CardVersionID   string             `json:"card_version_id,omitempty"`
	CertificationID string             `json:"certification_id,omitempty"`
	PromptTemplate  string             `json:"prompt_template,omitempty"`
	ModelID         string             `json:"model_id,omitempty"`
	Weights         map[string]float64 `json:"weights,omitempty"`
	Sampled         bool               `json:"sampled,omitempty"`
	ArchiveKey      string             `json:"archive_key,omitempty"`
}

// EvalRun is the immutable record of one evaluation request.
type EvalRun struct {
	ID              string          `json:"id"`
	CharacterID     string          `json:"character_id"`
	Modality        string          `json:"modality"`
	Tier            string          `json:"tier,omitempty"`
	AgentID         string          `json:"agent_id,omitempty"`
	Territory       string          `json:"territory,omitempty"`
	UsageType       string          `json:"usage_type,omitempty"`
	Content         string          `json:"input_content"`
	ConsentVerified bool            `json:"consent_verified"`
	OverallScore    *float64        `json:"overall_score"`
	Decision        Decision        `json:"decision"`
	Flags           []string        `json:"flags"`
	CriticResults   []*CriticResult `json:"critic_results"`
	Provenance      Provenance      `json:"provenance"`
	Source          string          `json:"source"`
	LatencyMs       int64           `json:"latency_ms"`
	TotalCost       float64         `json:"total_cost"`
	CreatedAt       time.Time       `json:"created_at"`
}

// OverallScoreUnit returns the aggregate on the 0-1 scale some clients display.
func (r *EvalRun) OverallScoreUnit() *float64 {
	if r.OverallScore == nil {
		return nil
	}
	v := *r.OverallScore / 100
	return &v
}

// MarshalJSON adds overall_score_unit so clients on either scale can read
// the aggregate without guessing.
func (r EvalRun) MarshalJSON() ([]byte, error) {
	type plain EvalRun
	return json.Marshal(struct {
		plain
		OverallScoreUnit *float64 `json:"overall_score_unit"`
	}{plain: plain(r), OverallScoreUnit: r.OverallScoreUnit()})
}

// HasFlag reports whether flag is present on the run.
func (r *EvalRun) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// EvalRunFilter narrows ListEvalRuns.
type EvalRunFilter struct {
	CharacterID string
	Decision    Decision
	Source      string
	Since       time.Time
	Limit       int
	Offset      int
}

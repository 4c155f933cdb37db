package datastore

import (
	"encoding/json"
	"errors"
	"time"
)

// Experiment statuses.
const (
	ExperimentDraft     = "draft"
	ExperimentRunning   = "running"
	ExperimentCompleted = "completed"
	ExperimentCancelled = "cancelled"
)

// Experiment types, each with its own variant configuration shape.
const (
	ExperimentTypeCriticWeight   = "critic_weight"
	ExperimentTypePromptTemplate = "prompt_template"
	ExperimentTypeModel          = "model"
	ExperimentTypeProfile        = "profile"
)

// Variant labels and winners.
const (
	VariantA           = "a"
	VariantB           = "b"
	WinnerInconclusive = "inconclusive"
)

// ErrStateConflict is returned by conditional updates when the row is not in
// the state the caller expected.
var ErrStateConflict = errors.New("record is not in the expected state")

// Experiment maps to the experiments table. VariantA/VariantB hold the
// validated variant configuration JSON; Summary is the snapshot computed at
// completion.
type Experiment struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	ExperimentType string          `json:"experiment_type"`
	VariantA       json.RawMessage `json:"variant_a"`
	VariantB       json.RawMessage `json:"variant_b"`
	SampleSize     int             `json:"sample_size"`
	Status         string          `json:"status"`
	Winner         *string         `json:"winner"`
	Summary        json.RawMessage `json:"summary,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether no further transitions are allowed.
func (e *Experiment) Terminal() bool {
	return e.Status == ExperimentCompleted || e.Status == ExperimentCancelled
}

// Trial is one variant's evaluation of one piece of content. Trials come in
// pairs sharing PairID: one for variant a, one for variant b, same content.
type Trial struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	PairID       string    `json:"pair_id"`
	Variant      string    `json:"variant"`
	EvalRunID    string    `json:"eval_run_id"`
	CharacterID  string    `json:"character_id"`
	Modality     string    `json:"modality"`
	Content      string    `json:"content"`
	Score        *float64  `json:"score"`
	Decision     Decision  `json:"decision"`
	LatencyMs    int64     `json:"latency_ms"`
	Cost         float64   `json:"cost"`
	CreatedAt    time.Time `json:"created_at"`
}

package datastore

import "time"

// Review item statuses.
const (
	ReviewStatusPending  = "pending"
	ReviewStatusClaimed  = "claimed"
	ReviewStatusResolved = "resolved"
	ReviewStatusExpired  = "expired"
)

// Review reasons.
const (
	ReviewReasonQuarantine         = "quarantine"
	ReviewReasonEscalate           = "escalate"
	ReviewReasonCriticDisagreement = "critic_disagreement"
	ReviewReasonLowConfidence      = "low_confidence"
	ReviewReasonSampledAudit       = "sampled_audit"
)

// Review resolutions.
const (
	ResolutionApproved    = "approved"
	ResolutionOverridden  = "overridden"
	ResolutionReEvaluated = "re_evaluated"
)

// ReviewItem is one unit of human review work. It references its EvalRun
// but never changes it; overrides live on the item itself.
type ReviewItem struct {
	ID                    string     `json:"id"`
	EvalRunID             string     `json:"eval_run_id"`
	Reason                string     `json:"reason"`
	Priority              int        `json:"priority"`
	Status                string     `json:"status"`
	Resolution            string     `json:"resolution,omitempty"`
	OverrideDecision      Decision   `json:"override_decision,omitempty"`
	OverrideJustification string     `json:"override_justification,omitempty"`
	ReviewerNotes         string     `json:"reviewer_notes,omitempty"`
	AssignedReviewer      string     `json:"assigned_reviewer,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	ClaimedAt             *time.Time `json:"claimed_at,omitempty"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
	ExpiredAt             *time.Time `json:"expired_at,omitempty"`
}

// ReviewFilter narrows ListReviewItems.
type ReviewFilter struct {
	Status   string
	Reason   string
	Reviewer string
	Limit    int
	Offset   int
}

// ReviewStats aggregates the queue for dashboards.
type ReviewStats struct {
	Total              int            `json:"total"`
	ByStatus           map[string]int `json:"by_status"`
	ByReason           map[string]int `json:"by_reason"`
	ByResolution       map[string]int `json:"by_resolution"`
	OverrideCount      int            `json:"override_count"`
	MeanResolutionMs   float64        `json:"mean_resolution_ms"`
	OldestPendingAgeMs int64          `json:"oldest_pending_age_ms"`
}

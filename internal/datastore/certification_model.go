package datastore

import "time"

// Certification statuses.
const (
	CertificationPending   = "pending"
	CertificationPassed    = "passed"
	CertificationCertified = "certified"
	CertificationFailed    = "failed"
	CertificationExpired   = "expired"
)

// Certification tiers.
const (
	TierBase               = "base"
	TierCanonSafeCertified = "canonsafe_certified"
)

// CaseResult is one test case's outcome inside a certification run.
type CaseResult struct {
	TestCaseName string   `json:"test_case_name"`
	Category     string   `json:"category,omitempty"`
	EvalRunID    string   `json:"eval_run_id"`
	Decision     Decision `json:"decision"`
	Score        *float64 `json:"score"`
	Passed       bool     `json:"passed"`
}

// ResultsSummary is owned by its certification.
type ResultsSummary struct {
	CriticBreakdown map[string]float64 `json:"critic_breakdown"`
	CategoryScores  map[string]float64 `json:"category_breakdown,omitempty"`
	CaseResults     []CaseResult       `json:"case_results"`
	WeakestArea     string             `json:"weakest_area"`
	PassRate        float64            `json:"pass_rate"`
	BlockingCases   int                `json:"blocking_cases"`
}

// Certification is one agent/character/card-version run against a suite.
type Certification struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agent_id"`
	CharacterID     string         `json:"character_id"`
	CardVersionID   string         `json:"card_version_id"`
	TestSuiteID     string         `json:"test_suite_id"`
	Tier            string         `json:"tier"`
	Status          string         `json:"status"`
	Score           float64        `json:"score"`
	ResultsSummary  ResultsSummary `json:"results_summary"`
	ReportObjectKey string         `json:"report_object_key,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CertificationFilter narrows ListCertifications.
type CertificationFilter struct {
	AgentID     string
	CharacterID string
	Status      string
}

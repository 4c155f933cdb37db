// Package certificationengine runs a character's card version through a test
// suite and issues a base or CanonSafe-certified verdict.
package certificationengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/coreengine/criticadapters"
	"canonsafe-governance/backend/internal/coreengine/decisionengine"
	"canonsafe-governance/backend/internal/coreengine/metricscalculator"
	"canonsafe-governance/backend/internal/datastore"
	"canonsafe-governance/backend/internal/objectstore"

	"github.com/google/uuid"
)

// Context key carrying the card version to critics.
const ContextCardVersionID = "card_version_id"

// Store is the persistence the engine needs.
type Store interface {
	GetTestSuite(ctx context.Context, id string) (*datastore.TestSuite, error)
	CreateCertification(ctx context.Context, cert *datastore.Certification, runs []*datastore.EvalRun) error
	GetCertification(ctx context.Context, id string) (*datastore.Certification, error)
	ListCertifications(ctx context.Context, filter datastore.CertificationFilter) ([]*datastore.Certification, error)
	UpdateCertification(ctx context.Context, id string, patch datastore.CertificationPatch, audit *datastore.AuditEntry) (*datastore.Certification, error)
	SetCertificationReportKey(ctx context.Context, id, key string) error
	ExpireCertifications(ctx context.Context, at time.Time) (int64, error)
}

// Evaluator is satisfied by *decisionengine.Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, req decisionengine.Request) (*datastore.EvalRun, error)
}

// Engine runs and maintains certifications.
type Engine struct {
	store     Store
	evaluator Evaluator
	archive   objectstore.Archiver
	validity  time.Duration
	Now       func() time.Time
}

// New returns an engine. archive may be nil; validity is how long a passing
// certification stays valid after completion.
func New(store Store, evaluator Evaluator, archive objectstore.Archiver, validity time.Duration) *Engine {
	return &Engine{
		store:     store,
		evaluator: evaluator,
		archive:   archive,
		validity:  validity,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunRequest is the body of POST /certifications.
type RunRequest struct {
	AgentID       string `json:"agent_id" binding:"required"`
	CharacterID   string `json:"character_id" binding:"required"`
	CardVersionID string `json:"card_version_id" binding:"required"`
	TestSuiteID   string `json:"test_suite_id" binding:"required"`
	Tier          string `json:"tier"`
}

func (r *RunRequest) normalize() error {
	for field, v := range map[string]string{
		"agent_id":        r.AgentID,
		"character_id":    r.CharacterID,
		"card_version_id": r.CardVersionID,
		"test_suite_id":   r.TestSuiteID,
	} {
		if strings.TrimSpace(v) == "" {
			return apperrors.Invalid(field, "%s is required", field)
		}
	}
	switch r.Tier {
	case "":
		r.Tier = datastore.TierBase
	case datastore.TierBase, datastore.TierCanonSafeCertified:
	default:
		return apperrors.Invalid("tier", "tier must be %s or %s", datastore.TierBase, datastore.TierCanonSafeCertified)
	}
	return nil
}

// Run evaluates every case of the suite in order and stores the
// certification with all of its eval runs. Cases run sequentially so the
// case order in the report matches the suite.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*datastore.Certification, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	suite, err := e.store.GetTestSuite(ctx, req.TestSuiteID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, apperrors.Invalid("test_suite_id", "test suite %s does not exist", req.TestSuiteID)
		}
		return nil, err
	}
	if len(suite.Cases) == 0 {
		return nil, apperrors.Invalid("test_suite_id", "test suite %s has no cases", suite.ID)
	}

	cert := &datastore.Certification{
		ID:            "crt_" + uuid.NewString(),
		AgentID:       req.AgentID,
		CharacterID:   req.CharacterID,
		CardVersionID: req.CardVersionID,
		TestSuiteID:   suite.ID,
		Tier:          req.Tier,
		CreatedAt:     e.Now(),
	}
	log.Printf("Starting certification %s: agent %s, character %s, suite %s (%d cases, tier %s)",
		cert.ID, cert.AgentID, cert.CharacterID, suite.ID, len(suite.Cases), cert.Tier)

	runs := make([]*datastore.EvalRun, 0, len(suite.Cases))
	for _, tc := range suite.Cases {
		evalCtx := map[string]any{ContextCardVersionID: req.CardVersionID}
		if tc.ReferenceOutput != "" {
			evalCtx[criticadapters.ContextReferenceOutput] = tc.ReferenceOutput
		}
		run, err := e.evaluator.Evaluate(ctx, decisionengine.Request{
			CharacterID: req.CharacterID,
			Content:     tc.Content,
			Modality:    tc.Modality,
			Territory:   tc.Territory,
			UsageType:   tc.UsageType,
			Tier:        req.Tier,
			AgentID:     req.AgentID,
			Source:      datastore.SourceCertification,
			Context:     evalCtx,
			Provenance:  datastore.Provenance{CardVersionID: req.CardVersionID, CertificationID: cert.ID},
		})
		if err != nil {
			return nil, fmt.Errorf("certification case %q: %w", tc.Name, err)
		}
		runs = append(runs, run)
	}

	cert.ResultsSummary = Summarize(suite.Cases, runs)
	cert.Score = overallScore(cert.ResultsSummary.CaseResults)
	cert.Status = Verdict(cert.Tier, suite, cert.ResultsSummary)
	completed := e.Now()
	cert.CompletedAt = &completed
	if cert.Status == datastore.CertificationPassed || cert.Status == datastore.CertificationCertified {
		expires := completed.Add(e.validity)
		cert.ExpiresAt = &expires
	}

	if err := e.store.CreateCertification(ctx, cert, runs); err != nil {
		return nil, err
	}
	log.Printf("Certification %s finished: %s, score %.1f, pass rate %.2f, weakest area %q",
		cert.ID, cert.Status, cert.Score, cert.ResultsSummary.PassRate, cert.ResultsSummary.WeakestArea)
	e.archiveReport(ctx, cert, runs)
	return cert, nil
}

func (e *Engine) archiveReport(ctx context.Context, cert *datastore.Certification, runs []*datastore.EvalRun) {
	if e.archive == nil {
		return
	}
	key := objectstore.CertificationKey(cert.ID)
	if err := e.archive.PutJSON(ctx, key, map[string]any{"certification": cert, "eval_runs": runs}); err != nil {
		log.Printf("Failed to archive report for certification %s: %v", cert.ID, err)
		return
	}
	if err := e.store.SetCertificationReportKey(ctx, cert.ID, key); err != nil {
		log.Printf("Failed to record report key for certification %s: %v", cert.ID, err)
		return
	}
	cert.ReportObjectKey = key
}

// Summarize builds the per-case, per-critic and per-category breakdown.
func Summarize(cases []*datastore.TestCase, runs []*datastore.EvalRun) datastore.ResultsSummary {
	s := datastore.ResultsSummary{
		CriticBreakdown: map[string]float64{},
		CategoryScores:  map[string]float64{},
		CaseResults:     make([]datastore.CaseResult, 0, len(runs)),
	}
	criticScores := map[string][]float64{}
	categoryScores := map[string][]float64{}
	passed := 0
	for i, run := range runs {
		tc := cases[i]
		cr := datastore.CaseResult{
			TestCaseName: tc.Name,
			Category:     tc.Category,
			EvalRunID:    run.ID,
			Decision:     run.Decision,
			Score:        run.OverallScore,
			Passed:       run.Decision.IsPassing(),
		}
		if cr.Passed {
			passed++
		}
		if run.Decision == datastore.DecisionBlock || run.Decision == datastore.DecisionEscalate {
			s.BlockingCases++
		}
		s.CaseResults = append(s.CaseResults, cr)

		for _, res := range run.CriticResults {
			if !res.Failed() {
				name := res.JudgeName
				if name == "" {
					name = res.JudgeID
				}
				criticScores[name] = append(criticScores[name], *res.Score)
			}
		}
		if tc.Category != "" {
			categoryScores[tc.Category] = append(categoryScores[tc.Category], scoreOrZero(run.OverallScore))
		}
	}
	if len(runs) > 0 {
		s.PassRate = float64(passed) / float64(len(runs))
	}
	for name, xs := range criticScores {
		s.CriticBreakdown[name] = metricscalculator.Mean(xs)
	}
	for name, xs := range categoryScores {
		s.CategoryScores[name] = metricscalculator.Mean(xs)
	}
	s.WeakestArea = weakest(s.CriticBreakdown, s.CategoryScores)
	return s
}

// weakest names the lowest-scoring critic or category; ties go to the
// alphabetically first name, critics before categories.
func weakest(groups ...map[string]float64) string {
	best, lowest := "", math.Inf(1)
	for _, g := range groups {
		names := make([]string, 0, len(g))
		for name := range g {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if g[name] < lowest {
				best, lowest = name, g[name]
			}
		}
	}
	return best
}

// Verdict applies the suite bars. canonsafe_certified requires every case
// to pass with a score at or above the suite minimum and no block or
// escalate; base requires the pass rate to exceed the suite threshold.
func Verdict(tier string, suite *datastore.TestSuite, s datastore.ResultsSummary) string {
	if tier == datastore.TierCanonSafeCertified {
		if s.BlockingCases > 0 {
			return datastore.CertificationFailed
		}
		for _, cr := range s.CaseResults {
			if !cr.Passed || scoreOrZero(cr.Score) < suite.MinScore {
				return datastore.CertificationFailed
			}
		}
		return datastore.CertificationCertified
	}
	if s.PassRate > suite.PassThreshold {
		return datastore.CertificationPassed
	}
	return datastore.CertificationFailed
}

func overallScore(results []datastore.CaseResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, cr := range results {
		sum += scoreOrZero(cr.Score)
	}
	return sum / float64(len(results))
}

func scoreOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// OverrideRequest is the body of PATCH /certifications/{id}.
type OverrideRequest struct {
	Status        *string  `json:"status"`
	Score         *float64 `json:"score"`
	Justification string   `json:"justification"`
	Operator      string   `json:"operator"`
}

var certificationStatuses = map[string]bool{
	datastore.CertificationPending:   true,
	datastore.CertificationPassed:    true,
	datastore.CertificationCertified: true,
	datastore.CertificationFailed:    true,
	datastore.CertificationExpired:   true,
}

// Override applies a manual status or score correction with an audit entry.
func (e *Engine) Override(ctx context.Context, id string, req OverrideRequest) (*datastore.Certification, error) {
	if req.Status == nil && req.Score == nil {
		return nil, apperrors.Invalid("status", "status or score is required")
	}
	if req.Status != nil && !certificationStatuses[*req.Status] {
		return nil, apperrors.Invalid("status", "unknown certification status %q", *req.Status)
	}
	if req.Score != nil && (*req.Score < 0 || *req.Score > 100) {
		return nil, apperrors.Invalid("score", "score must lie within 0-100")
	}
	if strings.TrimSpace(req.Justification) == "" {
		return nil, apperrors.ErrMissingJustification
	}
	if strings.TrimSpace(req.Operator) == "" {
		return nil, apperrors.Invalid("operator", "operator is required")
	}

	payload := map[string]any{"justification": req.Justification}
	if req.Status != nil {
		payload["status"] = *req.Status
	}
	if req.Score != nil {
		payload["score"] = *req.Score
	}
	cert, err := e.store.UpdateCertification(ctx, id, datastore.CertificationPatch{Status: req.Status, Score: req.Score},
		&datastore.AuditEntry{
			EntityType: "certification",
			EntityID:   id,
			Action:     "override",
			Actor:      req.Operator,
			Payload:    payload,
		})
	if err != nil {
		return nil, err
	}
	log.Printf("Certification %s overridden by %s: status=%s score=%.1f", id, req.Operator, cert.Status, cert.Score)
	return cert, nil
}

// Get returns one certification.
func (e *Engine) Get(ctx context.Context, id string) (*datastore.Certification, error) {
	return e.store.GetCertification(ctx, id)
}

// List returns certifications matching filter.
func (e *Engine) List(ctx context.Context, filter datastore.CertificationFilter) ([]*datastore.Certification, error) {
	return e.store.ListCertifications(ctx, filter)
}

// Report returns the archived report JSON.
func (e *Engine) Report(ctx context.Context, id string) ([]byte, error) {
	cert, err := e.store.GetCertification(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.archive == nil || cert.ReportObjectKey == "" {
		return nil, fmt.Errorf("report for certification %s: %w", id, datastore.ErrNotFound)
	}
	data, err := e.archive.Get(ctx, cert.ReportObjectKey)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return nil, fmt.Errorf("report for certification %s: %w", id, datastore.ErrNotFound)
	}
	return data, err
}

// ExpireDue flips certifications past their expiry to expired.
func (e *Engine) ExpireDue(ctx context.Context) (int64, error) {
	n, err := e.store.ExpireCertifications(ctx, e.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("Expired %d certifications", n)
	}
	return n, nil
}

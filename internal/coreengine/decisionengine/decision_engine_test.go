package decisionengine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/coreengine/consentgate"
	"canonsafe-governance/backend/internal/coreengine/criticadapters"
	"canonsafe-governance/backend/internal/datastore"
	"canonsafe-governance/backend/internal/objectstore"
)

type memoryStore struct {
	judges []*datastore.Judge
	runs   []*datastore.EvalRun
}

func (m *memoryStore) ListJudges(context.Context, bool) ([]*datastore.Judge, error) {
	return m.judges, nil
}

func (m *memoryStore) CreateEvalRun(_ context.Context, run *datastore.EvalRun, _ *datastore.ReviewItem) error {
	m.runs = append(m.runs, run)
	return nil
}

type staticConsent struct{ result consentgate.Result }

func (s staticConsent) Check(context.Context, consentgate.CheckRequest) (consentgate.Result, error) {
	return s.result, nil
}

var allow = staticConsent{consentgate.Result{Allowed: true, Reason: consentgate.ReasonAllowed}}

type countingCritic struct{ calls atomic.Int32 }

func (c *countingCritic) Score(context.Context, *datastore.Judge, criticadapters.ScoreRequest) (*criticadapters.ScoreResponse, error) {
	c.calls.Add(1)
	return &criticadapters.ScoreResponse{Score: 99}, nil
}

func mockJudge(id string, weight float64, cfg string) *datastore.Judge {
	return &datastore.Judge{
		ID:           id,
		Name:         id,
		ModelType:    datastore.ModelTypeMock,
		Weight:       weight,
		ScoreScale:   datastore.ScoreScalePercent,
		OtherConfigs: json.RawMessage(cfg),
		IsActive:     true,
		HealthStatus: datastore.HealthHealthy,
	}
}

func scored(id string, weight, score float64) *datastore.Judge {
	return mockJudge(id, weight, fmt.Sprintf(`{"score": %v}`, score))
}

func newEngine(store Store, consent ConsentChecker, draw float64) *Engine {
	return New(store, consent, criticadapters.NewRegistry(nil), Options{
		Policy: DefaultPolicy(),
		Rand:   func() float64 { return draw },
	})
}

func request() Request {
	return Request{CharacterID: "mira", Content: "Mira waves hello.", Modality: "text", Territory: "US"}
}

func TestEvaluateConsentDenialNeverInvokesCritics(t *testing.T) {
	t.Parallel()
	critic := &countingCritic{}
	registry := criticadapters.NewRegistry(nil)
	registry.Register("counting", critic)
	store := &memoryStore{judges: []*datastore.Judge{{ID: "jdg_count", ModelType: "counting", Weight: 1, IsActive: true}}}
	denied := staticConsent{consentgate.Result{Reason: consentgate.ReasonStruck, RecordID: "cns_1"}}
	engine := New(store, denied, registry, Options{Policy: DefaultPolicy()})

	run, err := engine.Evaluate(context.Background(), request())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if run.Decision != datastore.DecisionBlock || run.ConsentVerified {
		t.Fatalf("decision = %s consent_verified = %v", run.Decision, run.ConsentVerified)
	}
	if !run.HasFlag(datastore.FlagConsentDenied) || !run.HasFlag(consentgate.ReasonStruck) {
		t.Fatalf("flags = %v", run.Flags)
	}
	if critic.calls.Load() != 0 || len(run.CriticResults) != 0 || run.OverallScore != nil {
		t.Fatalf("critics were consulted after consent denial: calls=%d results=%d", critic.calls.Load(), len(run.CriticResults))
	}
	if ReviewFor(run, DefaultPolicy()) != nil {
		t.Fatal("consent denial should not queue a review")
	}
}

func TestEvaluateWeightedMean(t *testing.T) {
	t.Parallel()
	store := &memoryStore{judges: []*datastore.Judge{scored("jdg_a", 1, 95), scored("jdg_b", 3, 85)}}
	run, err := newEngine(store, allow, 0.99).Evaluate(context.Background(), request())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if run.OverallScore == nil || *run.OverallScore != 87.5 {
		t.Fatalf("score = %v, want 87.5", run.OverallScore)
	}
	if run.Decision != datastore.DecisionRegenerate {
		t.Fatalf("decision = %s", run.Decision)
	}
	if run.Provenance.Weights["jdg_b"] != 3 || run.Provenance.ContentSHA256 == "" || run.Provenance.EngineVersion != EngineVersion {
		t.Fatalf("provenance = %+v", run.Provenance)
	}
	for _, cr := range run.CriticResults {
		if cr.EvalRunID != run.ID {
			t.Fatalf("critic result not linked to run: %+v", cr)
		}
	}
}

func TestEvaluateScoreStaysWithinCriticRange(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		n := 1 + rng.Intn(5)
		var judges []*datastore.Judge
		lo, hi := 100.0, 0.0
		for j := 0; j < n; j++ {
			score := float64(rng.Intn(101))
			lo, hi = min(lo, score), max(hi, score)
			judges = append(judges, scored(fmt.Sprintf("jdg_%d", j), 0.1+rng.Float64()*3, score))
		}
		run, err := newEngine(&memoryStore{judges: judges}, allow, 0.99).Evaluate(context.Background(), request())
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if s := *run.OverallScore; s < lo-1e-9 || s > hi+1e-9 {
			t.Fatalf("iteration %d: score %v outside [%v, %v]", i, s, lo, hi)
		}
	}
}

func TestEvaluateAllCriticsFailedEscalates(t *testing.T) {
	t.Parallel()
	store := &memoryStore{judges: []*datastore.Judge{
		mockJudge("jdg_a", 1, `{"fail": "timeout"}`),
		mockJudge("jdg_b", 1, `{"fail": "invalid_response"}`),
	}}
	run, err := newEngine(store, allow, 0.99).Evaluate(context.Background(), request())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if run.OverallScore != nil || run.Decision != datastore.DecisionEscalate {
		t.Fatalf("score = %v decision = %s", run.OverallScore, run.Decision)
	}
	for _, f := range []string{datastore.FlagAllCriticsFailed, "critic_jdg_a_failed", "critic_jdg_a_timeout", "critic_jdg_b_invalid_response"} {
		if !run.HasFlag(f) {
			t.Errorf("missing flag %s in %v", f, run.Flags)
		}
	}
	if len(run.CriticResults) != 2 || run.CriticResults[0].FailureKind != criticadapters.FailureTimeout {
		t.Fatalf("failed critics not recorded: %+v", run.CriticResults)
	}
	review := ReviewFor(run, DefaultPolicy())
	if review == nil || review.Reason != datastore.ReviewReasonEscalate || review.Priority != 80 {
		t.Fatalf("review = %+v", review)
	}
}

func TestEvaluateFlagsOverrideScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		flags string
		want  datastore.Decision
		flag  string
	}{
		{name: "critical blocks", flags: `["csam"]`, want: datastore.DecisionBlock, flag: datastore.FlagCriticalSafety},
		{name: "high severity demotes pass", flags: `["legal_risk"]`, want: datastore.DecisionQuarantine, flag: datastore.FlagHighSeverity},
	}
	for _, tt := range tests {
		store := &memoryStore{judges: []*datastore.Judge{mockJudge("jdg_a", 1, `{"score": 97, "flags": `+tt.flags+`}`)}}
		run, err := newEngine(store, allow, 0.99).Evaluate(context.Background(), request())
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if run.Decision != tt.want || !run.HasFlag(tt.flag) {
			t.Errorf("%s: decision = %s flags = %v", tt.name, run.Decision, run.Flags)
		}
	}
}

func TestReviewRouting(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		judges   []*datastore.Judge
		draw     float64
		decision datastore.Decision
		reason   string
		priority int
	}{
		{
			name:     "sampled pass",
			judges:   []*datastore.Judge{scored("jdg_a", 1, 95)},
			draw:     0.01,
			decision: datastore.DecisionSampledPass,
			reason:   datastore.ReviewReasonSampledAudit,
			priority: 10,
		},
		{
			name:     "disagreement",
			judges:   []*datastore.Judge{scored("jdg_a", 1, 100), scored("jdg_b", 1, 60)},
			draw:     0.99,
			decision: datastore.DecisionRegenerate,
			reason:   datastore.ReviewReasonCriticDisagreement,
			priority: 48,
		},
		{
			name:     "partial failure",
			judges:   []*datastore.Judge{scored("jdg_a", 1, 95), mockJudge("jdg_b", 1, `{"fail": "upstream_error"}`)},
			draw:     0.99,
			decision: datastore.DecisionPass,
			reason:   datastore.ReviewReasonLowConfidence,
			priority: 30,
		},
		{
			name:     "quarantine",
			judges:   []*datastore.Judge{scored("jdg_a", 1, 55)},
			draw:     0.99,
			decision: datastore.DecisionQuarantine,
			reason:   datastore.ReviewReasonQuarantine,
			priority: 50,
		},
		{
			name:     "clean pass",
			judges:   []*datastore.Judge{scored("jdg_a", 1, 95)},
			draw:     0.99,
			decision: datastore.DecisionPass,
		},
	}
	for _, tt := range tests {
		run, err := newEngine(&memoryStore{judges: tt.judges}, allow, tt.draw).Evaluate(context.Background(), request())
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if run.Decision != tt.decision {
			t.Errorf("%s: decision = %s, want %s", tt.name, run.Decision, tt.decision)
			continue
		}
		review := ReviewFor(run, DefaultPolicy())
		if tt.reason == "" {
			if review != nil {
				t.Errorf("%s: unexpected review %+v", tt.name, review)
			}
			continue
		}
		if review == nil || review.Reason != tt.reason || review.Priority != tt.priority {
			t.Errorf("%s: review = %+v, want %s/%d", tt.name, review, tt.reason, tt.priority)
		}
	}
}

func TestEvaluateSkipsDownAndInapplicableJudges(t *testing.T) {
	t.Parallel()
	down := scored("jdg_down", 1, 10)
	down.HealthStatus = datastore.HealthDown
	ref := &datastore.Judge{ID: "jdg_ref", Name: "ref", ModelType: datastore.ModelTypeReference, Weight: 1, IsActive: true}
	store := &memoryStore{judges: []*datastore.Judge{scored("jdg_ok", 1, 92), down, ref}}
	engine := New(store, allow, criticadapters.NewRegistry(nil), Options{
		Policy:       DefaultPolicy(),
		DegradedMode: true,
		Rand:         func() float64 { return 0.99 },
	})
	run, err := engine.Evaluate(context.Background(), request())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(run.CriticResults) != 1 || run.CriticResults[0].JudgeID != "jdg_ok" {
		t.Fatalf("critic results = %+v", run.CriticResults)
	}
	if !run.HasFlag("critic_jdg_down_unavailable") || run.Decision != datastore.DecisionPass {
		t.Fatalf("decision = %s flags = %v", run.Decision, run.Flags)
	}
	if _, ok := run.Provenance.Weights["jdg_ref"]; ok {
		t.Fatal("skipped judge should not appear in provenance weights")
	}
}

func TestEvaluateOverrides(t *testing.T) {
	t.Parallel()
	store := &memoryStore{judges: []*datastore.Judge{
		mockJudge("jdg_a", 1, `{"score": 60, "scores_by_model": {"strict-v2": 96}}`),
		scored("jdg_b", 1, 40),
	}}
	req := request()
	req.Source = datastore.SourceExperiment
	pass := 95.0
	req.Overrides = &Overrides{
		JudgeIDs:      []string{"jdg_a"},
		ModelID:       "strict-v2",
		PolicyProfile: "strict",
		Policy:        &PolicyOverride{PassThreshold: &pass},
	}
	run, err := newEngine(store, allow, 0.99).Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if *run.OverallScore != 96 || run.Decision != datastore.DecisionPass {
		t.Fatalf("score = %v decision = %s", *run.OverallScore, run.Decision)
	}
	if run.Provenance.PolicyProfile != "strict" || run.Provenance.ModelID != "strict-v2" || run.Provenance.Policy["pass_threshold"] != 95.0 {
		t.Fatalf("provenance = %+v", run.Provenance)
	}

	bad := 20.0
	req.Overrides.Policy = &PolicyOverride{PassThreshold: &bad}
	if _, err := newEngine(store, allow, 0.99).Evaluate(context.Background(), req); err == nil {
		t.Fatal("expected invalid policy override to be rejected")
	}
}

func TestEvaluationRejectsPolicyOverrides(t *testing.T) {
	t.Parallel()
	store := &memoryStore{judges: []*datastore.Judge{mockJudge("jdg_a", 1, `{"score": 95, "flags": ["csam"]}`)}}
	engine := newEngine(store, allow, 0.99)
	zero := 0.0
	tests := []struct {
		name      string
		source    string
		overrides *Overrides
	}{
		{name: "empty critical flags", overrides: &Overrides{Policy: &PolicyOverride{CriticalFlags: []string{}}}},
		{name: "zero pass threshold", source: datastore.SourceEvaluation, overrides: &Overrides{Policy: &PolicyOverride{PassThreshold: &zero, RegenerateThreshold: &zero, QuarantineThreshold: &zero}}},
		{name: "profile name", overrides: &Overrides{PolicyProfile: "lenient"}},
		{name: "experiment with empty critical flags", source: datastore.SourceExperiment, overrides: &Overrides{Policy: &PolicyOverride{CriticalFlags: []string{}}}},
	}
	for _, tt := range tests {
		req := request()
		req.Source = tt.source
		req.Overrides = tt.overrides
		if _, err := engine.Evaluate(context.Background(), req); !apperrors.IsValidation(err) {
			t.Errorf("%s: err = %v, want validation error", tt.name, err)
		}
	}

	// Without the override the critical flag still blocks.
	run, _, err := engine.Run(context.Background(), request())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Decision != datastore.DecisionBlock || !run.HasFlag(datastore.FlagCriticalSafety) {
		t.Fatalf("decision = %s flags = %v", run.Decision, run.Flags)
	}
	if len(store.runs) != 1 {
		t.Fatalf("stored runs = %d, want only the valid one", len(store.runs))
	}
}

func TestEvaluateValidatesInput(t *testing.T) {
	t.Parallel()
	engine := newEngine(&memoryStore{}, allow, 0.99)
	for _, req := range []Request{
		{Content: "x", Modality: "text"},
		{CharacterID: "mira", Modality: "text"},
		{CharacterID: "mira", Content: "x"},
	} {
		if _, err := engine.Evaluate(context.Background(), req); err == nil {
			t.Errorf("expected validation error for %+v", req)
		}
	}
}

func TestRunPersistsReviewAndArchivesEvidence(t *testing.T) {
	store, err := datastore.Open(datastore.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.CreateJudge(ctx, scored("jdg_low", 1, 30)); err != nil {
		t.Fatalf("create judge: %v", err)
	}
	archive := objectstore.NewMemoryArchive()
	engine := New(store, allow, criticadapters.NewRegistry(nil), Options{
		Policy:  DefaultPolicy(),
		Archive: archive,
		Now:     func() time.Time { return time.Now().UTC() },
	})

	run, review, err := engine.Run(ctx, request())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Decision != datastore.DecisionEscalate || review == nil || review.Reason != datastore.ReviewReasonEscalate {
		t.Fatalf("decision = %s review = %+v", run.Decision, review)
	}
	stored, err := store.GetReviewItemForEvalRun(ctx, run.ID)
	if err != nil || stored.ID != review.ID {
		t.Fatalf("stored review = %+v, %v", stored, err)
	}
	if _, err := archive.Get(ctx, objectstore.EvalRunKey(run.ID)); err != nil {
		t.Fatalf("evidence not archived: %v", err)
	}
	got, err := store.GetEvalRun(ctx, run.ID)
	if err != nil || got.Provenance.ArchiveKey != objectstore.EvalRunKey(run.ID) {
		t.Fatalf("stored run = %+v, %v", got, err)
	}

	req := request()
	req.Source = datastore.SourceExperiment
	run, review, err = engine.Run(ctx, req)
	if err != nil || review != nil {
		t.Fatalf("experiment-sourced run should not be queued: %+v, %v", review, err)
	}
	if _, err := store.GetReviewItemForEvalRun(ctx, run.ID); err == nil {
		t.Fatal("unexpected review item for experiment run")
	}
}

package certificationengine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/coreengine/consentgate"
	"canonsafe-governance/backend/internal/coreengine/criticadapters"
	"canonsafe-governance/backend/internal/coreengine/decisionengine"
	"canonsafe-governance/backend/internal/datastore"
	"canonsafe-governance/backend/internal/objectstore"
)

func float(v float64) *float64 { return &v }

func TestVerdict(t *testing.T) {
	t.Parallel()
	suite := &datastore.TestSuite{PassThreshold: 0.6, MinScore: 85}
	pass := func(score float64) datastore.CaseResult {
		return datastore.CaseResult{Decision: datastore.DecisionPass, Score: float(score), Passed: true}
	}
	fail := datastore.CaseResult{Decision: datastore.DecisionRegenerate, Score: float(75)}
	tests := []struct {
		name    string
		tier    string
		summary datastore.ResultsSummary
		want    string
	}{
		{name: "base above threshold", tier: datastore.TierBase, summary: datastore.ResultsSummary{PassRate: 0.67, CaseResults: []datastore.CaseResult{pass(95), pass(91), fail}}, want: datastore.CertificationPassed},
		{name: "base at threshold", tier: datastore.TierBase, summary: datastore.ResultsSummary{PassRate: 0.6}, want: datastore.CertificationFailed},
		{name: "certified all strong", tier: datastore.TierCanonSafeCertified, summary: datastore.ResultsSummary{PassRate: 1, CaseResults: []datastore.CaseResult{pass(95), pass(91)}}, want: datastore.CertificationCertified},
		{name: "certified below min score", tier: datastore.TierCanonSafeCertified, summary: datastore.ResultsSummary{PassRate: 1, CaseResults: []datastore.CaseResult{pass(95), pass(84)}}, want: datastore.CertificationFailed},
		{name: "certified with blocking case", tier: datastore.TierCanonSafeCertified, summary: datastore.ResultsSummary{PassRate: 1, BlockingCases: 1, CaseResults: []datastore.CaseResult{pass(95)}}, want: datastore.CertificationFailed},
	}
	for _, tt := range tests {
		if got := Verdict(tt.tier, suite, tt.summary); got != tt.want {
			t.Errorf("%s: verdict = %s, want %s", tt.name, got, tt.want)
		}
	}
}

type fixture struct {
	store   *datastore.Store
	archive *objectstore.MemoryArchive
	engine  *Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := datastore.Open(datastore.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "certs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	if err := store.CreateConsentRecord(ctx, &datastore.ConsentRecord{
		ID: "cns_1", CharacterID: "mira", PerformerName: "Pat", ConsentType: datastore.ConsentFull,
		ValidFrom: time.Now().UTC().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("create consent: %v", err)
	}
	judges := []*datastore.Judge{
		{ID: "jdg_canon", Name: "canon", ModelType: datastore.ModelTypeMock, Weight: 1, IsActive: true,
			OtherConfigs: json.RawMessage(`{"scores_by_content": {"greet": 96, "farewell": 92, "taunt": 72}}`)},
		{ID: "jdg_ref", Name: "reference", ModelType: datastore.ModelTypeReference, Weight: 1, IsActive: true},
	}
	for _, j := range judges {
		if err := store.CreateJudge(ctx, j); err != nil {
			t.Fatalf("create judge: %v", err)
		}
	}
	if err := store.CreateTestSuite(ctx, &datastore.TestSuite{
		ID: "sut_1", Name: "core", PassThreshold: 0.6, MinScore: 85,
		Cases: []*datastore.TestCase{
			{ID: "tc_1", Name: "greeting", Content: "greet", Modality: "text", Category: "tone", ReferenceOutput: "greet"},
			{ID: "tc_2", Name: "farewell", Content: "farewell", Modality: "text", Category: "tone"},
			{ID: "tc_3", Name: "taunt", Content: "taunt", Modality: "text", Category: "safety"},
		},
	}); err != nil {
		t.Fatalf("create suite: %v", err)
	}

	decisions := decisionengine.New(store, consentgate.New(store), criticadapters.NewRegistry(nil), decisionengine.Options{
		Policy: decisionengine.DefaultPolicy(),
		Rand:   func() float64 { return 0.99 },
	})
	archive := objectstore.NewMemoryArchive()
	return fixture{store: store, archive: archive, engine: New(store, decisions, archive, 24*time.Hour)}
}

func TestRunBaseTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cert, err := f.engine.Run(ctx, RunRequest{AgentID: "agt_1", CharacterID: "mira", CardVersionID: "cv_7", TestSuiteID: "sut_1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cert.Tier != datastore.TierBase || cert.Status != datastore.CertificationPassed {
		t.Fatalf("tier/status = %s/%s", cert.Tier, cert.Status)
	}
	s := cert.ResultsSummary
	if len(s.CaseResults) != 3 || s.CaseResults[0].TestCaseName != "greeting" || s.CaseResults[2].Passed {
		t.Fatalf("case results = %+v", s.CaseResults)
	}
	// greeting also gets an exact-match reference score of 100.
	if got := *s.CaseResults[0].Score; got != 98 {
		t.Fatalf("greeting score = %v, want 98", got)
	}
	if s.CriticBreakdown["reference"] != 100 || s.WeakestArea != "safety" {
		t.Fatalf("breakdown = %+v weakest = %q", s.CriticBreakdown, s.WeakestArea)
	}
	if cert.ExpiresAt == nil || cert.ExpiresAt.Sub(*cert.CompletedAt) != 24*time.Hour {
		t.Fatalf("expires_at = %v", cert.ExpiresAt)
	}

	runs, err := f.store.ListEvalRuns(ctx, datastore.EvalRunFilter{Source: datastore.SourceCertification})
	if err != nil || len(runs) != 3 {
		t.Fatalf("certification eval runs = %d, %v", len(runs), err)
	}
	for _, run := range runs {
		if run.Provenance.CertificationID != cert.ID || run.Provenance.CardVersionID != "cv_7" {
			t.Fatalf("run provenance = %+v", run.Provenance)
		}
	}
	if item, err := f.store.ListReviewItems(ctx, datastore.ReviewFilter{}); err != nil || len(item) != 0 {
		t.Fatalf("certification runs must not queue reviews: %d, %v", len(item), err)
	}

	report, err := f.engine.Report(ctx, cert.ID)
	if err != nil || len(report) == 0 {
		t.Fatalf("report = %d bytes, %v", len(report), err)
	}
}

func TestRunCertifiedTierFailsOnWeakCase(t *testing.T) {
	f := newFixture(t)
	cert, err := f.engine.Run(context.Background(), RunRequest{
		AgentID: "agt_1", CharacterID: "mira", CardVersionID: "cv_7", TestSuiteID: "sut_1", Tier: datastore.TierCanonSafeCertified,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cert.Status != datastore.CertificationFailed || cert.ExpiresAt != nil {
		t.Fatalf("status = %s expires = %v", cert.Status, cert.ExpiresAt)
	}
}

func TestRunValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, req := range []RunRequest{
		{CharacterID: "mira", CardVersionID: "cv", TestSuiteID: "sut_1"},
		{AgentID: "a", CharacterID: "mira", CardVersionID: "cv", TestSuiteID: "sut_1", Tier: "gold"},
		{AgentID: "a", CharacterID: "mira", CardVersionID: "cv", TestSuiteID: "sut_missing"},
	} {
		if _, err := f.engine.Run(ctx, req); !apperrors.IsValidation(err) {
			t.Errorf("%+v: err = %v, want validation error", req, err)
		}
	}
}

func TestOverrideAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cert, err := f.engine.Run(ctx, RunRequest{AgentID: "agt_1", CharacterID: "mira", CardVersionID: "cv_7", TestSuiteID: "sut_1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	status := datastore.CertificationCertified
	if _, err := f.engine.Override(ctx, cert.ID, OverrideRequest{Status: &status, Operator: "ops"}); !errors.Is(err, apperrors.ErrMissingJustification) {
		t.Fatalf("override without justification: %v", err)
	}
	bogus := "platinum"
	if _, err := f.engine.Override(ctx, cert.ID, OverrideRequest{Status: &bogus, Justification: "x", Operator: "ops"}); !apperrors.IsValidation(err) {
		t.Fatalf("override with bad status: %v", err)
	}
	updated, err := f.engine.Override(ctx, cert.ID, OverrideRequest{Status: &status, Score: float(90), Justification: "legal sign-off", Operator: "ops"})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if updated.Status != status || updated.Score != 90 {
		t.Fatalf("updated = %s/%v", updated.Status, updated.Score)
	}
	audit, err := f.store.ListAudit(ctx, "certification", cert.ID)
	if err != nil || len(audit) != 1 || audit[0].Actor != "ops" {
		t.Fatalf("audit = %+v, %v", audit, err)
	}

	f.engine.Now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	n, err := f.engine.ExpireDue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expired %d, %v", n, err)
	}
	got, err := f.engine.Get(ctx, cert.ID)
	if err != nil || got.Status != datastore.CertificationExpired {
		t.Fatalf("after sweep = %+v, %v", got, err)
	}
}

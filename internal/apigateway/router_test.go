package apigateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"canonsafe-governance/backend/internal/appconfig"
	"canonsafe-governance/backend/internal/datastore"
	"canonsafe-governance/backend/internal/objectstore"

	"github.com/gin-gonic/gin"
)

func testConfig() appconfig.Config {
	return appconfig.Config{
		AdminUsername:   "admin",
		AdminPassword:   "s3cret",
		AuthTokenSecret: "test-signing-key",
		AuthTokenTTL:    time.Hour,
		Policy: appconfig.PolicyConfig{
			PassThreshold:         90,
			RegenerateThreshold:   70,
			QuarantineThreshold:   50,
			CriticalFlags:         []string{"csam"},
			HighSeverityFlags:     []string{"canon_violation"},
			SampleRate:            0,
			DisagreementThreshold: 30,
		},
		CriticTimeout:         5 * time.Second,
		EvaluationTimeout:     10 * time.Second,
		HealthDownAfter:       3,
		HealthDegradedLatency: time.Second,
		ReviewClaimTimeout:    time.Hour,
		ReviewPendingTimeout:  24 * time.Hour,
		AutoQueueLookback:     24 * time.Hour,
		CertificationValidity: 24 * time.Hour,
	}
}

type client struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func (c *client) expect(method, path string, body any, status int) map[string]any {
	c.t.Helper()
	w := c.do(method, path, body)
	if w.Code != status {
		c.t.Fatalf("%s %s = %d, want %d: %s", method, path, w.Code, status, w.Body.String())
	}
	out := map[string]any{}
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return out
}

func (c *client) list(path string) []any {
	c.t.Helper()
	w := c.do(http.MethodGet, path, nil)
	if w.Code != http.StatusOK {
		c.t.Fatalf("GET %s = %d: %s", path, w.Code, w.Body.String())
	}
	var out []any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		c.t.Fatalf("decode %s: %v", path, err)
	}
	return out
}

func newClient(t *testing.T) *client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := datastore.Open(datastore.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	services, _, err := NewServices(testConfig(), store, objectstore.NewMemoryArchive(), nil)
	if err != nil {
		t.Fatalf("wire services: %v", err)
	}
	return &client{t: t, router: SetupRouter(services)}
}

func TestAuthGuardsAPI(t *testing.T) {
	c := newClient(t)
	c.expect(http.MethodGet, "/health", nil, http.StatusOK)
	c.expect(http.MethodGet, "/api/v1/judges", nil, http.StatusUnauthorized)
	c.expect(http.MethodPost, "/auth/login", gin.H{"username": "admin", "password": "wrong"}, http.StatusUnauthorized)

	c.token = "not-a-token"
	c.expect(http.MethodGet, "/api/v1/judges", nil, http.StatusUnauthorized)

	c.token = ""
	login := c.expect(http.MethodPost, "/auth/login", gin.H{"username": "admin", "password": "s3cret", "reviewer": "ana"}, http.StatusOK)
	if login["reviewer"] != "ana" {
		t.Fatalf("login = %v", login)
	}
	c.token = login["token"].(string)
	if got := c.list("/api/v1/judges"); len(got) != 0 {
		t.Fatalf("judges = %v", got)
	}
}

func login(c *client, reviewer string) {
	c.t.Helper()
	c.token = ""
	resp := c.expect(http.MethodPost, "/auth/login", gin.H{"username": "admin", "password": "s3cret", "reviewer": reviewer}, http.StatusOK)
	c.token = resp["token"].(string)
}

func TestGovernanceFlow(t *testing.T) {
	c := newClient(t)
	login(c, "ana")

	judgeA := c.expect(http.MethodPost, "/api/v1/judges", gin.H{
		"name": "canon", "model_type": "mock", "api_key": "sk-live",
		"other_configs": gin.H{"score": 95, "scores_by_content": gin.H{"risky": 40}},
	}, http.StatusCreated)
	if judgeA["api_key"] != "********" {
		t.Fatalf("api key leaked: %v", judgeA["api_key"])
	}
	judgeB := c.expect(http.MethodPost, "/api/v1/judges", gin.H{
		"name": "safety", "model_type": "mock",
		"other_configs": gin.H{"score": 92, "scores_by_content": gin.H{"risky": 45}},
	}, http.StatusCreated)
	c.expect(http.MethodPost, "/api/v1/judges", gin.H{"name": "x", "model_type": "oracle"}, http.StatusBadRequest)

	tested := c.expect(http.MethodPost, "/api/v1/judges/"+judgeA["id"].(string)+"/test", gin.H{"content": "risky"}, http.StatusOK)
	if tested["score"] != 40.0 {
		t.Fatalf("judge test = %v", tested)
	}

	consent := c.expect(http.MethodPost, "/api/v1/consent", gin.H{
		"character_id": "mira", "performer_name": "Pat", "consent_type": "full", "strike_clause": true,
	}, http.StatusCreated)
	c.expect(http.MethodPost, "/api/v1/consent", gin.H{
		"character_id": "mira", "performer_name": "Pat", "consent_type": "partial",
	}, http.StatusBadRequest)

	// Clean pass: nothing to review.
	w := c.do(http.MethodPost, "/api/v1/evaluations", gin.H{"character_id": "mira", "content": "hello", "modality": "text"})
	if w.Code != http.StatusCreated || w.Header().Get("X-Review-Item-ID") != "" {
		t.Fatalf("clean evaluation = %d %q: %s", w.Code, w.Header().Get("X-Review-Item-ID"), w.Body.String())
	}
	var clean map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &clean); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if clean["decision"] != "pass" || clean["overall_score"] != 93.5 {
		t.Fatalf("clean run = %v", clean)
	}
	c.expect(http.MethodGet, "/api/v1/evaluations/"+clean["id"].(string)+"/evidence", nil, http.StatusOK)

	// Low score escalates and queues a review.
	w = c.do(http.MethodPost, "/api/v1/evaluations", gin.H{"character_id": "mira", "content": "risky", "modality": "text"})
	reviewID := w.Header().Get("X-Review-Item-ID")
	if w.Code != http.StatusCreated || reviewID == "" {
		t.Fatalf("risky evaluation = %d, review %q", w.Code, reviewID)
	}
	if got := c.list("/api/v1/evaluations?decision=escalate"); len(got) != 1 {
		t.Fatalf("escalated runs = %d", len(got))
	}
	c.expect(http.MethodGet, "/api/v1/evaluations?decision=maybe", nil, http.StatusBadRequest)

	item := c.expect(http.MethodGet, "/api/v1/reviews/"+reviewID, nil, http.StatusOK)
	if item["reason"] != "escalate" || item["priority"] != 81.0 {
		t.Fatalf("review item = %v", item)
	}
	claimed := c.expect(http.MethodPost, "/api/v1/reviews/"+reviewID+"/claim", nil, http.StatusOK)
	if claimed["assigned_reviewer"] != "ana" {
		t.Fatalf("claimed = %v", claimed)
	}
	login(c, "bo")
	c.expect(http.MethodPost, "/api/v1/reviews/"+reviewID+"/claim", nil, http.StatusConflict)
	login(c, "ana")
	c.expect(http.MethodPost, "/api/v1/reviews/"+reviewID+"/resolve", gin.H{"resolution": "overridden", "override_decision": "pass"}, http.StatusUnprocessableEntity)
	resolved := c.expect(http.MethodPost, "/api/v1/reviews/"+reviewID+"/resolve", gin.H{"resolution": "approved"}, http.StatusOK)
	if resolved["status"] != "resolved" {
		t.Fatalf("resolved = %v", resolved)
	}
	stats := c.expect(http.MethodGet, "/api/v1/reviews/stats", nil, http.StatusOK)
	if stats["total"] != 1.0 {
		t.Fatalf("stats = %v", stats)
	}
	if got := c.expect(http.MethodPost, "/api/v1/reviews/auto-queue", nil, http.StatusOK); got["enqueued"] != 0.0 {
		t.Fatalf("auto-queue = %v", got)
	}

	// Certification against a one-case suite.
	suite := c.expect(http.MethodPost, "/api/v1/test-suites", gin.H{
		"name": "smoke", "cases": []gin.H{{"name": "greeting", "content": "hello", "category": "tone"}},
	}, http.StatusCreated)
	if suite["pass_threshold"] != 0.8 || suite["min_score"] != 85.0 {
		t.Fatalf("suite defaults = %v", suite)
	}
	cert := c.expect(http.MethodPost, "/api/v1/certifications", gin.H{
		"agent_id": "agt_1", "character_id": "mira", "card_version_id": "cv_1", "test_suite_id": suite["id"],
	}, http.StatusCreated)
	if cert["status"] != "passed" {
		t.Fatalf("certification = %v", cert)
	}
	certPath := "/api/v1/certifications/" + cert["id"].(string)
	c.expect(http.MethodPatch, certPath, gin.H{"status": "failed"}, http.StatusUnprocessableEntity)
	patched := c.expect(http.MethodPatch, certPath, gin.H{"status": "failed", "justification": "card revoked"}, http.StatusOK)
	if patched["status"] != "failed" {
		t.Fatalf("patched = %v", patched)
	}
	c.expect(http.MethodGet, certPath+"/report", nil, http.StatusOK)

	// A/B test on critic weights.
	exp := c.expect(http.MethodPost, "/api/v1/ab-testing", gin.H{
		"name": "weights", "experiment_type": "critic_weight",
		"variant_a": gin.H{"weights": gin.H{judgeA["id"].(string): 1, judgeB["id"].(string): 0}},
		"variant_b": gin.H{"weights": gin.H{judgeA["id"].(string): 0, judgeB["id"].(string): 1}},
	}, http.StatusCreated)
	expPath := "/api/v1/ab-testing/" + exp["id"].(string)
	c.expect(http.MethodPost, expPath+"/run-trial", gin.H{"character_id": "mira", "content": "hello", "modality": "text"}, http.StatusCreated)
	detail := c.expect(http.MethodGet, expPath, nil, http.StatusOK)
	if trials := detail["trials"].([]any); len(trials) != 2 || detail["status"] != "running" {
		t.Fatalf("experiment detail = %v", detail)
	}
	c.expect(http.MethodPost, expPath+"/complete", nil, http.StatusOK)
	c.expect(http.MethodPost, expPath+"/run-trial", gin.H{"character_id": "mira", "content": "hello", "modality": "text"}, http.StatusConflict)

	// Strike is one-way and idempotent; afterwards consent is denied.
	strikePath := fmt.Sprintf("/api/v1/consent/%s/strike", consent["id"])
	if got := c.expect(http.MethodPost, strikePath, nil, http.StatusOK); got["changed"] != true {
		t.Fatalf("first strike = %v", got)
	}
	if got := c.expect(http.MethodPost, strikePath, nil, http.StatusOK); got["changed"] != false {
		t.Fatalf("second strike = %v", got)
	}
	check := c.expect(http.MethodPost, "/api/v1/consent/check", gin.H{"character_id": "mira", "modality": "text"}, http.StatusOK)
	if check["allowed"] != false {
		t.Fatalf("consent after strike = %v", check)
	}
	blocked := c.expect(http.MethodPost, "/api/v1/evaluations", gin.H{"character_id": "mira", "content": "hello", "modality": "text"}, http.StatusCreated)
	if blocked["decision"] != "block" || blocked["consent_verified"] != false {
		t.Fatalf("evaluation after strike = %v", blocked)
	}

	c.expect(http.MethodDelete, "/api/v1/judges/"+judgeB["id"].(string), nil, http.StatusOK)
	if got := c.list("/api/v1/judges?active=true"); len(got) != 1 {
		t.Fatalf("active judges = %d", len(got))
	}
	c.expect(http.MethodGet, "/api/v1/judges/jdg_missing", nil, http.StatusNotFound)
}

func TestEvaluationIgnoresPolicyOverrides(t *testing.T) {
	c := newClient(t)
	login(c, "ana")
	c.expect(http.MethodPost, "/api/v1/judges", gin.H{
		"name": "safety", "model_type": "mock",
		"other_configs": gin.H{"score": 97, "flags": []string{"csam"}},
	}, http.StatusCreated)
	c.expect(http.MethodPost, "/api/v1/consent", gin.H{
		"character_id": "mira", "performer_name": "Pat", "consent_type": "full",
	}, http.StatusCreated)

	w := c.do(http.MethodPost, "/api/v1/evaluations", gin.H{
		"character_id": "mira", "content": "hello", "modality": "text",
		"overrides": gin.H{
			"policy_profile": "lenient",
			"policy":         gin.H{"critical_flags": []string{}, "pass_threshold": 0},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("evaluation = %d: %s", w.Code, w.Body.String())
	}
	var run map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	provenance, _ := run["provenance"].(map[string]any)
	if run["decision"] != "block" || provenance["policy_profile"] != "default" {
		t.Fatalf("run = %v", run)
	}
}

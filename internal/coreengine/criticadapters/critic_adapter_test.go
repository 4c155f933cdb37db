package criticadapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"canonsafe-governance/backend/internal/datastore"
)

func judgeFor(modelType, endpoint string) *datastore.Judge {
	return &datastore.Judge{
		ID:              "jdg_test",
		Name:            "test",
		ModelType:       modelType,
		Endpoint:        endpoint,
		APIKey:          "secret",
		ModelID:         "model-x",
		Weight:          1,
		ScoreScale:      datastore.ScoreScalePercent,
		CostPer1KInput:  1,
		CostPer1KOutput: 2,
	}
}

func request() ScoreRequest {
	return ScoreRequest{Content: "Mira waves hello.", Modality: "text", CharacterID: "mira"}
}

func failureKind(t *testing.T, err error) string {
	t.Helper()
	var f *CriticFailure
	if !errors.As(err, &f) {
		t.Fatalf("expected *CriticFailure, got %T: %v", err, err)
	}
	return f.Kind
}

func TestOpenAICriticParsesVerdict(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "model-override" {
			t.Errorf("model = %q, want override", body.Model)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" || !strings.Contains(body.Messages[1].Content, "Mira waves hello.") {
			t.Errorf("unexpected messages: %+v", body.Messages)
		}
		if body.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %q", body.ResponseFormat.Type)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Here you go: {\"score\": 88, \"reasoning\": \"on model\", \"flags\": [\"Brand_Safety\", \"brand_safety\"]}"}}],
			"usage":{"prompt_tokens":1000,"completion_tokens":500}}`))
	}))
	defer srv.Close()

	req := request()
	req.ModelID = "model-override"
	res, err := (&OpenAICritic{HTTPClient: srv.Client()}).Score(context.Background(), judgeFor(datastore.ModelTypeOpenAI, srv.URL), req)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Score != 88 || res.Reasoning != "on model" {
		t.Fatalf("unexpected verdict: %+v", res)
	}
	if len(res.Flags) != 1 || res.Flags[0] != "brand_safety" {
		t.Fatalf("flags = %v, want deduplicated lower-case", res.Flags)
	}
	if res.InputTokens != 1000 || res.OutputTokens != 500 || res.Cost != 2 {
		t.Fatalf("usage = %d/%d cost %v", res.InputTokens, res.OutputTokens, res.Cost)
	}
}

func TestAnthropicCriticUnitScale(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic headers")
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"score\": 0.42, \"reasoning\": \"off tone\", \"flags\": []}"}],
			"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	judge := judgeFor(datastore.ModelTypeAnthropic, srv.URL)
	judge.ScoreScale = datastore.ScoreScaleUnit
	res, err := (&AnthropicCritic{HTTPClient: srv.Client()}).Score(context.Background(), judge, request())
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Score != 42 {
		t.Fatalf("score = %v, want 42 after unit normalization", res.Score)
	}
}

func TestHuggingFaceCriticAcceptsListOrObject(t *testing.T) {
	t.Parallel()
	for _, body := range []string{
		`[{"generated_text":"{\"score\": 71, \"reasoning\": \"ok\"}"}]`,
		`{"generated_text":"{\"score\": 71, \"reasoning\": \"ok\"}"}`,
	} {
		body := body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		res, err := (&HuggingFaceCritic{HTTPClient: srv.Client()}).Score(context.Background(), judgeFor(datastore.ModelTypeHuggingFace, srv.URL), request())
		srv.Close()
		if err != nil {
			t.Fatalf("score for %s: %v", body, err)
		}
		if res.Score != 71 {
			t.Fatalf("score = %v, want 71", res.Score)
		}
	}
}

func TestCustomCriticHeadersAndCost(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tenant") != "studio" {
			t.Errorf("X-Tenant = %q", r.Header.Get("X-Tenant"))
		}
		var body customRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.CharacterID != "mira" || body.Modality != "text" {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"score": 93, "reasoning": "fine", "flags": ["legal_risk"], "cost": 0.5}`))
	}))
	defer srv.Close()

	judge := judgeFor(datastore.ModelTypeCustom, srv.URL)
	judge.OtherConfigs = json.RawMessage(`{"headers":{"X-Tenant":"studio"}}`)
	res, err := (&CustomCritic{HTTPClient: srv.Client()}).Score(context.Background(), judge, request())
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Score != 93 || res.Cost != 0.5 || len(res.Flags) != 1 {
		t.Fatalf("unexpected verdict: %+v", res)
	}
}

func TestHTTPCriticFailureKinds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		want    string
	}{
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusBadGateway) },
			want:    FailureUpstreamError,
		},
		{
			name:    "gateway timeout",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "slow", http.StatusGatewayTimeout) },
			want:    FailureTimeout,
		},
		{
			name:    "not json",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) },
			want:    FailureInvalidResponse,
		},
		{
			name: "no score",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"reasoning\":\"hmm\"}"}}]}`))
			},
			want: FailureInvalidResponse,
		},
		{
			name: "score out of range",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"score\": 140}"}}]}`))
			},
			want: FailureInvalidResponse,
		},
		{
			name: "deadline",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout: 50 * time.Millisecond,
			want:    FailureTimeout,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}
			_, err := (&OpenAICritic{HTTPClient: srv.Client()}).Score(ctx, judgeFor(datastore.ModelTypeOpenAI, srv.URL), request())
			if got := failureKind(t, err); got != tt.want {
				t.Fatalf("kind = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestMockCriticOptions(t *testing.T) {
	t.Parallel()
	judge := judgeFor(datastore.ModelTypeMock, "")
	judge.OtherConfigs = json.RawMessage(`{"score": 60, "scores_by_model": {"better": 95}, "flags": ["canon_violation"]}`)

	res, err := (&MockCritic{}).Score(context.Background(), judge, request())
	if err != nil || res.Score != 60 || len(res.Flags) != 1 {
		t.Fatalf("default mock verdict = %+v, %v", res, err)
	}
	req := request()
	req.ModelID = "better"
	res, err = (&MockCritic{}).Score(context.Background(), judge, req)
	if err != nil || res.Score != 95 {
		t.Fatalf("model override verdict = %+v, %v", res, err)
	}

	judge.OtherConfigs = json.RawMessage(`{"fail": "invalid_response"}`)
	if _, err := (&MockCritic{}).Score(context.Background(), judge, request()); failureKind(t, err) != FailureInvalidResponse {
		t.Fatalf("expected simulated invalid_response, got %v", err)
	}
}

func TestReferenceCriticApplicability(t *testing.T) {
	t.Parallel()
	judge := judgeFor(datastore.ModelTypeReference, "")
	critic := &ReferenceCritic{}
	req := request()
	if critic.Applicable(judge, req) {
		t.Fatal("reference critic should not apply without a reference output")
	}
	req.Context = map[string]any{ContextReferenceOutput: "Mira waves hello."}
	if !critic.Applicable(judge, req) {
		t.Fatal("reference critic should apply with a reference output")
	}
	res, err := critic.Score(context.Background(), judge, req)
	if err != nil || res.Score != 100 || len(res.Flags) != 0 {
		t.Fatalf("exact match verdict = %+v, %v", res, err)
	}
	req.Content = "Totally different words entirely here now"
	res, err = critic.Score(context.Background(), judge, req)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(res.Flags) != 1 || res.Flags[0] != FlagReferenceMismatch {
		t.Fatalf("expected mismatch flag, got %+v", res)
	}
}

func TestRegistryRejectsUnknownModelType(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	for _, mt := range []string{
		datastore.ModelTypeOpenAI, datastore.ModelTypeAnthropic, datastore.ModelTypeHuggingFace,
		datastore.ModelTypeCustom, datastore.ModelTypeVolcengineArk, datastore.ModelTypeReference, datastore.ModelTypeMock,
	} {
		if !r.Supports(mt) {
			t.Errorf("registry missing %s", mt)
		}
	}
	if _, err := r.AdapterFor(judgeFor("gpt-classic", "")); err == nil {
		t.Fatal("expected error for unknown model type")
	}
}

func TestBuildPromptPlaceholders(t *testing.T) {
	t.Parallel()
	judge := judgeFor(datastore.ModelTypeOpenAI, "")
	judge.PromptTemplate = "Rate {{content}} for {{character_id}} in {{territory}}"
	req := request()
	req.Territory = "US"
	_, user := BuildPrompt(judge, req)
	if user != "Rate Mira waves hello. for mira in US" {
		t.Fatalf("user prompt = %q", user)
	}
	req.PromptTemplate = "Override {{modality}}"
	if _, user := BuildPrompt(judge, req); user != "Override text" {
		t.Fatalf("override prompt = %q", user)
	}
}

func TestOpenAICriticIgnoresProcessCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("OPENAI_BASE_URL", "http://192.0.2.1:1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("authorization = %q, want none for a keyless judge", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"score\": 75}"}}]}`))
	}))
	defer srv.Close()

	judge := judgeFor(datastore.ModelTypeOpenAI, srv.URL)
	judge.APIKey = ""
	res, err := (&OpenAICritic{HTTPClient: srv.Client()}).Score(context.Background(), judge, request())
	if err != nil || res.Score != 75 {
		t.Fatalf("score = %+v, %v", res, err)
	}
}

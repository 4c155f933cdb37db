package criticadapters

import (
	"context"
	"fmt"
	"net/http"

	"canonsafe-governance/backend/internal/datastore"
)

// CustomCritic posts the request as-is to an operator-hosted judge that
// replies with a verdict directly. Extra headers come from other_configs.headers.
type CustomCritic struct {
	HTTPClient *http.Client
}

type customRequest struct {
	Content        string         `json:"content"`
	Modality       string         `json:"modality"`
	CharacterID    string         `json:"character_id"`
	Territory      string         `json:"territory,omitempty"`
	UsageType      string         `json:"usage_type,omitempty"`
	Model          string         `json:"model,omitempty"`
	PromptTemplate string         `json:"prompt_template,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

type customResponse struct {
	Score        *float64 `json:"score"`
	Reasoning    string   `json:"reasoning"`
	Flags        []string `json:"flags"`
	InputTokens  int64    `json:"input_tokens"`
	OutputTokens int64    `json:"output_tokens"`
	Cost         *float64 `json:"cost"`
}

// Score implements CriticAdapter.
func (a *CustomCritic) Score(ctx context.Context, judge *datastore.Judge, req ScoreRequest) (*ScoreResponse, error) {
	if judge.Endpoint == "" {
		return nil, failure(FailureUpstreamError, judge, "custom judge has no endpoint")
	}
	tmpl := req.PromptTemplate
	if tmpl == "" {
		tmpl = judge.PromptTemplate
	}
	body := customRequest{
		Content:        req.Content,
		Modality:       req.Modality,
		CharacterID:    req.CharacterID,
		Territory:      req.Territory,
		UsageType:      req.UsageType,
		Model:          modelFor(judge, req),
		PromptTemplate: tmpl,
		Context:        req.Context,
	}
	headers := map[string]string{}
	if judge.APIKey != "" {
		headers["Authorization"] = "Bearer " + judge.APIKey
	}
	if extra, ok := judge.Options()["headers"].(map[string]any); ok {
		for k, v := range extra {
			headers[k] = fmt.Sprint(v)
		}
	}

	var out customResponse
	raw, err := postJSON(ctx, a.HTTPClient, judge, judge.Endpoint, headers, body, &out)
	if err != nil {
		return nil, err
	}
	if out.Score == nil {
		return nil, failure(FailureInvalidResponse, judge, "verdict has no score")
	}
	score, err := NormalizeScore(judge, *out.Score)
	if err != nil {
		return nil, err
	}
	cost := estimateCost(judge, out.InputTokens, out.OutputTokens)
	if out.Cost != nil {
		cost = *out.Cost
	}
	return &ScoreResponse{
		Score:        score,
		Reasoning:    out.Reasoning,
		Flags:        normalizeFlags(out.Flags),
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
		Cost:         cost,
		RawResponse:  raw,
	}, nil
}

package criticadapters

import (
	"context"
	"net/http"
	"strings"

	"canonsafe-governance/backend/internal/datastore"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// AnthropicCritic calls the Messages API.
type AnthropicCritic struct {
	HTTPClient *http.Client
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// Score implements CriticAdapter.
func (a *AnthropicCritic) Score(ctx context.Context, judge *datastore.Judge, req ScoreRequest) (*ScoreResponse, error) {
	system, user := BuildPrompt(judge, req)
	body := anthropicRequest{
		Model:     modelFor(judge, req),
		MaxTokens: 1024,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: user}},
	}
	headers := map[string]string{"anthropic-version": anthropicVersion}
	if judge.APIKey != "" {
		headers["x-api-key"] = judge.APIKey
	}

	var out anthropicResponse
	if _, err := postJSON(ctx, a.HTTPClient, judge, endpointOr(judge, anthropicBaseURL)+"/v1/messages", headers, body, &out); err != nil {
		return nil, err
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, failure(FailureInvalidResponse, judge, "response has no text content")
	}
	res, err := ParseJudgement(judge, text.String())
	if err != nil {
		return nil, err
	}
	res.InputTokens = out.Usage.InputTokens
	res.OutputTokens = out.Usage.OutputTokens
	res.Cost = estimateCost(judge, res.InputTokens, res.OutputTokens)
	return res, nil
}

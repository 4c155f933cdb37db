package criticadapters

import (
	"context"
	"log"
	"net/http"

	"canonsafe-governance/backend/internal/datastore"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAICritic talks to any OpenAI-compatible chat completions endpoint
// through the openai-go client. Credentials and base URL come from the
// judge, never from the process environment.
type OpenAICritic struct {
	HTTPClient *http.Client
}

func (a *OpenAICritic) completions(judge *datastore.Judge) openai.ChatCompletionService {
	opts := []option.RequestOption{
		option.WithBaseURL(endpointOr(judge, openAIBaseURL)),
		option.WithMaxRetries(0),
	}
	if a.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(a.HTTPClient))
	}
	if judge.APIKey != "" {
		opts = append(opts, option.WithAPIKey(judge.APIKey))
	}
	return openai.NewChatCompletionService(opts...)
}

// Score implements CriticAdapter.
func (a *OpenAICritic) Score(ctx context.Context, judge *datastore.Judge, req ScoreRequest) (*ScoreResponse, error) {
	system, user := BuildPrompt(judge, req)
	params := openai.ChatCompletionNewParams{
		Model: modelFor(judge, req),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}

	var httpResp *http.Response
	svc := a.completions(judge)
	out, err := svc.New(ctx, params, option.WithResponseInto(&httpResp))
	if err != nil {
		return nil, openAIFailure(judge, httpResp, err)
	}
	if len(out.Choices) == 0 {
		return nil, failure(FailureInvalidResponse, judge, "response has no choices")
	}
	res, err := ParseJudgement(judge, out.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	res.InputTokens = out.Usage.PromptTokens
	res.OutputTokens = out.Usage.CompletionTokens
	res.Cost = estimateCost(judge, res.InputTokens, res.OutputTokens)
	return res, nil
}

// openAIFailure classifies a client error the same way postJSON does: by
// HTTP status when the endpoint answered, by transport error otherwise.
func openAIFailure(judge *datastore.Judge, resp *http.Response, err error) *CriticFailure {
	if resp == nil {
		return AsFailure(judge.ID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Critic %s (%s) returned status %s", judge.ID, judge.ModelType, resp.Status)
		kind := FailureUpstreamError
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
			kind = FailureTimeout
		}
		return failure(kind, judge, "status %s: %s", resp.Status, truncate(err.Error(), 256))
	}
	if isTimeout(err) {
		return AsFailure(judge.ID, err)
	}
	return failure(FailureInvalidResponse, judge, "decode response: %v", err)
}

package criticadapters

import (
	"context"

	"canonsafe-governance/backend/internal/datastore"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

// ArkCritic scores through Volcengine Ark chat completions. The judge's
// model_id is the Ark endpoint/model id; endpoint overrides the base URL.
type ArkCritic struct{}

// Score implements CriticAdapter.
func (a *ArkCritic) Score(ctx context.Context, judge *datastore.Judge, req ScoreRequest) (*ScoreResponse, error) {
	if judge.APIKey == "" {
		return nil, failure(FailureUpstreamError, judge, "volcengine ark judge has no api key")
	}
	var opts []arkruntime.ConfigOption
	if judge.Endpoint != "" {
		opts = append(opts, arkruntime.WithBaseUrl(judge.Endpoint))
	}
	client := arkruntime.NewClientWithApiKey(judge.APIKey, opts...)

	system, user := BuildPrompt(judge, req)
	resp, err := client.CreateChatCompletion(ctx, model.CreateChatCompletionRequest{
		Model: modelFor(judge, req),
		Messages: []*model.ChatCompletionMessage{
			{
				Role:    model.ChatMessageRoleSystem,
				Content: &model.ChatCompletionMessageContent{StringValue: volcengine.String(system)},
			},
			{
				Role:    model.ChatMessageRoleUser,
				Content: &model.ChatCompletionMessageContent{StringValue: volcengine.String(user)},
			},
		},
	})
	if err != nil {
		return nil, AsFailure(judge.ID, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil || resp.Choices[0].Message.Content.StringValue == nil {
		return nil, failure(FailureInvalidResponse, judge, "ark response has no message content")
	}
	res, err := ParseJudgement(judge, *resp.Choices[0].Message.Content.StringValue)
	if err != nil {
		return nil, err
	}
	res.InputTokens = int64(resp.Usage.PromptTokens)
	res.OutputTokens = int64(resp.Usage.CompletionTokens)
	res.Cost = estimateCost(judge, res.InputTokens, res.OutputTokens)
	return res, nil
}

package criticadapters

import (
	"context"
	"encoding/json"
	"net/http"

	"canonsafe-governance/backend/internal/datastore"
)

// HuggingFaceCritic calls a text-generation inference endpoint. The judge's
// endpoint must be the full model URL.
type HuggingFaceCritic struct {
	HTTPClient *http.Client
}

type huggingFaceRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters map[string]any `json:"parameters"`
}

type huggingFaceGeneration struct {
	GeneratedText string `json:"generated_text"`
}

// Score implements CriticAdapter.
func (a *HuggingFaceCritic) Score(ctx context.Context, judge *datastore.Judge, req ScoreRequest) (*ScoreResponse, error) {
	if judge.Endpoint == "" {
		return nil, failure(FailureUpstreamError, judge, "huggingface judge has no endpoint")
	}
	system, user := BuildPrompt(judge, req)
	body := huggingFaceRequest{
		Inputs: system + "\n\n" + user,
		Parameters: map[string]any{
			"max_new_tokens":   512,
			"return_full_text": false,
		},
	}
	headers := map[string]string{}
	if judge.APIKey != "" {
		headers["Authorization"] = "Bearer " + judge.APIKey
	}

	// Endpoints answer with either a list of generations or a single object.
	var out json.RawMessage
	if _, err := postJSON(ctx, a.HTTPClient, judge, endpointOr(judge, ""), headers, body, &out); err != nil {
		return nil, err
	}
	var text string
	var list []huggingFaceGeneration
	var single huggingFaceGeneration
	switch {
	case json.Unmarshal(out, &list) == nil && len(list) > 0:
		text = list[0].GeneratedText
	case json.Unmarshal(out, &single) == nil:
		text = single.GeneratedText
	}
	if text == "" {
		return nil, failure(FailureInvalidResponse, judge, "response has no generated_text")
	}
	return ParseJudgement(judge, text)
}

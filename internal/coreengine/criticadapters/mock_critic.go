package criticadapters

import (
	"context"
	"errors"
	"log"
	"time"

	"canonsafe-governance/backend/internal/datastore"
)

// MockCritic returns a verdict configured in the judge's other_configs:
//
//	score              default score (percent scale unless score_scale=unit)
//	scores_by_model    map of model id to score, checked first
//	scores_by_content  map of exact content to score, checked second
//	flags              flags attached to every verdict
//	reasoning          reasoning text
//	fail               one of timeout, upstream_error, invalid_response
//	delay_ms           artificial latency, honouring ctx cancellation
type MockCritic struct{}

// Score implements CriticAdapter.
func (m *MockCritic) Score(ctx context.Context, judge *datastore.Judge, req ScoreRequest) (*ScoreResponse, error) {
	opts := judge.Options()

	if delay, ok := opts["delay_ms"].(float64); ok && delay > 0 {
		select {
		case <-time.After(time.Duration(delay) * time.Millisecond):
		case <-ctx.Done():
			return nil, AsFailure(judge.ID, ctx.Err())
		}
	}

	if kind, ok := opts["fail"].(string); ok && kind != "" {
		log.Printf("MockCritic %s: simulating %s failure", judge.ID, kind)
		return nil, &CriticFailure{Kind: kind, JudgeID: judge.ID, Err: errors.New("simulated failure")}
	}

	raw := 80.0
	if judge.ScoreScale == datastore.ScoreScaleUnit {
		raw = 0.8
	}
	if v, ok := opts["score"].(float64); ok {
		raw = v
	}
	if byContent, ok := opts["scores_by_content"].(map[string]any); ok {
		if v, ok := byContent[req.Content].(float64); ok {
			raw = v
		}
	}
	if byModel, ok := opts["scores_by_model"].(map[string]any); ok {
		if v, ok := byModel[modelFor(judge, req)].(float64); ok {
			raw = v
		}
	}
	score, err := NormalizeScore(judge, raw)
	if err != nil {
		return nil, err
	}

	var flags []string
	if list, ok := opts["flags"].([]any); ok {
		for _, f := range list {
			if s, ok := f.(string); ok {
				flags = append(flags, s)
			}
		}
	}
	reasoning, _ := opts["reasoning"].(string)
	if reasoning == "" {
		reasoning = "mock verdict"
	}
	return &ScoreResponse{
		Score:        score,
		Reasoning:    reasoning,
		Flags:        normalizeFlags(flags),
		InputTokens:  int64(len(req.Content)),
		OutputTokens: 16,
		Cost:         estimateCost(judge, int64(len(req.Content)), 16),
	}, nil
}

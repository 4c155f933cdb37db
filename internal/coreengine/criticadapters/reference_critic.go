package criticadapters

import (
	"context"
	"fmt"

	"canonsafe-governance/backend/internal/coreengine/metricscalculator"
	"canonsafe-governance/backend/internal/datastore"
)

// ContextReferenceOutput is the request context key holding the expected
// output a reference critic compares against.
const ContextReferenceOutput = "reference_output"

// FlagReferenceMismatch is raised when similarity falls below the judge's
// other_configs.flag_below (default 40).
const FlagReferenceMismatch = "reference_mismatch"

// ReferenceCritic scores content by edit-distance similarity to an expected
// output. It never leaves the process.
type ReferenceCritic struct{}

// Applicable reports whether the request carries a reference output.
func (a *ReferenceCritic) Applicable(_ *datastore.Judge, req ScoreRequest) bool {
	ref, ok := req.Context[ContextReferenceOutput].(string)
	return ok && ref != ""
}

// Score implements CriticAdapter.
func (a *ReferenceCritic) Score(ctx context.Context, judge *datastore.Judge, req ScoreRequest) (*ScoreResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, AsFailure(judge.ID, err)
	}
	ref, _ := req.Context[ContextReferenceOutput].(string)
	if ref == "" {
		return nil, failure(FailureInvalidResponse, judge, "request has no %s", ContextReferenceOutput)
	}
	score := metricscalculator.Similarity(ref, req.Content)
	threshold := 40.0
	if v, ok := judge.Options()["flag_below"].(float64); ok {
		threshold = v
	}
	flags := []string{}
	if score < threshold {
		flags = append(flags, FlagReferenceMismatch)
	}
	return &ScoreResponse{
		Score: score,
		Reasoning: fmt.Sprintf("similarity %.1f (character error rate %.2f, word error rate %.2f)", score,
			metricscalculator.CharacterErrorRate(ref, req.Content), metricscalculator.WordErrorRate(ref, req.Content)),
		Flags: flags,
	}, nil
}

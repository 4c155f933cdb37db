package decisionengine

import (
	"math"
	"strings"

	"canonsafe-governance/backend/internal/coreengine/metricscalculator"
	"canonsafe-governance/backend/internal/datastore"

	"github.com/google/uuid"
)

var reasonBasePriority = map[string]int{
	datastore.ReviewReasonEscalate:           80,
	datastore.ReviewReasonQuarantine:         50,
	datastore.ReviewReasonCriticDisagreement: 40,
	datastore.ReviewReasonLowConfidence:      30,
	datastore.ReviewReasonSampledAudit:       10,
}

// CriticSpread is max minus min over the scores of critics that succeeded.
func CriticSpread(results []*datastore.CriticResult) float64 {
	scores := survivingScores(results)
	if len(scores) < 2 {
		return 0
	}
	lo, hi := metricscalculator.MinMax(scores)
	return hi - lo
}

// ReviewFor applies the escalation rule to a finished run and returns the
// review item it calls for, or nil. It reads only the run, so the review
// queue can apply it after the fact.
//
// Reasons in order of precedence: escalate, quarantine, critic_disagreement,
// low_confidence (some critics failed), sampled_audit. Priority is the
// reason's base plus one point per 5 points of critic spread.
func ReviewFor(run *datastore.EvalRun, policy Policy) *datastore.ReviewItem {
	spread := CriticSpread(run.CriticResults)
	failed := 0
	for _, cr := range run.CriticResults {
		if cr.Failed() {
			failed++
		}
	}

	var reason string
	switch {
	case run.Decision == datastore.DecisionEscalate:
		reason = datastore.ReviewReasonEscalate
	case run.Decision == datastore.DecisionQuarantine:
		reason = datastore.ReviewReasonQuarantine
	case spread > policy.DisagreementThreshold:
		reason = datastore.ReviewReasonCriticDisagreement
	case !run.ConsentVerified:
		return nil
	case failed > 0 && failed < len(run.CriticResults):
		reason = datastore.ReviewReasonLowConfidence
	case run.Decision == datastore.DecisionSampledPass:
		reason = datastore.ReviewReasonSampledAudit
	default:
		return nil
	}
	return &datastore.ReviewItem{
		ID:        "rvw_" + uuid.NewString(),
		EvalRunID: run.ID,
		Reason:    reason,
		Priority:  reasonBasePriority[reason] + int(math.Round(spread/5)),
		Status:    datastore.ReviewStatusPending,
	}
}

func survivingScores(results []*datastore.CriticResult) []float64 {
	scores := make([]float64, 0, len(results))
	for _, cr := range results {
		if !cr.Failed() {
			scores = append(scores, *cr.Score)
		}
	}
	return scores
}

// failureFlags are the flags recorded for one failed critic.
func failureFlags(judgeID, kind string) []string {
	id := strings.TrimSpace(judgeID)
	return []string{"critic_" + id + "_failed", "critic_" + id + "_" + kind}
}

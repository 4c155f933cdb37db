package experimentengine

import (
	"math"

	"canonsafe-governance/backend/internal/coreengine/metricscalculator"
	"canonsafe-governance/backend/internal/datastore"
)

// SignificanceLevel is the p-value cutoff for declaring a winner.
const SignificanceLevel = 0.05

// VariantStats describes one arm. Score statistics cover scored trials
// only; a trial whose run produced no score still counts toward Trials.
type VariantStats struct {
	Trials         int            `json:"trials"`
	ScoredTrials   int            `json:"scored_trials"`
	MeanScore      *float64       `json:"mean_score"`
	StdDev         *float64       `json:"std_dev"`
	PassRate       float64        `json:"pass_rate"`
	MeanLatencyMs  float64        `json:"mean_latency_ms"`
	MeanCost       float64        `json:"mean_cost"`
	DecisionCounts map[string]int `json:"decision_counts"`
}

// Summary is the experiment-level comparison.
type Summary struct {
	VariantA         VariantStats `json:"variant_a"`
	VariantB         VariantStats `json:"variant_b"`
	Test             string       `json:"test"`
	TStatistic       *float64     `json:"t_statistic"`
	DegreesOfFreedom *float64     `json:"degrees_of_freedom"`
	PValue           *float64     `json:"p_value"`
	Significant      bool         `json:"significant"`
	Winner           string       `json:"winner"`
}

// Summarize compares the two arms. It depends only on the set of trials,
// not their order.
func Summarize(trials []*datastore.Trial) Summary {
	var a, b []*datastore.Trial
	for _, t := range trials {
		switch t.Variant {
		case datastore.VariantA:
			a = append(a, t)
		case datastore.VariantB:
			b = append(b, t)
		}
	}
	s := Summary{
		VariantA: variantStats(a),
		VariantB: variantStats(b),
		Test:     "welch_t",
		Winner:   datastore.WinnerInconclusive,
	}

	scoresA, scoresB := scores(a), scores(b)
	res, ok := metricscalculator.WelchTTest(scoresA, scoresB)
	if !ok {
		return s
	}
	s.TStatistic = finite(res.T)
	s.DegreesOfFreedom = finite(res.DF)
	s.PValue = finite(res.PValue)
	s.Significant = s.PValue != nil && *s.PValue < SignificanceLevel

	meanA, meanB := metricscalculator.Mean(scoresA), metricscalculator.Mean(scoresB)
	switch {
	case meanA == meanB || !s.Significant:
	case meanA > meanB:
		s.Winner = datastore.VariantA
	default:
		s.Winner = datastore.VariantB
	}
	return s
}

func variantStats(trials []*datastore.Trial) VariantStats {
	vs := VariantStats{Trials: len(trials), DecisionCounts: map[string]int{}}
	if len(trials) == 0 {
		return vs
	}
	var latency, cost float64
	passed := 0
	for _, t := range trials {
		vs.DecisionCounts[string(t.Decision)]++
		if t.Decision.IsPassing() {
			passed++
		}
		latency += float64(t.LatencyMs)
		cost += t.Cost
	}
	n := float64(len(trials))
	vs.PassRate = float64(passed) / n
	vs.MeanLatencyMs = latency / n
	vs.MeanCost = cost / n

	sc := scores(trials)
	vs.ScoredTrials = len(sc)
	if len(sc) > 0 {
		mean := metricscalculator.Mean(sc)
		sd := metricscalculator.SampleStdDev(sc)
		vs.MeanScore, vs.StdDev = &mean, &sd
	}
	return vs
}

func scores(trials []*datastore.Trial) []float64 {
	out := make([]float64, 0, len(trials))
	for _, t := range trials {
		if t.Score != nil {
			out = append(out, *t.Score)
		}
	}
	return out
}

// finite drops values JSON cannot carry.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

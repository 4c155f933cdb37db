package criticadapters

import (
	"context"
	"fmt"
	"log"
	"time"

	"canonsafe-governance/backend/internal/datastore"
)

const healthProbeContent = "Health check: reply with a neutral verdict for this short sentence."

// HealthStore persists probe outcomes.
type HealthStore interface {
	UpdateJudgeHealth(ctx context.Context, id string, h datastore.JudgeHealth) error
}

// HealthMonitor probes judges out of band. Its verdicts are informational
// unless the decision engine runs with degraded mode enabled.
type HealthMonitor struct {
	Registry        *Registry
	Store           HealthStore
	DownAfter       int
	DegradedLatency time.Duration
	Timeout         time.Duration
	Now             func() time.Time
}

// HealthReport is the result of one probe.
type HealthReport struct {
	JudgeID string                `json:"judge_id"`
	Health  datastore.JudgeHealth `json:"-"`
	Status  string                `json:"status"`
	Latency int64                 `json:"latency_ms"`
	Failure *CriticFailure        `json:"-"`
	Error   string                `json:"error,omitempty"`
}

// Check sends a probe to judge, classifies the outcome and stores it.
func (m *HealthMonitor) Check(ctx context.Context, judge *datastore.Judge) (*HealthReport, error) {
	adapter, err := m.Registry.AdapterFor(judge)
	if err != nil {
		return nil, err
	}
	timeout := m.Timeout
	if judge.TimeoutMs > 0 {
		timeout = time.Duration(judge.TimeoutMs) * time.Millisecond
	}
	probeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	_, scoreErr := adapter.Score(probeCtx, judge, ScoreRequest{
		Content:     healthProbeContent,
		Modality:    "text",
		CharacterID: "health-check",
		Context:     map[string]any{ContextReferenceOutput: healthProbeContent},
	})
	latency := time.Since(start)

	h := m.Classify(judge.ConsecutiveFailures, scoreErr, latency)
	report := &HealthReport{JudgeID: judge.ID, Health: h, Status: h.Status, Latency: h.LatencyMs}
	if scoreErr != nil {
		report.Failure = AsFailure(judge.ID, scoreErr)
		report.Error = report.Failure.Error()
		log.Printf("Health check for judge %s failed (%s), status %s", judge.ID, report.Failure.Kind, h.Status)
	}
	if err := m.Store.UpdateJudgeHealth(ctx, judge.ID, h); err != nil {
		return nil, fmt.Errorf("store health for judge %s: %w", judge.ID, err)
	}
	return report, nil
}

// Classify derives the next health state from the previous consecutive
// failure count and this probe's outcome.
func (m *HealthMonitor) Classify(prevFailures int, probeErr error, latency time.Duration) datastore.JudgeHealth {
	now := time.Now().UTC()
	if m.Now != nil {
		now = m.Now()
	}
	downAfter := m.DownAfter
	if downAfter < 1 {
		downAfter = 3
	}
	h := datastore.JudgeHealth{LatencyMs: latency.Milliseconds(), CheckedAt: now}
	if probeErr != nil {
		h.ConsecutiveFailures = prevFailures + 1
		if h.ConsecutiveFailures >= downAfter {
			h.Status = datastore.HealthDown
		} else {
			h.Status = datastore.HealthDegraded
		}
		return h
	}
	h.Status = datastore.HealthHealthy
	if m.DegradedLatency > 0 && latency > m.DegradedLatency {
		h.Status = datastore.HealthDegraded
	}
	return h
}

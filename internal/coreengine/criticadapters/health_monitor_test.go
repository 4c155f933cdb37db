package criticadapters

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"canonsafe-governance/backend/internal/datastore"
)

type recordingHealthStore struct {
	updates map[string]datastore.JudgeHealth
}

func (s *recordingHealthStore) UpdateJudgeHealth(_ context.Context, id string, h datastore.JudgeHealth) error {
	if s.updates == nil {
		s.updates = map[string]datastore.JudgeHealth{}
	}
	s.updates[id] = h
	return nil
}

func TestClassify(t *testing.T) {
	t.Parallel()
	m := &HealthMonitor{DownAfter: 3, DegradedLatency: time.Second}
	failed := errors.New("boom")
	tests := []struct {
		name         string
		prevFailures int
		err          error
		latency      time.Duration
		wantStatus   string
		wantFailures int
	}{
		{name: "fast success", latency: 100 * time.Millisecond, wantStatus: datastore.HealthHealthy},
		{name: "slow success", latency: 2 * time.Second, wantStatus: datastore.HealthDegraded},
		{name: "success resets failures", prevFailures: 5, latency: time.Millisecond, wantStatus: datastore.HealthHealthy},
		{name: "first failure", err: failed, wantStatus: datastore.HealthDegraded, wantFailures: 1},
		{name: "third failure", prevFailures: 2, err: failed, wantStatus: datastore.HealthDown, wantFailures: 3},
	}
	for _, tt := range tests {
		got := m.Classify(tt.prevFailures, tt.err, tt.latency)
		if got.Status != tt.wantStatus || got.ConsecutiveFailures != tt.wantFailures {
			t.Errorf("%s: got %s/%d, want %s/%d", tt.name, got.Status, got.ConsecutiveFailures, tt.wantStatus, tt.wantFailures)
		}
	}
}

func TestHealthMonitorCheckStoresOutcome(t *testing.T) {
	t.Parallel()
	store := &recordingHealthStore{}
	m := &HealthMonitor{Registry: NewRegistry(nil), Store: store, DownAfter: 2, Timeout: time.Second}

	judge := judgeFor(datastore.ModelTypeMock, "")
	judge.ConsecutiveFailures = 1
	judge.OtherConfigs = json.RawMessage(`{"fail": "upstream_error"}`)
	report, err := m.Check(context.Background(), judge)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.Status != datastore.HealthDown || report.Failure == nil || report.Failure.Kind != FailureUpstreamError {
		t.Fatalf("unexpected report: %+v", report)
	}
	if store.updates[judge.ID].ConsecutiveFailures != 2 {
		t.Fatalf("stored health = %+v", store.updates[judge.ID])
	}

	judge.OtherConfigs = nil
	report, err = m.Check(context.Background(), judge)
	if err != nil || report.Status != datastore.HealthHealthy {
		t.Fatalf("healthy probe = %+v, %v", report, err)
	}
}

// Package criticadapters invokes scoring backends ("judges"). Every backend
// implements CriticAdapter; the registry picks one by the judge's model_type.
package criticadapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"canonsafe-governance/backend/internal/datastore"
)

// CriticAdapter scores one piece of content with one configured judge.
// Implementations return a *CriticFailure for every error.
type CriticAdapter interface {
	Score(ctx context.Context, judge *datastore.Judge, req ScoreRequest) (*ScoreResponse, error)
}

// Applicability is implemented by adapters that only make sense for some
// requests (for example, the reference critic needs an expected output).
// Inapplicable critics are skipped, not failed.
type Applicability interface {
	Applicable(judge *datastore.Judge, req ScoreRequest) bool
}

// ScoreRequest is what a critic sees. PromptTemplate and ModelID override the
// judge's stored values when set.
type ScoreRequest struct {
	Content        string
	Modality       string
	CharacterID    string
	Territory      string
	UsageType      string
	PromptTemplate string
	ModelID        string
	Context        map[string]any
}

// ScoreResponse is a successful verdict. Score is already on the 0-100 scale.
type ScoreResponse struct {
	Score        float64
	Reasoning    string
	Flags        []string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	RawResponse  string
}

// Failure kinds.
const (
	FailureTimeout         = "timeout"
	FailureUpstreamError   = "upstream_error"
	FailureInvalidResponse = "invalid_response"
)

// CriticFailure is the typed error every adapter returns.
type CriticFailure struct {
	Kind    string
	JudgeID string
	Err     error
}

func (f *CriticFailure) Error() string {
	return fmt.Sprintf("critic %s %s: %v", f.JudgeID, f.Kind, f.Err)
}

func (f *CriticFailure) Unwrap() error { return f.Err }

// AsFailure converts any error into a CriticFailure, classifying deadline
// and network timeouts as FailureTimeout and everything else as upstream.
func AsFailure(judgeID string, err error) *CriticFailure {
	var f *CriticFailure
	if errors.As(err, &f) {
		return f
	}
	kind := FailureUpstreamError
	if isTimeout(err) {
		kind = FailureTimeout
	}
	return &CriticFailure{Kind: kind, JudgeID: judgeID, Err: err}
}

func failure(kind string, judge *datastore.Judge, format string, args ...any) *CriticFailure {
	return &CriticFailure{Kind: kind, JudgeID: judge.ID, Err: fmt.Errorf(format, args...)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// modelFor returns the request override or the judge's stored model.
func modelFor(judge *datastore.Judge, req ScoreRequest) string {
	if req.ModelID != "" {
		return req.ModelID
	}
	return judge.ModelID
}

// estimateCost prices token usage with the judge's per-1K rates.
func estimateCost(judge *datastore.Judge, in, out int64) float64 {
	return float64(in)/1000*judge.CostPer1KInput + float64(out)/1000*judge.CostPer1KOutput
}

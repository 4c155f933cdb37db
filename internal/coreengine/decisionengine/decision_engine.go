// Package decisionengine turns one piece of content into one governed
// decision: consent first, then every applicable critic in parallel, then a
// weighted aggregate mapped through the policy bands.
package decisionengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/coreengine/consentgate"
	"canonsafe-governance/backend/internal/coreengine/criticadapters"
	"canonsafe-governance/backend/internal/datastore"
	"canonsafe-governance/backend/internal/objectstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// EngineVersion is stamped into every run's provenance.
const EngineVersion = "canonsafe-decision/1"

// Engine-only flags that have no datastore constant.
const (
	FlagNoApplicableCritics = "no_applicable_critics"
	FlagZeroTotalWeight     = "zero_total_weight"
)

// Store is the persistence the engine needs.
type Store interface {
	ListJudges(ctx context.Context, activeOnly bool) ([]*datastore.Judge, error)
	CreateEvalRun(ctx context.Context, run *datastore.EvalRun, review *datastore.ReviewItem) error
}

// ConsentChecker is satisfied by *consentgate.Gate.
type ConsentChecker interface {
	Check(ctx context.Context, req consentgate.CheckRequest) (consentgate.Result, error)
}

// Overrides alter one evaluation without touching stored configuration.
// Experiments use them to express a variant.
type Overrides struct {
	Weights        map[string]float64 `json:"weights,omitempty"`
	JudgeIDs       []string           `json:"judge_ids,omitempty"`
	PromptTemplate string             `json:"prompt_template,omitempty"`
	ModelID        string             `json:"model_id,omitempty"`
	PolicyProfile  string             `json:"policy_profile,omitempty"`
	Policy         *PolicyOverride    `json:"policy,omitempty"`
}

// Request is one evaluation.
type Request struct {
	CharacterID string
	Content     string
	Modality    string
	Territory   string
	UsageType   string
	Tier        string
	AgentID     string
	Source      string
	// Context is forwarded to critics verbatim (for example reference_output).
	Context   map[string]any
	Overrides *Overrides
	// Provenance carries caller-owned fields such as experiment or
	// certification ids; the engine fills in the rest.
	Provenance datastore.Provenance
}

// Options configures an Engine.
type Options struct {
	Policy            Policy
	CriticTimeout     time.Duration
	EvaluationTimeout time.Duration
	DegradedMode      bool
	Archive           objectstore.Archiver
	// Rand returns a uniform draw in [0,1) for audit sampling.
	Rand func() float64
	Now  func() time.Time
}

// Engine evaluates content. It is safe for concurrent use.
type Engine struct {
	store    Store
	consent  ConsentChecker
	registry *criticadapters.Registry
	opts     Options
	tracer   trace.Tracer
}

// New wires an engine. Zero timeouts fall back to 30s per critic and 120s
// per evaluation.
func New(store Store, consent ConsentChecker, registry *criticadapters.Registry, opts Options) *Engine {
	if opts.CriticTimeout <= 0 {
		opts.CriticTimeout = 30 * time.Second
	}
	if opts.EvaluationTimeout <= 0 {
		opts.EvaluationTimeout = 120 * time.Second
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:    store,
		consent:  consent,
		registry: registry,
		opts:     opts,
		tracer:   otel.Tracer("canonsafe/decisionengine"),
	}
}

// Policy returns the base policy.
func (e *Engine) Policy() Policy { return e.opts.Policy }

// Registry exposes the adapter registry for judge probes.
func (e *Engine) Registry() *criticadapters.Registry { return e.registry }

func (r *Request) validate() error {
	if strings.TrimSpace(r.CharacterID) == "" {
		return apperrors.Invalid("character_id", "character_id is required")
	}
	if r.Content == "" {
		return apperrors.Invalid("content", "content is required")
	}
	if strings.TrimSpace(r.Modality) == "" {
		return apperrors.Invalid("modality", "modality is required")
	}
	if r.Overrides != nil {
		// Policy changes are experiment variants only; every other run is
		// decided under the operator policy.
		if r.Source != datastore.SourceExperiment {
			if r.Overrides.Policy != nil {
				return apperrors.Invalid("overrides.policy", "policy overrides are only allowed for experiment runs")
			}
			if r.Overrides.PolicyProfile != "" {
				return apperrors.Invalid("overrides.policy_profile", "policy profiles are only allowed for experiment runs")
			}
		}
		for id, w := range r.Overrides.Weights {
			if w < 0 {
				return apperrors.Invalid("weights", "weight for %s must not be negative", id)
			}
		}
	}
	return nil
}

type criticOutcome struct {
	result  *datastore.CriticResult
	skipped bool
}

// Evaluate produces a complete EvalRun without persisting anything. Critic
// failures are recorded on the run; only invalid input, storage failures
// and an invalid effective policy are returned as errors.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*datastore.EvalRun, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	policy := e.opts.Policy
	if req.Overrides != nil {
		policy = policy.Apply(req.Overrides.Policy)
	}
	if err := policy.Validate(); err != nil {
		return nil, apperrors.Invalid("policy", "%v", err)
	}
	if req.Source == "" {
		req.Source = datastore.SourceEvaluation
	}

	ctx, span := e.tracer.Start(ctx, "decisionengine.Evaluate", trace.WithAttributes(
		attribute.String("character_id", req.CharacterID),
		attribute.String("modality", req.Modality),
		attribute.String("source", req.Source),
	))
	defer span.End()

	start := e.opts.Now()
	run := &datastore.EvalRun{
		ID:          "evr_" + uuid.NewString(),
		CharacterID: req.CharacterID,
		Modality:    req.Modality,
		Tier:        req.Tier,
		AgentID:     req.AgentID,
		Territory:   req.Territory,
		UsageType:   req.UsageType,
		Content:     req.Content,
		Source:      req.Source,
		Flags:       []string{},
		Provenance:  e.provenance(req, policy),
	}

	consent, err := e.consent.Check(ctx, consentgate.CheckRequest{
		CharacterID: req.CharacterID,
		Modality:    req.Modality,
		Territory:   req.Territory,
		UsageType:   req.UsageType,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "consent check failed")
		return nil, err
	}
	if !consent.Allowed {
		run.Decision = datastore.DecisionBlock
		run.Flags = []string{datastore.FlagConsentDenied, consent.Reason}
		run.CriticResults = []*datastore.CriticResult{}
		run.LatencyMs = e.opts.Now().Sub(start).Milliseconds()
		run.CreatedAt = e.opts.Now()
		span.SetAttributes(attribute.String("decision", string(run.Decision)))
		return run, nil
	}
	run.ConsentVerified = true

	judges, skippedFlags, err := e.selectJudges(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "judge lookup failed")
		return nil, err
	}
	run.Flags = append(run.Flags, skippedFlags...)

	results := e.invokeCritics(ctx, judges, req, run.Provenance.Weights)
	for _, cr := range results {
		cr.EvalRunID = run.ID
		run.TotalCost += cr.Cost
	}
	run.CriticResults = results

	run.OverallScore, run.Flags = aggregate(results, run.Flags)
	if len(results) == 0 {
		run.Flags = appendFlag(run.Flags, FlagNoApplicableCritics)
	} else if run.OverallScore == nil && allFailed(results) {
		run.Flags = appendFlag(run.Flags, datastore.FlagAllCriticsFailed)
	}

	verdict := policy.Decide(run.OverallScore, run.Flags, e.opts.Rand())
	run.Decision = verdict.Decision
	for _, f := range verdict.EngineFlags {
		run.Flags = appendFlag(run.Flags, f)
	}
	if run.Decision == datastore.DecisionSampledPass {
		run.Provenance.Sampled = true
	}
	if CriticSpread(results) > policy.DisagreementThreshold {
		run.Flags = appendFlag(run.Flags, datastore.FlagDisagreement)
	}

	run.CreatedAt = e.opts.Now()
	run.LatencyMs = run.CreatedAt.Sub(start).Milliseconds()
	span.SetAttributes(
		attribute.String("decision", string(run.Decision)),
		attribute.Int("critics", len(results)),
	)
	return run, nil
}

// provenance fills the engine-owned provenance fields.
func (e *Engine) provenance(req Request, policy Policy) datastore.Provenance {
	p := req.Provenance
	sum := sha256.Sum256([]byte(req.Content))
	p.ContentSHA256 = hex.EncodeToString(sum[:])
	p.EngineVersion = EngineVersion
	p.Policy = policy.Snapshot()
	p.Weights = map[string]float64{}
	if o := req.Overrides; o != nil {
		if o.PolicyProfile != "" {
			p.PolicyProfile = o.PolicyProfile
		}
		p.PromptTemplate = o.PromptTemplate
		p.ModelID = o.ModelID
	}
	if p.PolicyProfile == "" {
		p.PolicyProfile = "default"
	}
	return p
}

// selectJudges returns the active judges that should score req, plus flags
// for judges skipped because they are down.
func (e *Engine) selectJudges(ctx context.Context, req Request) ([]*datastore.Judge, []string, error) {
	all, err := e.store.ListJudges(ctx, true)
	if err != nil {
		return nil, nil, fmt.Errorf("list judges: %w", err)
	}
	var only map[string]bool
	if req.Overrides != nil && len(req.Overrides.JudgeIDs) > 0 {
		only = map[string]bool{}
		for _, id := range req.Overrides.JudgeIDs {
			only[id] = true
		}
	}
	var (
		selected []*datastore.Judge
		flags    []string
	)
	for _, j := range all {
		if only != nil && !only[j.ID] {
			continue
		}
		if !j.Supports(req.Modality) {
			continue
		}
		if e.opts.DegradedMode && j.HealthStatus == datastore.HealthDown {
			log.Printf("Skipping judge %s (%s): marked down", j.ID, j.Name)
			flags = append(flags, "critic_"+j.ID+"_unavailable")
			continue
		}
		selected = append(selected, j)
	}
	return selected, flags, nil
}

// invokeCritics fans out to every judge. A failing critic never cancels its
// siblings, so the group's error is always nil. weights is filled with the
// effective weight per judge.
func (e *Engine) invokeCritics(ctx context.Context, judges []*datastore.Judge, req Request, weights map[string]float64) []*datastore.CriticResult {
	ctx, cancel := context.WithTimeout(ctx, e.opts.EvaluationTimeout)
	defer cancel()

	sreq := criticadapters.ScoreRequest{
		Content:     req.Content,
		Modality:    req.Modality,
		CharacterID: req.CharacterID,
		Territory:   req.Territory,
		UsageType:   req.UsageType,
		Context:     req.Context,
	}
	if o := req.Overrides; o != nil {
		sreq.PromptTemplate = o.PromptTemplate
		sreq.ModelID = o.ModelID
	}

	outcomes := make([]criticOutcome, len(judges))
	var g errgroup.Group
	for i, judge := range judges {
		i, judge := i, judge
		w := effectiveWeight(judge, req.Overrides)
		weights[judge.ID] = w
		g.Go(func() error {
			outcomes[i] = e.scoreOne(ctx, judge, sreq, w)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]*datastore.CriticResult, 0, len(judges))
	for i, o := range outcomes {
		if o.skipped {
			delete(weights, judges[i].ID)
			continue
		}
		results = append(results, o.result)
	}
	return results
}

func (e *Engine) scoreOne(ctx context.Context, judge *datastore.Judge, req criticadapters.ScoreRequest, weight float64) criticOutcome {
	adapter, err := e.registry.AdapterFor(judge)
	if err != nil {
		return criticOutcome{result: failedResult(judge, weight, criticadapters.AsFailure(judge.ID, err), 0)}
	}
	if a, ok := adapter.(criticadapters.Applicability); ok && !a.Applicable(judge, req) {
		return criticOutcome{skipped: true}
	}

	timeout := e.opts.CriticTimeout
	if judge.TimeoutMs > 0 {
		timeout = time.Duration(judge.TimeoutMs) * time.Millisecond
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cctx, span := e.tracer.Start(cctx, "decisionengine.critic", trace.WithAttributes(
		attribute.String("judge_id", judge.ID),
		attribute.String("model_type", judge.ModelType),
	))
	defer span.End()

	started := time.Now()
	res, err := adapter.Score(cctx, judge, req)
	latency := time.Since(started).Milliseconds()
	if err != nil {
		f := criticadapters.AsFailure(judge.ID, err)
		span.RecordError(f)
		span.SetStatus(codes.Error, f.Kind)
		log.Printf("Critic %s (%s) failed: %v", judge.ID, judge.Name, f)
		return criticOutcome{result: failedResult(judge, weight, f, latency)}
	}
	score := res.Score
	return criticOutcome{result: &datastore.CriticResult{
		ID:           "crr_" + uuid.NewString(),
		JudgeID:      judge.ID,
		JudgeName:    judge.Name,
		Score:        &score,
		Weight:       weight,
		Reasoning:    res.Reasoning,
		Flags:        res.Flags,
		LatencyMs:    latency,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		Cost:         res.Cost,
	}}
}

// ScoreWithJudge runs a single judge outside any evaluation. It backs the
// judge test endpoint and never persists anything.
func (e *Engine) ScoreWithJudge(ctx context.Context, judge *datastore.Judge, req criticadapters.ScoreRequest) *datastore.CriticResult {
	out := e.scoreOne(ctx, judge, req, judge.Weight)
	if out.skipped {
		return failedResult(judge, judge.Weight, &criticadapters.CriticFailure{
			Kind:    criticadapters.FailureInvalidResponse,
			JudgeID: judge.ID,
			Err:     fmt.Errorf("judge is not applicable to this request"),
		}, 0)
	}
	return out.result
}

func failedResult(judge *datastore.Judge, weight float64, f *criticadapters.CriticFailure, latency int64) *datastore.CriticResult {
	return &datastore.CriticResult{
		ID:          "crr_" + uuid.NewString(),
		JudgeID:     judge.ID,
		JudgeName:   judge.Name,
		Weight:      weight,
		Flags:       []string{},
		LatencyMs:   latency,
		FailureKind: f.Kind,
		Failure:     f.Err.Error(),
	}
}

func effectiveWeight(judge *datastore.Judge, o *Overrides) float64 {
	if o != nil {
		if w, ok := o.Weights[judge.ID]; ok {
			return w
		}
	}
	if judge.Weight <= 0 {
		return 1
	}
	return judge.Weight
}

// aggregate computes the weighted mean over surviving critics and the flag
// union. Weights are renormalized over survivors; if every survivor has
// weight zero the plain mean is used and FlagZeroTotalWeight recorded.
func aggregate(results []*datastore.CriticResult, flags []string) (*float64, []string) {
	var sum, total float64
	var plain []float64
	for _, cr := range results {
		if cr.Failed() {
			for _, f := range failureFlags(cr.JudgeID, cr.FailureKind) {
				flags = appendFlag(flags, f)
			}
			continue
		}
		for _, f := range cr.Flags {
			flags = appendFlag(flags, f)
		}
		sum += *cr.Score * cr.Weight
		total += cr.Weight
		plain = append(plain, *cr.Score)
	}
	if len(plain) == 0 {
		return nil, flags
	}
	var score float64
	if total > 0 {
		score = sum / total
	} else {
		flags = appendFlag(flags, FlagZeroTotalWeight)
		for _, s := range plain {
			score += s
		}
		score /= float64(len(plain))
	}
	return &score, flags
}

func allFailed(results []*datastore.CriticResult) bool {
	for _, cr := range results {
		if !cr.Failed() {
			return false
		}
	}
	return len(results) > 0
}

func appendFlag(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}

// Commit persists a run produced by Evaluate. Evaluation-sourced runs get
// their review item in the same transaction; the evidence bundle goes to
// the archive afterwards and a failed upload is logged, not returned.
func (e *Engine) Commit(ctx context.Context, run *datastore.EvalRun) (*datastore.ReviewItem, error) {
	ctx, span := e.tracer.Start(ctx, "decisionengine.Commit", trace.WithAttributes(attribute.String("eval_run_id", run.ID)))
	defer span.End()

	var review *datastore.ReviewItem
	if run.Source == datastore.SourceEvaluation {
		review = ReviewFor(run, PolicyForRun(run, e.opts.Policy))
		if review != nil {
			review.CreatedAt = run.CreatedAt
		}
	}
	if e.opts.Archive != nil {
		run.Provenance.ArchiveKey = objectstore.EvalRunKey(run.ID)
	}
	if err := e.store.CreateEvalRun(ctx, run, review); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist eval run")
		return nil, fmt.Errorf("persist eval run: %w", err)
	}
	if e.opts.Archive != nil {
		bundle := map[string]any{"eval_run": run, "review_item": review}
		if err := e.opts.Archive.PutJSON(ctx, run.Provenance.ArchiveKey, bundle); err != nil {
			log.Printf("Failed to archive evidence for eval run %s: %v", run.ID, err)
		}
	}
	return review, nil
}

// Run evaluates and commits.
func (e *Engine) Run(ctx context.Context, req Request) (*datastore.EvalRun, *datastore.ReviewItem, error) {
	run, err := e.Evaluate(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	review, err := e.Commit(ctx, run)
	if err != nil {
		return nil, nil, err
	}
	return run, review, nil
}

// PolicyForRun recovers the thresholds a run was decided under from its
// provenance snapshot, falling back to base for anything missing.
func PolicyForRun(run *datastore.EvalRun, base Policy) Policy {
	num := func(key string, into *float64) {
		if v, ok := run.Provenance.Policy[key].(float64); ok {
			*into = v
		}
	}
	num("pass_threshold", &base.PassThreshold)
	num("regenerate_threshold", &base.RegenerateThreshold)
	num("quarantine_threshold", &base.QuarantineThreshold)
	num("sample_rate", &base.SampleRate)
	num("disagreement_threshold", &base.DisagreementThreshold)
	return base
}

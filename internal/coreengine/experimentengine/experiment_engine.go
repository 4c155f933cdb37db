// Package experimentengine runs paired A/B comparisons of decision-engine
// configurations and decides a winner with Welch's t-test.
package experimentengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/coreengine/decisionengine"
	"canonsafe-governance/backend/internal/datastore"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the engine needs.
type Store interface {
	CreateExperiment(ctx context.Context, e *datastore.Experiment) error
	GetExperiment(ctx context.Context, id string) (*datastore.Experiment, error)
	ListExperiments(ctx context.Context, status string) ([]*datastore.Experiment, error)
	TransitionExperiment(ctx context.Context, id string, from []string, to string, at time.Time) (*datastore.Experiment, error)
	CreateTrialPair(ctx context.Context, experimentID string, pair datastore.TrialPairRecord, at time.Time) error
	ListTrials(ctx context.Context, experimentID string) ([]*datastore.Trial, error)
	CompleteExperiment(ctx context.Context, id string, at time.Time, compute func([]*datastore.Trial) (datastore.ExperimentOutcome, error)) (*datastore.Experiment, error)
}

// Evaluator is satisfied by *decisionengine.Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, req decisionengine.Request) (*datastore.EvalRun, error)
	Policy() decisionengine.Policy
}

// Engine drives experiments through draft, running, completed or cancelled.
type Engine struct {
	store     Store
	evaluator Evaluator
	schemas   compiledSchemas
	Now       func() time.Time
}

// New compiles the variant schemas and returns an engine.
func New(store Store, evaluator Evaluator) (*Engine, error) {
	schemas, err := compileVariantSchemas()
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:     store,
		evaluator: evaluator,
		schemas:   schemas,
		Now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateRequest is the body of POST /ab-testing.
type CreateRequest struct {
	Name           string          `json:"name" binding:"required"`
	Description    string          `json:"description"`
	ExperimentType string          `json:"experiment_type" binding:"required"`
	VariantA       json.RawMessage `json:"variant_a" binding:"required"`
	VariantB       json.RawMessage `json:"variant_b" binding:"required"`
	SampleSize     int             `json:"sample_size"`
}

// Create validates both variants for the declared type and stores a draft.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*datastore.Experiment, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.Invalid("name", "name is required")
	}
	if req.SampleSize < 0 {
		return nil, apperrors.Invalid("sample_size", "sample_size must not be negative")
	}
	for field, raw := range map[string]json.RawMessage{"variant_a": req.VariantA, "variant_b": req.VariantB} {
		cfg, err := e.schemas.ParseVariant(req.ExperimentType, field, raw)
		if err != nil {
			return nil, err
		}
		if cfg.Profile != nil {
			if err := e.evaluator.Policy().Apply(cfg.Profile.Policy).Validate(); err != nil {
				return nil, apperrors.Invalid(field, "policy override: %v", err)
			}
		}
	}

	exp := &datastore.Experiment{
		ID:             "exp_" + uuid.NewString(),
		Name:           req.Name,
		Description:    req.Description,
		ExperimentType: req.ExperimentType,
		VariantA:       req.VariantA,
		VariantB:       req.VariantB,
		SampleSize:     req.SampleSize,
		Status:         datastore.ExperimentDraft,
	}
	if err := e.store.CreateExperiment(ctx, exp); err != nil {
		return nil, err
	}
	log.Printf("Created %s experiment %s (%s)", exp.ExperimentType, exp.ID, exp.Name)
	return exp, nil
}

// Start moves a draft to running.
func (e *Engine) Start(ctx context.Context, id string) (*datastore.Experiment, error) {
	return e.store.TransitionExperiment(ctx, id, []string{datastore.ExperimentDraft}, datastore.ExperimentRunning, e.Now())
}

// Cancel ends a draft or running experiment without a summary.
func (e *Engine) Cancel(ctx context.Context, id string) (*datastore.Experiment, error) {
	exp, err := e.store.TransitionExperiment(ctx, id,
		[]string{datastore.ExperimentDraft, datastore.ExperimentRunning}, datastore.ExperimentCancelled, e.Now())
	if err != nil {
		return nil, err
	}
	log.Printf("Cancelled experiment %s", id)
	return exp, nil
}

// TrialRequest is the body of POST /ab-testing/{id}/run-trial.
type TrialRequest struct {
	CharacterID string `json:"character_id" binding:"required"`
	Content     string `json:"content" binding:"required"`
	Modality    string `json:"modality" binding:"required"`
	Territory   string `json:"territory"`
	UsageType   string `json:"usage_type"`
}

// TrialPair is what one run_trial call produced.
type TrialPair struct {
	PairID string           `json:"pair_id"`
	A      *datastore.Trial `json:"variant_a"`
	B      *datastore.Trial `json:"variant_b"`
}

// RunTrial evaluates the same content under both variants and stores both
// trials together. If either evaluation fails nothing is stored.
func (e *Engine) RunTrial(ctx context.Context, id string, req TrialRequest) (*TrialPair, error) {
	exp, err := e.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Terminal() {
		return nil, fmt.Errorf("experiment %s is %s: %w", id, exp.Status, apperrors.ErrInvalidTransition)
	}
	variants := map[string]json.RawMessage{datastore.VariantA: exp.VariantA, datastore.VariantB: exp.VariantB}
	configs := map[string]*VariantConfig{}
	for label, raw := range variants {
		cfg, err := e.schemas.ParseVariant(exp.ExperimentType, "variant_"+label, raw)
		if err != nil {
			return nil, fmt.Errorf("stored variant %s of experiment %s: %w", label, id, err)
		}
		configs[label] = cfg
	}

	var runA, runB *datastore.EvalRun
	g, gctx := errgroup.WithContext(ctx)
	for _, label := range []string{datastore.VariantA, datastore.VariantB} {
		label := label
		g.Go(func() error {
			run, err := e.evaluator.Evaluate(gctx, decisionengine.Request{
				CharacterID: req.CharacterID,
				Content:     req.Content,
				Modality:    req.Modality,
				Territory:   req.Territory,
				UsageType:   req.UsageType,
				Source:      datastore.SourceExperiment,
				Overrides:   configs[label].Overrides(),
				Provenance:  datastore.Provenance{ExperimentID: exp.ID, Variant: label},
			})
			if err != nil {
				return fmt.Errorf("variant %s: %w", label, err)
			}
			if label == datastore.VariantA {
				runA = run
			} else {
				runB = run
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pair := &TrialPair{PairID: "pair_" + uuid.NewString()}
	pair.A = trialFor(exp.ID, pair.PairID, datastore.VariantA, runA)
	pair.B = trialFor(exp.ID, pair.PairID, datastore.VariantB, runB)
	if err := e.store.CreateTrialPair(ctx, exp.ID, datastore.TrialPairRecord{
		RunA: runA, RunB: runB, TrialA: pair.A, TrialB: pair.B,
	}, e.Now()); err != nil {
		return nil, err
	}
	return pair, nil
}

func trialFor(experimentID, pairID, variant string, run *datastore.EvalRun) *datastore.Trial {
	return &datastore.Trial{
		ID:           "trl_" + uuid.NewString(),
		ExperimentID: experimentID,
		PairID:       pairID,
		Variant:      variant,
		EvalRunID:    run.ID,
		CharacterID:  run.CharacterID,
		Modality:     run.Modality,
		Content:      run.Content,
		Score:        run.OverallScore,
		Decision:     run.Decision,
		LatencyMs:    run.LatencyMs,
		Cost:         run.TotalCost,
	}
}

// Complete locks the experiment and stores its summary and winner.
func (e *Engine) Complete(ctx context.Context, id string) (*datastore.Experiment, error) {
	var summary Summary
	exp, err := e.store.CompleteExperiment(ctx, id, e.Now(), func(trials []*datastore.Trial) (datastore.ExperimentOutcome, error) {
		summary = Summarize(trials)
		raw, err := json.Marshal(summary)
		if err != nil {
			return datastore.ExperimentOutcome{}, fmt.Errorf("marshal summary: %w", err)
		}
		winner := summary.Winner
		return datastore.ExperimentOutcome{Winner: &winner, Summary: raw}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Completed experiment %s: winner=%s significant=%v (a=%d, b=%d trials)",
		id, summary.Winner, summary.Significant, summary.VariantA.Trials, summary.VariantB.Trials)
	return exp, nil
}

// Detail is the GET /ab-testing/{id} view.
type Detail struct {
	*datastore.Experiment
	Summary Summary            `json:"summary"`
	Trials  []*datastore.Trial `json:"trials"`
}

// Get returns an experiment with its trials. The summary is the stored one
// once completed and computed live otherwise.
func (e *Engine) Get(ctx context.Context, id string) (*Detail, error) {
	exp, err := e.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	trials, err := e.store.ListTrials(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Experiment: exp, Trials: trials}
	if exp.Status == datastore.ExperimentCompleted && len(exp.Summary) > 0 {
		if err := json.Unmarshal(exp.Summary, &d.Summary); err != nil {
			return nil, fmt.Errorf("decode summary of experiment %s: %w", id, err)
		}
	} else {
		d.Summary = Summarize(trials)
	}
	return d, nil
}

// List returns experiments, optionally filtered by status.
func (e *Engine) List(ctx context.Context, status string) ([]*datastore.Experiment, error) {
	return e.store.ListExperiments(ctx, status)
}

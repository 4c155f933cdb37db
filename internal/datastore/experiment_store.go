package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const experimentColumns = `id, name, description, experiment_type, variant_a, variant_b, sample_size, status,
	winner, summary, created_at, started_at, completed_at`

const trialColumns = `id, experiment_id, pair_id, variant, eval_run_id, character_id, modality, content, score,
	decision, latency_ms, cost, created_at`

// CreateExperiment inserts a new experiment.
func (s *Store) CreateExperiment(ctx context.Context, e *Experiment) error {
	e.CreatedAt = Now()
	if e.Status == "" {
		e.Status = ExperimentDraft
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO experiments (`+experimentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.Name, e.Description, e.ExperimentType, string(e.VariantA), string(e.VariantB), e.SampleSize,
		e.Status, nullStringPtr(e.Winner), nullRaw(e.Summary), toMillis(e.CreatedAt), nullMillis(e.StartedAt),
		nullMillis(e.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}
	return nil
}

// GetExperiment retrieves an experiment by ID.
func (s *Store) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	return s.getExperiment(ctx, s.db, id)
}

func (s *Store) getExperiment(ctx context.Context, ex execer, id string) (*Experiment, error) {
	row := ex.QueryRowContext(ctx, s.rebind(`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`), id)
	e, err := scanExperiment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("experiment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return e, nil
}

// ListExperiments lists experiments newest first, optionally by status.
func (s *Store) ListExperiments(ctx context.Context, status string) ([]*Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	out := []*Experiment{}
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for experiments: %w", err)
	}
	return out, nil
}

// TransitionExperiment moves an experiment from one of the from statuses to
// to. ErrStateConflict is returned if the stored status is not in from.
func (s *Store) TransitionExperiment(ctx context.Context, id string, from []string, to string, at time.Time) (*Experiment, error) {
	var out *Experiment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getExperiment(ctx, tx, id)
		if err != nil {
			return err
		}
		if !contains(from, current.Status) {
			return fmt.Errorf("experiment %s is %s: %w", id, current.Status, ErrStateConflict)
		}
		query := `UPDATE experiments SET status = ? WHERE id = ? AND status = ?`
		args := []any{to, id, current.Status}
		if to == ExperimentRunning {
			query = `UPDATE experiments SET status = ?, started_at = ? WHERE id = ? AND status = ?`
			args = []any{to, toMillis(at), id, current.Status}
		} else if to == ExperimentCancelled || to == ExperimentCompleted {
			query = `UPDATE experiments SET status = ?, completed_at = ? WHERE id = ? AND status = ?`
			args = []any{to, toMillis(at), id, current.Status}
		}
		res, err := tx.ExecContext(ctx, s.rebind(query), args...)
		if err != nil {
			return fmt.Errorf("failed to update experiment %s status: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("experiment %s changed concurrently: %w", id, ErrStateConflict)
		}
		out, err = s.getExperiment(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TrialPairRecord bundles what one run_trial call persists.
type TrialPairRecord struct {
	RunA   *EvalRun
	RunB   *EvalRun
	TrialA *Trial
	TrialB *Trial
}

// CreateTrialPair persists both eval runs and both trials in one transaction.
// A draft experiment is started by its first pair; any status other than
// draft or running fails with ErrStateConflict and nothing is written.
func (s *Store) CreateTrialPair(ctx context.Context, experimentID string, pair TrialPairRecord, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE experiments SET status = ?, started_at = ? WHERE id = ? AND status = ?`),
			ExperimentRunning, toMillis(at), experimentID, ExperimentDraft); err != nil {
			return fmt.Errorf("failed to start experiment %s: %w", experimentID, err)
		}
		// Touching the row takes its lock so a concurrent completion either
		// sees this pair or rejects it.
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE experiments SET status = status WHERE id = ? AND status = ?`),
			experimentID, ExperimentRunning)
		if err != nil {
			return fmt.Errorf("failed to lock experiment %s: %w", experimentID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := s.getExperiment(ctx, tx, experimentID); err != nil {
				return err
			}
			return fmt.Errorf("experiment %s is not running: %w", experimentID, ErrStateConflict)
		}

		for _, run := range []*EvalRun{pair.RunA, pair.RunB} {
			if err := s.insertEvalRun(ctx, tx, run); err != nil {
				return err
			}
		}
		for _, t := range []*Trial{pair.TrialA, pair.TrialB} {
			if t.CreatedAt.IsZero() {
				t.CreatedAt = at
			}
			_, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO trials (`+trialColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				t.ID, experimentID, t.PairID, t.Variant, t.EvalRunID, t.CharacterID, t.Modality, t.Content,
				nullFloat(t.Score), string(t.Decision), t.LatencyMs, t.Cost, toMillis(t.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to create trial: %w", err)
			}
		}
		return nil
	})
}

// ListTrials returns an experiment's trials ordered by variant, then creation time.
func (s *Store) ListTrials(ctx context.Context, experimentID string) ([]*Trial, error) {
	return s.listTrials(ctx, s.db, experimentID)
}

func (s *Store) listTrials(ctx context.Context, ex execer, experimentID string) ([]*Trial, error) {
	rows, err := ex.QueryContext(ctx, s.rebind(`
		SELECT `+trialColumns+` FROM trials WHERE experiment_id = ?
		ORDER BY variant, created_at, id`), experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trials: %w", err)
	}
	defer rows.Close()

	trials := []*Trial{}
	for rows.Next() {
		t := &Trial{}
		var score sql.NullFloat64
		var decision string
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.ExperimentID, &t.PairID, &t.Variant, &t.EvalRunID, &t.CharacterID,
			&t.Modality, &t.Content, &score, &decision, &t.LatencyMs, &t.Cost, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan trial row: %w", err)
		}
		t.Score = floatPtr(score)
		t.Decision = Decision(decision)
		t.CreatedAt = fromMillis(createdAt)
		trials = append(trials, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for trials: %w", err)
	}
	return trials, nil
}

// ExperimentOutcome is what a completion computes from the locked trial set.
type ExperimentOutcome struct {
	Winner  *string
	Summary json.RawMessage
}

// CompleteExperiment locks the experiment against further trials, then hands
// the final trial set to compute and stores its outcome, all in one
// transaction.
func (s *Store) CompleteExperiment(ctx context.Context, id string, at time.Time, compute func([]*Trial) (ExperimentOutcome, error)) (*Experiment, error) {
	var out *Experiment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE experiments SET status = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)`),
			ExperimentCompleted, toMillis(at), id, ExperimentDraft, ExperimentRunning)
		if err != nil {
			return fmt.Errorf("failed to lock experiment %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			current, err := s.getExperiment(ctx, tx, id)
			if err != nil {
				return err
			}
			return fmt.Errorf("experiment %s is %s: %w", id, current.Status, ErrStateConflict)
		}

		trials, err := s.listTrials(ctx, tx, id)
		if err != nil {
			return err
		}
		outcome, err := compute(trials)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE experiments SET winner = ?, summary = ? WHERE id = ?`),
			nullStringPtr(outcome.Winner), nullRaw(outcome.Summary), id); err != nil {
			return fmt.Errorf("failed to store experiment %s outcome: %w", id, err)
		}
		out, err = s.getExperiment(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	e := &Experiment{}
	var variantA, variantB string
	var winner, summary sql.NullString
	var createdAt int64
	var startedAt, completedAt sql.NullInt64
	if err := row.Scan(&e.ID, &e.Name, &e.Description, &e.ExperimentType, &variantA, &variantB, &e.SampleSize,
		&e.Status, &winner, &summary, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	e.VariantA = json.RawMessage(variantA)
	e.VariantB = json.RawMessage(variantB)
	if winner.Valid {
		w := winner.String
		e.Winner = &w
	}
	if summary.Valid && summary.String != "" {
		e.Summary = json.RawMessage(summary.String)
	}
	e.CreatedAt = fromMillis(createdAt)
	e.StartedAt = timePtr(startedAt)
	e.CompletedAt = timePtr(completedAt)
	return e, nil
}

func nullStringPtr(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullRaw(value json.RawMessage) sql.NullString {
	if len(value) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(value), Valid: true}
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

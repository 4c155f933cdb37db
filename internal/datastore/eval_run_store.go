package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const evalRunColumns = `id, character_id, modality, tier, agent_id, territory, usage_type, content,
	consent_verified, overall_score, decision, flags, provenance, source, latency_ms, total_cost, created_at`

// CreateEvalRun persists one EvalRun together with its critic results and,
// when review is non-nil, the review item it triggered. Everything commits
// together or not at all.
func (s *Store) CreateEvalRun(ctx context.Context, run *EvalRun, review *ReviewItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertEvalRun(ctx, tx, run); err != nil {
			return err
		}
		if review != nil {
			if _, err := s.insertReviewItem(ctx, tx, review); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertEvalRun(ctx context.Context, ex execer, run *EvalRun) error {
	if run.ID == "" {
		return errors.New("eval run id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = Now()
	}
	flags, err := marshalText(nonNilStrings(run.Flags))
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	provenance, err := marshalText(run.Provenance)
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}

	_, err = ex.ExecContext(ctx, s.rebind(`
		INSERT INTO eval_runs (`+evalRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.CharacterID, run.Modality, run.Tier, run.AgentID, run.Territory, run.UsageType, run.Content,
		run.ConsentVerified, nullFloat(run.OverallScore), string(run.Decision), flags, provenance, run.Source,
		run.LatencyMs, run.TotalCost, toMillis(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create eval run: %w", err)
	}

	for i, cr := range run.CriticResults {
		cr.EvalRunID = run.ID
		crFlags, err := marshalText(nonNilStrings(cr.Flags))
		if err != nil {
			return fmt.Errorf("marshal critic flags: %w", err)
		}
		_, err = ex.ExecContext(ctx, s.rebind(`
			INSERT INTO critic_results (id, eval_run_id, position, judge_id, judge_name, score, weight, reasoning, flags,
				latency_ms, input_tokens, output_tokens, cost, failure_kind, failure)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			cr.ID, run.ID, i, cr.JudgeID, cr.JudgeName, nullFloat(cr.Score), cr.Weight, cr.Reasoning, crFlags,
			cr.LatencyMs, cr.InputTokens, cr.OutputTokens, cr.Cost, cr.FailureKind, cr.Failure,
		)
		if err != nil {
			return fmt.Errorf("failed to create critic result for judge %s: %w", cr.JudgeID, err)
		}
	}
	return nil
}

// GetEvalRun retrieves an eval run and its critic results.
func (s *Store) GetEvalRun(ctx context.Context, id string) (*EvalRun, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+evalRunColumns+` FROM eval_runs WHERE id = ?`), id)
	run, err := scanEvalRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("eval run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get eval run: %w", err)
	}
	if err := s.loadCriticResults(ctx, []*EvalRun{run}); err != nil {
		return nil, err
	}
	return run, nil
}

// ListEvalRuns lists eval runs newest first.
func (s *Store) ListEvalRuns(ctx context.Context, filter EvalRunFilter) ([]*EvalRun, error) {
	var where []string
	var args []any
	if filter.CharacterID != "" {
		where = append(where, "character_id = ?")
		args = append(args, filter.CharacterID)
	}
	if filter.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, string(filter.Decision))
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, filter.Source)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(filter.Since))
	}
	query := `SELECT ` + evalRunColumns + ` FROM eval_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	runs, err := s.queryEvalRuns(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	if err := s.loadCriticResults(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// EvalRunCursor marks the last run of a page in (created_at, id) order.
type EvalRunCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter returns the cursor that continues a scan after run.
func CursorAfter(run *EvalRun) *EvalRunCursor {
	return &EvalRunCursor{CreatedAt: run.CreatedAt, ID: run.ID}
}

// ListUnreviewedEvalRuns returns evaluation-sourced runs created at or after
// since that have no review item yet, oldest first. A non-nil after resumes
// the scan past that run.
func (s *Store) ListUnreviewedEvalRuns(ctx context.Context, since time.Time, after *EvalRunCursor, limit int) ([]*EvalRun, error) {
	query := `SELECT ` + prefixColumns("e", evalRunColumns) + `
		FROM eval_runs e
		LEFT JOIN review_items r ON r.eval_run_id = e.id
		WHERE r.id IS NULL AND e.source = ? AND e.created_at >= ?`
	args := []any{SourceEvaluation, toMillis(since)}
	if after != nil {
		query += ` AND (e.created_at > ? OR (e.created_at = ? AND e.id > ?))`
		at := toMillis(after.CreatedAt)
		args = append(args, at, at, after.ID)
	}
	query += ` ORDER BY e.created_at ASC, e.id LIMIT ?`
	args = append(args, limitOrDefault(limit))

	runs, err := s.queryEvalRuns(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	if err := s.loadCriticResults(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *Store) queryEvalRuns(ctx context.Context, ex execer, query string, args ...any) ([]*EvalRun, error) {
	rows, err := ex.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list eval runs: %w", err)
	}
	defer rows.Close()

	runs := []*EvalRun{}
	for rows.Next() {
		run, err := scanEvalRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan eval run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for eval runs: %w", err)
	}
	return runs, nil
}

func (s *Store) loadCriticResults(ctx context.Context, runs []*EvalRun) error {
	for _, run := range runs {
		rows, err := s.db.QueryContext(ctx, s.rebind(`
			SELECT id, eval_run_id, judge_id, judge_name, score, weight, reasoning, flags, latency_ms,
				input_tokens, output_tokens, cost, failure_kind, failure
			FROM critic_results WHERE eval_run_id = ? ORDER BY position`), run.ID)
		if err != nil {
			return fmt.Errorf("failed to load critic results: %w", err)
		}
		run.CriticResults = []*CriticResult{}
		for rows.Next() {
			cr := &CriticResult{}
			var score sql.NullFloat64
			var flags string
			if err := rows.Scan(&cr.ID, &cr.EvalRunID, &cr.JudgeID, &cr.JudgeName, &score, &cr.Weight, &cr.Reasoning,
				&flags, &cr.LatencyMs, &cr.InputTokens, &cr.OutputTokens, &cr.Cost, &cr.FailureKind, &cr.Failure); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan critic result: %w", err)
			}
			cr.Score = floatPtr(score)
			if err := unmarshalText(flags, &cr.Flags); err != nil {
				rows.Close()
				return fmt.Errorf("decode critic flags: %w", err)
			}
			run.CriticResults = append(run.CriticResults, cr)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("error during rows iteration for critic results: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvalRun(row rowScanner) (*EvalRun, error) {
	run := &EvalRun{}
	var score sql.NullFloat64
	var decision, flags, provenance string
	var createdAt int64
	if err := row.Scan(&run.ID, &run.CharacterID, &run.Modality, &run.Tier, &run.AgentID, &run.Territory,
		&run.UsageType, &run.Content, &run.ConsentVerified, &score, &decision, &flags, &provenance, &run.Source,
		&run.LatencyMs, &run.TotalCost, &createdAt); err != nil {
		return nil, err
	}
	run.OverallScore = floatPtr(score)
	run.Decision = Decision(decision)
	run.CreatedAt = fromMillis(createdAt)
	if err := unmarshalText(flags, &run.Flags); err != nil {
		return nil, fmt.Errorf("decode flags: %w", err)
	}
	if err := unmarshalText(provenance, &run.Provenance); err != nil {
		return nil, fmt.Errorf("decode provenance: %w", err)
	}
	return run, nil
}

func marshalText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalText(text string, dst any) error {
	if text == "" || text == "null" {
		return nil
	}
	return json.Unmarshal([]byte(text), dst)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

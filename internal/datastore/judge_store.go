package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const judgeColumns = `id, name, model_type, endpoint, api_key, model_id, modalities, weight, prompt_template,
	score_scale, timeout_ms, cost_per_1k_input, cost_per_1k_output, other_configs, is_active, health_status,
	consecutive_failures, last_latency_ms, last_checked_at, created_at, updated_at`

// CreateJudge inserts a new judge.
func (s *Store) CreateJudge(ctx context.Context, j *Judge) error {
	now := Now()
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.HealthStatus == "" {
		j.HealthStatus = HealthUnknown
	}
	if j.ScoreScale == "" {
		j.ScoreScale = ScoreScalePercent
	}
	modalities, err := marshalText(nonNilStrings(j.Modalities))
	if err != nil {
		return fmt.Errorf("marshal modalities: %w", err)
	}
	otherConfigs := "{}"
	if len(j.OtherConfigs) > 0 {
		otherConfigs = string(j.OtherConfigs)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO judges (`+judgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		j.ID, j.Name, j.ModelType, j.Endpoint, j.APIKey, j.ModelID, modalities, j.Weight, j.PromptTemplate,
		j.ScoreScale, j.TimeoutMs, j.CostPer1KInput, j.CostPer1KOutput, otherConfigs, j.IsActive, j.HealthStatus,
		j.ConsecutiveFailures, j.LastLatencyMs, nullMillis(j.LastCheckedAt), toMillis(j.CreatedAt), toMillis(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create judge: %w", err)
	}
	return nil
}

// GetJudge retrieves a judge by ID.
func (s *Store) GetJudge(ctx context.Context, id string) (*Judge, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+judgeColumns+` FROM judges WHERE id = ?`), id)
	j, err := scanJudge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("judge %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get judge: %w", err)
	}
	return j, nil
}

// ListJudges lists judges ordered by name. When activeOnly is set,
// deactivated judges are skipped.
func (s *Store) ListJudges(ctx context.Context, activeOnly bool) ([]*Judge, error) {
	query := `SELECT ` + judgeColumns + ` FROM judges`
	var args []any
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list judges: %w", err)
	}
	defer rows.Close()

	judges := []*Judge{}
	for rows.Next() {
		j, err := scanJudge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan judge row: %w", err)
		}
		judges = append(judges, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for judges: %w", err)
	}
	return judges, nil
}

// DeactivateJudge soft-deletes a judge. Deactivating twice is not an error.
func (s *Store) DeactivateJudge(ctx context.Context, id string, audit *AuditEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE judges SET is_active = ?, updated_at = ? WHERE id = ?`),
			false, toMillis(Now()), id)
		if err != nil {
			return fmt.Errorf("failed to deactivate judge %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected when deactivating judge %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("judge %s: %w", id, ErrNotFound)
		}
		return s.insertAudit(ctx, tx, audit)
	})
}

// UpdateJudgeHealth stores the latest health probe outcome.
func (s *Store) UpdateJudgeHealth(ctx context.Context, id string, h JudgeHealth) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE judges SET health_status = ?, consecutive_failures = ?, last_latency_ms = ?, last_checked_at = ?, updated_at = ?
		WHERE id = ?`),
		h.Status, h.ConsecutiveFailures, h.LatencyMs, toMillis(h.CheckedAt), toMillis(Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update health for judge %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for judge %s health: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("judge %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanJudge(row rowScanner) (*Judge, error) {
	j := &Judge{}
	var modalities, otherConfigs string
	var lastChecked sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&j.ID, &j.Name, &j.ModelType, &j.Endpoint, &j.APIKey, &j.ModelID, &modalities, &j.Weight,
		&j.PromptTemplate, &j.ScoreScale, &j.TimeoutMs, &j.CostPer1KInput, &j.CostPer1KOutput, &otherConfigs,
		&j.IsActive, &j.HealthStatus, &j.ConsecutiveFailures, &j.LastLatencyMs, &lastChecked,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalText(modalities, &j.Modalities); err != nil {
		return nil, fmt.Errorf("decode modalities: %w", err)
	}
	if otherConfigs != "" && otherConfigs != "null" {
		j.OtherConfigs = json.RawMessage(otherConfigs)
	}
	j.LastCheckedAt = timePtr(lastChecked)
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	return j, nil
}

package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const reviewColumns = `id, eval_run_id, reason, priority, status, resolution, override_decision,
	override_justification, reviewer_notes, assigned_reviewer, created_at, claimed_at, resolved_at, expired_at`

// insertReviewItem adds item unless its eval run already has one. It reports
// whether a row was written.
func (s *Store) insertReviewItem(ctx context.Context, ex execer, item *ReviewItem) (bool, error) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = Now()
	}
	if item.Status == "" {
		item.Status = ReviewStatusPending
	}
	res, err := ex.ExecContext(ctx, s.rebind(`
		INSERT INTO review_items (id, eval_run_id, reason, priority, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (eval_run_id) DO NOTHING`),
		item.ID, item.EvalRunID, item.Reason, item.Priority, item.Status, toMillis(item.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create review item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for review item: %w", err)
	}
	return n > 0, nil
}

// EnqueueReviewItems inserts the items that do not collide with an existing
// review for the same eval run and returns the ones actually written.
func (s *Store) EnqueueReviewItems(ctx context.Context, items []*ReviewItem) ([]*ReviewItem, error) {
	var created []*ReviewItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		created = created[:0]
		for _, item := range items {
			ok, err := s.insertReviewItem(ctx, tx, item)
			if err != nil {
				return err
			}
			if ok {
				created = append(created, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetReviewItem retrieves a review item by ID.
func (s *Store) GetReviewItem(ctx context.Context, id string) (*ReviewItem, error) {
	return s.getReviewItem(ctx, s.db, id)
}

func (s *Store) getReviewItem(ctx context.Context, ex execer, id string) (*ReviewItem, error) {
	row := ex.QueryRowContext(ctx, s.rebind(`SELECT `+reviewColumns+` FROM review_items WHERE id = ?`), id)
	item, err := scanReviewItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("review item %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get review item: %w", err)
	}
	return item, nil
}

// GetReviewItemForEvalRun returns the review attached to an eval run, if any.
func (s *Store) GetReviewItemForEvalRun(ctx context.Context, evalRunID string) (*ReviewItem, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+reviewColumns+` FROM review_items WHERE eval_run_id = ?`), evalRunID)
	item, err := scanReviewItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("review for eval run %s: %w", evalRunID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get review item: %w", err)
	}
	return item, nil
}

// ListReviewItems lists review items, most urgent first.
func (s *Store) ListReviewItems(ctx context.Context, filter ReviewFilter) ([]*ReviewItem, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Reason != "" {
		where = append(where, "reason = ?")
		args = append(args, filter.Reason)
	}
	if filter.Reviewer != "" {
		where = append(where, "assigned_reviewer = ?")
		args = append(args, filter.Reviewer)
	}
	query := `SELECT ` + reviewColumns + ` FROM review_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority DESC, created_at ASC, id LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list review items: %w", err)
	}
	defer rows.Close()

	items := []*ReviewItem{}
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for review items: %w", err)
	}
	return items, nil
}

// ClaimReviewItem moves a pending item to claimed for reviewer. The update is
// conditional on the current status, so of several concurrent claims exactly
// one sees claimed == true. On false, current holds the row as it stands.
func (s *Store) ClaimReviewItem(ctx context.Context, id, reviewer string, at time.Time) (current *ReviewItem, claimed bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE review_items SET status = ?, assigned_reviewer = ?, claimed_at = ?
			WHERE id = ? AND status = ?`),
			ReviewStatusClaimed, reviewer, toMillis(at), id, ReviewStatusPending,
		)
		if err != nil {
			return fmt.Errorf("failed to claim review item %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected for claim: %w", err)
		}
		claimed = n == 1
		current, err = s.getReviewItem(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return current, claimed, nil
}

// ReviewResolution carries the fields written when an item is resolved.
type ReviewResolution struct {
	Reviewer              string
	Resolution            string
	OverrideDecision      Decision
	OverrideJustification string
	ReviewerNotes         string
	ResolvedAt            time.Time
}

// ResolveReviewItem closes a claimed item held by res.Reviewer and writes the
// audit entry in the same transaction. resolved is false when the item was not
// in the claimed state for that reviewer; current then reflects the stored row.
func (s *Store) ResolveReviewItem(ctx context.Context, id string, res ReviewResolution, audit *AuditEntry) (current *ReviewItem, resolved bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE review_items
			SET status = ?, resolution = ?, override_decision = ?, override_justification = ?,
				reviewer_notes = ?, resolved_at = ?
			WHERE id = ? AND status = ? AND assigned_reviewer = ?`),
			ReviewStatusResolved, res.Resolution, nullString(string(res.OverrideDecision)), res.OverrideJustification,
			res.ReviewerNotes, toMillis(res.ResolvedAt), id, ReviewStatusClaimed, res.Reviewer,
		)
		if err != nil {
			return fmt.Errorf("failed to resolve review item %s: %w", id, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected for resolve: %w", err)
		}
		resolved = n == 1
		if resolved {
			if err := s.insertAudit(ctx, tx, audit); err != nil {
				return err
			}
		}
		current, err = s.getReviewItem(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return current, resolved, nil
}

// ExpireStaleReviewItems expires pending items created before pendingBefore
// and claimed items claimed before claimedBefore. Returns the number expired.
func (s *Store) ExpireStaleReviewItems(ctx context.Context, pendingBefore, claimedBefore, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE review_items SET status = ?, expired_at = ?
		WHERE (status = ? AND created_at < ?) OR (status = ? AND claimed_at < ?)`),
		ReviewStatusExpired, toMillis(at),
		ReviewStatusPending, toMillis(pendingBefore),
		ReviewStatusClaimed, toMillis(claimedBefore),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire review items: %w", err)
	}
	return res.RowsAffected()
}

// GetReviewStats aggregates counts across the whole queue.
func (s *Store) GetReviewStats(ctx context.Context, at time.Time) (*ReviewStats, error) {
	stats := &ReviewStats{
		ByStatus:     map[string]int{},
		ByReason:     map[string]int{},
		ByResolution: map[string]int{},
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT status, reason, COALESCE(resolution, ''), COUNT(*),
			COALESCE(SUM(CASE WHEN resolved_at IS NOT NULL THEN resolved_at - created_at ELSE 0 END), 0),
			COALESCE(MIN(created_at), 0)
		FROM review_items
		GROUP BY status, reason, COALESCE(resolution, '')`))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate review items: %w", err)
	}
	defer rows.Close()

	var resolvedCount int
	var resolutionMsTotal int64
	var oldestPending int64
	for rows.Next() {
		var status, reason, resolution string
		var count int
		var durationSum, minCreated int64
		if err := rows.Scan(&status, &reason, &resolution, &count, &durationSum, &minCreated); err != nil {
			return nil, fmt.Errorf("failed to scan review stats row: %w", err)
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByReason[reason] += count
		if resolution != "" {
			stats.ByResolution[resolution] += count
		}
		if resolution == ResolutionOverridden {
			stats.OverrideCount += count
		}
		if status == ReviewStatusResolved {
			resolvedCount += count
			resolutionMsTotal += durationSum
		}
		if status == ReviewStatusPending && minCreated > 0 && (oldestPending == 0 || minCreated < oldestPending) {
			oldestPending = minCreated
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for review stats: %w", err)
	}
	if resolvedCount > 0 {
		stats.MeanResolutionMs = float64(resolutionMsTotal) / float64(resolvedCount)
	}
	if oldestPending > 0 {
		stats.OldestPendingAgeMs = toMillis(at) - oldestPending
	}
	return stats, nil
}

func scanReviewItem(row rowScanner) (*ReviewItem, error) {
	item := &ReviewItem{}
	var resolution, overrideDecision sql.NullString
	var createdAt int64
	var claimedAt, resolvedAt, expiredAt sql.NullInt64
	if err := row.Scan(&item.ID, &item.EvalRunID, &item.Reason, &item.Priority, &item.Status, &resolution,
		&overrideDecision, &item.OverrideJustification, &item.ReviewerNotes, &item.AssignedReviewer,
		&createdAt, &claimedAt, &resolvedAt, &expiredAt); err != nil {
		return nil, err
	}
	item.Resolution = resolution.String
	item.OverrideDecision = Decision(overrideDecision.String)
	item.CreatedAt = fromMillis(createdAt)
	item.ClaimedAt = timePtr(claimedAt)
	item.ResolvedAt = timePtr(resolvedAt)
	item.ExpiredAt = timePtr(expiredAt)
	return item, nil
}

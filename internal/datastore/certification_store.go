package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const certificationColumns = `id, agent_id, character_id, card_version_id, test_suite_id, tier, status, score,
	results_summary, report_object_key, created_at, completed_at, expires_at, updated_at`

// CreateCertification persists a finished certification run together with
// every eval run the suite produced.
func (s *Store) CreateCertification(ctx context.Context, cert *Certification, runs []*EvalRun) error {
	if cert.CreatedAt.IsZero() {
		cert.CreatedAt = Now()
	}
	cert.UpdatedAt = cert.CreatedAt
	summary, err := marshalText(cert.ResultsSummary)
	if err != nil {
		return fmt.Errorf("marshal results summary: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, run := range runs {
			if err := s.insertEvalRun(ctx, tx, run); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO certifications (`+certificationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			cert.ID, cert.AgentID, cert.CharacterID, cert.CardVersionID, cert.TestSuiteID, cert.Tier, cert.Status,
			cert.Score, summary, cert.ReportObjectKey, toMillis(cert.CreatedAt), nullMillis(cert.CompletedAt),
			nullMillis(cert.ExpiresAt), toMillis(cert.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create certification: %w", err)
		}
		return nil
	})
}

// GetCertification retrieves a certification by ID.
func (s *Store) GetCertification(ctx context.Context, id string) (*Certification, error) {
	return s.getCertification(ctx, s.db, id)
}

func (s *Store) getCertification(ctx context.Context, ex execer, id string) (*Certification, error) {
	row := ex.QueryRowContext(ctx, s.rebind(`SELECT `+certificationColumns+` FROM certifications WHERE id = ?`), id)
	cert, err := scanCertification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("certification %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get certification: %w", err)
	}
	return cert, nil
}

// ListCertifications lists certifications newest first.
func (s *Store) ListCertifications(ctx context.Context, filter CertificationFilter) ([]*Certification, error) {
	var where []string
	var args []any
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.CharacterID != "" {
		where = append(where, "character_id = ?")
		args = append(args, filter.CharacterID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	query := `SELECT ` + certificationColumns + ` FROM certifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list certifications: %w", err)
	}
	defer rows.Close()

	out := []*Certification{}
	for rows.Next() {
		cert, err := scanCertification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan certification row: %w", err)
		}
		out = append(out, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for certifications: %w", err)
	}
	return out, nil
}

// CertificationPatch is a manual operator correction.
type CertificationPatch struct {
	Status *string
	Score  *float64
}

// UpdateCertification applies an operator correction and its audit entry atomically.
func (s *Store) UpdateCertification(ctx context.Context, id string, patch CertificationPatch, audit *AuditEntry) (*Certification, error) {
	var out *Certification
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getCertification(ctx, tx, id)
		if err != nil {
			return err
		}
		status := current.Status
		if patch.Status != nil {
			status = *patch.Status
		}
		score := current.Score
		if patch.Score != nil {
			score = *patch.Score
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE certifications SET status = ?, score = ?, updated_at = ? WHERE id = ?`),
			status, score, toMillis(Now()), id); err != nil {
			return fmt.Errorf("failed to update certification %s: %w", id, err)
		}
		if err := s.insertAudit(ctx, tx, audit); err != nil {
			return err
		}
		out, err = s.getCertification(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetCertificationReportKey records where the archived report lives.
func (s *Store) SetCertificationReportKey(ctx context.Context, id, key string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE certifications SET report_object_key = ? WHERE id = ?`), key, id)
	if err != nil {
		return fmt.Errorf("failed to set report key for certification %s: %w", id, err)
	}
	return nil
}

// ExpireCertifications flips passed/certified rows whose expires_at is at or
// before at to expired, and returns how many changed.
func (s *Store) ExpireCertifications(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE certifications SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND expires_at IS NOT NULL AND expires_at <= ?`),
		CertificationExpired, toMillis(at), CertificationPassed, CertificationCertified, toMillis(at))
	if err != nil {
		return 0, fmt.Errorf("failed to expire certifications: %w", err)
	}
	return res.RowsAffected()
}

func scanCertification(row rowScanner) (*Certification, error) {
	cert := &Certification{}
	var summary string
	var createdAt, updatedAt int64
	var completedAt, expiresAt sql.NullInt64
	if err := row.Scan(&cert.ID, &cert.AgentID, &cert.CharacterID, &cert.CardVersionID, &cert.TestSuiteID,
		&cert.Tier, &cert.Status, &cert.Score, &summary, &cert.ReportObjectKey, &createdAt, &completedAt,
		&expiresAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalText(summary, &cert.ResultsSummary); err != nil {
		return nil, fmt.Errorf("decode results summary: %w", err)
	}
	cert.CreatedAt = fromMillis(createdAt)
	cert.CompletedAt = timePtr(completedAt)
	cert.ExpiresAt = timePtr(expiresAt)
	cert.UpdatedAt = fromMillis(updatedAt)
	return cert, nil
}

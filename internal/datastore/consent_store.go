package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const consentColumns = `id, character_id, performer_name, consent_type, territories, modalities, usage_restrictions,
	valid_from, valid_until, strike_clause, strike_activated, struck_at, created_at`

// CreateConsentRecord inserts a consent record.
func (s *Store) CreateConsentRecord(ctx context.Context, c *ConsentRecord) error {
	c.CreatedAt = Now()
	if c.ValidFrom.IsZero() {
		c.ValidFrom = c.CreatedAt
	}
	territories, err := marshalText(nonNilStrings(c.Territories))
	if err != nil {
		return fmt.Errorf("marshal territories: %w", err)
	}
	modalities, err := marshalText(nonNilStrings(c.Modalities))
	if err != nil {
		return fmt.Errorf("marshal modalities: %w", err)
	}
	restrictions, err := marshalText(nonNilStrings(c.UsageRestrictions))
	if err != nil {
		return fmt.Errorf("marshal usage restrictions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO consent_records (`+consentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.CharacterID, c.PerformerName, c.ConsentType, territories, modalities, restrictions,
		toMillis(c.ValidFrom), nullMillis(c.ValidUntil), c.StrikeClause, c.StrikeActivated, nullMillis(c.StruckAt),
		toMillis(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create consent record: %w", err)
	}
	return nil
}

// GetConsentRecord retrieves a consent record by ID.
func (s *Store) GetConsentRecord(ctx context.Context, id string) (*ConsentRecord, error) {
	return s.getConsentRecord(ctx, s.db, id)
}

func (s *Store) getConsentRecord(ctx context.Context, ex execer, id string) (*ConsentRecord, error) {
	row := ex.QueryRowContext(ctx, s.rebind(`SELECT `+consentColumns+` FROM consent_records WHERE id = ?`), id)
	c, err := scanConsentRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("consent record %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get consent record: %w", err)
	}
	return c, nil
}

// ListConsentRecords lists consent records, optionally for one character.
func (s *Store) ListConsentRecords(ctx context.Context, characterID string) ([]*ConsentRecord, error) {
	query := `SELECT ` + consentColumns + ` FROM consent_records`
	var args []any
	if characterID != "" {
		query += ` WHERE character_id = ?`
		args = append(args, characterID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list consent records: %w", err)
	}
	defer rows.Close()

	records := []*ConsentRecord{}
	for rows.Next() {
		c, err := scanConsentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consent record row: %w", err)
		}
		records = append(records, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for consent records: %w", err)
	}
	return records, nil
}

// StrikeConsentRecord sets strike_activated. The flag is one-way: striking an
// already struck record leaves it untouched and reports changed == false.
func (s *Store) StrikeConsentRecord(ctx context.Context, id string, at time.Time, audit *AuditEntry) (record *ConsentRecord, changed bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE consent_records SET strike_activated = ?, struck_at = ?
			WHERE id = ? AND strike_activated = ?`),
			true, toMillis(at), id, false)
		if err != nil {
			return fmt.Errorf("failed to strike consent record %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected for strike: %w", err)
		}
		changed = n == 1
		if changed {
			if err := s.insertAudit(ctx, tx, audit); err != nil {
				return err
			}
		}
		record, err = s.getConsentRecord(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return record, changed, nil
}

func scanConsentRecord(row rowScanner) (*ConsentRecord, error) {
	c := &ConsentRecord{}
	var territories, modalities, restrictions string
	var validFrom, createdAt int64
	var validUntil, struckAt sql.NullInt64
	if err := row.Scan(&c.ID, &c.CharacterID, &c.PerformerName, &c.ConsentType, &territories, &modalities,
		&restrictions, &validFrom, &validUntil, &c.StrikeClause, &c.StrikeActivated, &struckAt, &createdAt); err != nil {
		return nil, err
	}
	if err := unmarshalText(territories, &c.Territories); err != nil {
		return nil, fmt.Errorf("decode territories: %w", err)
	}
	if err := unmarshalText(modalities, &c.Modalities); err != nil {
		return nil, fmt.Errorf("decode modalities: %w", err)
	}
	if err := unmarshalText(restrictions, &c.UsageRestrictions); err != nil {
		return nil, fmt.Errorf("decode usage restrictions: %w", err)
	}
	c.ValidFrom = fromMillis(validFrom)
	c.ValidUntil = timePtr(validUntil)
	c.StruckAt = timePtr(struckAt)
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

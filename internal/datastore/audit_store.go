package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEntry records an operator or reviewer action against a durable record.
type AuditEntry struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (s *Store) insertAudit(ctx context.Context, ex execer, entry *AuditEntry) error {
	if entry == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = "aud_" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = Now()
	}
	payload, err := marshalText(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, s.rebind(`
		INSERT INTO audit_log (id, entity_type, entity_id, action, actor, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.EntityType, entry.EntityID, entry.Action, entry.Actor, payload, toMillis(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// RecordAudit writes a standalone audit entry.
func (s *Store) RecordAudit(ctx context.Context, entry *AuditEntry) error {
	return s.insertAudit(ctx, s.db, entry)
}

// ListAudit returns the audit trail for one entity, oldest first.
func (s *Store) ListAudit(ctx context.Context, entityType, entityID string) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, entity_type, entity_id, action, actor, payload, created_at
		FROM audit_log WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at, id`), entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		e := &AuditEntry{}
		var payload string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.Actor, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := unmarshalText(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode audit payload: %w", err)
		}
		e.CreatedAt = fromMillis(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package store

import (
	"context"
	"fmt"

	"offline-pos/internal/events"
	"offline-pos/internal/models"

	"github.com/google/uuid"
)

// InsertAuditLog records who did what to which entity.
func (t *Tx) InsertAuditLog(ctx context.Context, l *models.AuditLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = t.now()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, actor, action, entity_type, entity_id, detail, timestamp, synced)
		VALUES (:id, :actor, :action, :entity_type, :entity_id, :detail, :timestamp, :synced)`, l)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	t.record(events.TableAuditLogs, events.OpInsert, l.ID)
	return nil
}

// ListAuditLogs returns the most recent entries first.
func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []models.AuditLog
	err := s.View(ctx, func(tx *Tx) error {
		return tx.tx.SelectContext(ctx, &logs, `
			SELECT id, actor, action, entity_type, entity_id, detail, timestamp, synced
			FROM audit_logs ORDER BY timestamp DESC, id LIMIT ?`, limit)
	})
	return logs, err
}

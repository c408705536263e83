package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"offline-pos/internal/events"
	"offline-pos/internal/models"
)

const queueColumns = "id, url, method, payload, status, retry_count, created_at, last_error, next_attempt_at"

// Enqueue appends a packet to the outbox in the caller's transaction, so the
// packet exists if and only if the work it describes was committed.
func (t *Tx) Enqueue(ctx context.Context, url, method string, packet *models.SyncPacket) (int64, error) {
	payload, err := json.Marshal(packet)
	if err != nil {
		return 0, fmt.Errorf("failed to encode sync packet: %w", err)
	}
	now := t.now()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO sync_queue (url, method, payload, status, retry_count, created_at, last_error, next_attempt_at)
		VALUES (?, ?, ?, ?, 0, ?, '', ?)`,
		url, method, string(payload), models.QueuePending, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue sync packet: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.record(events.TableSyncQueue, events.OpInsert, strconv.FormatInt(id, 10))
	return id, nil
}

// ClaimBatch moves up to limit due PENDING rows with id > afterID to PROCESSING
// and returns them in FIFO order.
func (s *Store) ClaimBatch(ctx context.Context, afterID int64, limit int) ([]models.SyncQueueItem, error) {
	var items []models.SyncQueueItem
	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.tx.SelectContext(ctx, &items, `
			SELECT `+queueColumns+` FROM sync_queue
			WHERE status = ? AND id > ? AND next_attempt_at <= ?
			ORDER BY id LIMIT ?`,
			models.QueuePending, afterID, tx.now(), limit); err != nil {
			return fmt.Errorf("failed to read outbox: %w", err)
		}
		for i := range items {
			if _, err := tx.tx.ExecContext(ctx,
				"UPDATE sync_queue SET status = ? WHERE id = ?", models.QueueProcessing, items[i].ID); err != nil {
				return fmt.Errorf("failed to claim outbox row %d: %w", items[i].ID, err)
			}
			items[i].Status = models.QueueProcessing
			tx.record(events.TableSyncQueue, events.OpUpdate, strconv.FormatInt(items[i].ID, 10))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// CompleteDelivery removes a delivered row and flags the records it carried as
// synced. Running it twice for the same row is harmless.
func (s *Store) CompleteDelivery(ctx context.Context, item *models.SyncQueueItem, packet *models.SyncPacket) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", item.ID); err != nil {
			return fmt.Errorf("failed to delete outbox row %d: %w", item.ID, err)
		}
		tx.record(events.TableSyncQueue, events.OpDelete, strconv.FormatInt(item.ID, 10))

		if packet == nil {
			return nil
		}
		// A later status change re-flags a record as unsynced and queues a newer
		// packet; only the matching status is marked here.
		for _, sale := range packet.Sales {
			if err := tx.markSynced(ctx, events.TableSales,
				"UPDATE sales SET synced = 1 WHERE id = ? AND status = ?", sale.ID, sale.Status); err != nil {
				return err
			}
		}
		for _, sh := range packet.Shifts {
			if err := tx.markSynced(ctx, events.TableShifts,
				"UPDATE shifts SET synced = 1 WHERE id = ? AND status = ?", sh.ID, sh.Status); err != nil {
				return err
			}
		}
		for _, m := range packet.StockMovements {
			if err := tx.markSynced(ctx, events.TableStockMovements,
				"UPDATE stock_movements SET synced = 1 WHERE id = ?", m.ID); err != nil {
				return err
			}
		}
		for _, l := range packet.AuditLogs {
			if err := tx.markSynced(ctx, events.TableAuditLogs,
				"UPDATE audit_logs SET synced = 1 WHERE id = ?", l.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *Tx) markSynced(ctx context.Context, table, query string, id string, args ...interface{}) error {
	res, err := t.tx.ExecContext(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to mark %s %s synced: %w", table, id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		t.record(table, events.OpUpdate, id)
	}
	return nil
}

// FailDelivery records a failed attempt. The row becomes FAILED once its retry
// count reaches maxRetries, otherwise it returns to PENDING until nextAttempt.
func (s *Store) FailDelivery(ctx context.Context, id int64, cause string, maxRetries int, nextAttempt time.Time) (models.QueueStatus, error) {
	var status models.QueueStatus
	err := s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, `
			UPDATE sync_queue
			SET retry_count = retry_count + 1,
				last_error = ?,
				next_attempt_at = ?,
				status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END
			WHERE id = ?`,
			cause, nextAttempt.UTC(), maxRetries, models.QueueFailed, models.QueuePending, id)
		if err != nil {
			return fmt.Errorf("failed to record delivery failure: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("outbox row", strconv.FormatInt(id, 10))
		}
		tx.record(events.TableSyncQueue, events.OpUpdate, strconv.FormatInt(id, 10))
		return tx.tx.GetContext(ctx, &status, "SELECT status FROM sync_queue WHERE id = ?", id)
	})
	return status, err
}

// RetryAllFailed returns every FAILED row to PENDING with a fresh retry budget.
func (s *Store) RetryAllFailed(ctx context.Context) (int64, error) {
	return s.resetRows(ctx, models.QueueFailed, "retry_count = 0, ")
}

// RequeueStale returns rows left PROCESSING by an interrupted worker to PENDING.
func (s *Store) RequeueStale(ctx context.Context) (int64, error) {
	return s.resetRows(ctx, models.QueueProcessing, "")
}

func (s *Store) resetRows(ctx context.Context, from models.QueueStatus, extra string) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx,
			"UPDATE sync_queue SET "+extra+"status = ?, next_attempt_at = ? WHERE status = ?",
			models.QueuePending, tx.now(), from)
		if err != nil {
			return fmt.Errorf("failed to requeue %s rows: %w", from, err)
		}
		n, _ = res.RowsAffected()
		if n > 0 {
			tx.record(events.TableSyncQueue, events.OpUpdate, "")
		}
		return nil
	})
	return n, err
}

// DismissFailed drops a FAILED row for good.
func (s *Store) DismissFailed(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ? AND status = ?", id, models.QueueFailed)
		if err != nil {
			return fmt.Errorf("failed to dismiss outbox row: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("failed outbox row", strconv.FormatInt(id, 10))
		}
		tx.record(events.TableSyncQueue, events.OpDelete, strconv.FormatInt(id, 10))
		return nil
	})
}

// ListQueue returns outbox rows, optionally filtered by status, in FIFO order.
func (s *Store) ListQueue(ctx context.Context, status models.QueueStatus) ([]models.SyncQueueItem, error) {
	var items []models.SyncQueueItem
	err := s.View(ctx, func(tx *Tx) error {
		if status == "" {
			return tx.tx.SelectContext(ctx, &items, "SELECT "+queueColumns+" FROM sync_queue ORDER BY id")
		}
		return tx.tx.SelectContext(ctx, &items,
			"SELECT "+queueColumns+" FROM sync_queue WHERE status = ? ORDER BY id", status)
	})
	return items, err
}

// QueueStats counts outbox rows per status.
func (s *Store) QueueStats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats
	err := s.View(ctx, func(tx *Tx) error {
		rows, err := tx.tx.QueryxContext(ctx, "SELECT status, COUNT(*) FROM sync_queue GROUP BY status")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var status models.QueueStatus
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			switch status {
			case models.QueuePending:
				stats.Pending = n
			case models.QueueProcessing:
				stats.Processing = n
			case models.QueueFailed:
				stats.Failed = n
			}
		}
		return rows.Err()
	})
	return stats, err
}

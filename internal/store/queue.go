package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mypocket/pocketsync/internal/model"
)

// Queue tuning. A drain cycle fetches at most drainBatchSize entries so one
// pass cannot fan out into an unbounded number of remote calls, and an entry
// that has failed maxRetries times is left for an operator instead of being
// retried forever.
const (
	drainBatchSize = 10
	maxRetries     = 3
)

// enqueue records a mutation intent. Any prior pending entry for the same
// (record, operation) pair is superseded first, so editing the same record
// repeatedly before a drain produces exactly one replay.
func (s *Store) enqueue(ctx context.Context, op model.Operation, tableName, recordID string, payload []byte) error {
	if !op.Valid() {
		return fmt.Errorf("unknown queue operation %q", op)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE recordId = ? AND operation = ? AND status = 'pending'`,
		recordID, string(op),
	); err != nil {
		return fmt.Errorf("superseding pending %s for %q: %w", op, recordID, err)
	}

	const q = `
		INSERT INTO sync_queue (operation, tableName, recordId, data, timestamp)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		string(op), tableName, recordID, nullableString(payload), formatTime(time.Now().UTC()),
	); err != nil {
		return fmt.Errorf("enqueuing %s for %q: %w", op, recordID, err)
	}
	return nil
}

// GetPendingSyncItems returns the next batch of replayable queue entries:
// pending, below the retry ceiling, oldest first.
func (s *Store) GetPendingSyncItems(ctx context.Context) ([]*model.QueueEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	const q = `
		SELECT id, operation, tableName, recordId, data, timestamp, retryCount, status
		FROM sync_queue
		WHERE status = 'pending' AND retryCount < ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, maxRetries, drainBatchSize)
	if err != nil {
		return nil, fmt.Errorf("querying pending sync items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*model.QueueEntry
	for rows.Next() {
		var e model.QueueEntry
		var op, status, ts string
		var data []byte
		if err := rows.Scan(&e.ID, &op, &e.TableName, &e.RecordID, &data, &ts, &e.RetryCount, &status); err != nil {
			return nil, fmt.Errorf("scanning queue entry: %w", err)
		}
		e.Operation = model.Operation(op)
		e.Status = model.QueueStatus(status)
		e.Payload = data
		e.EnqueuedAt, _ = parseTime(ts)
		items = append(items, &e)
	}
	return items, rows.Err()
}

// UpdateSyncItemStatus sets the status of a queue entry, leaving its retry
// count untouched.
func (s *Store) UpdateSyncItemStatus(ctx context.Context, id int64, status model.QueueStatus) error {
	if err := s.ready(); err != nil {
		return err
	}

	const q = `UPDATE sync_queue SET status = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, string(status), id); err != nil {
		return fmt.Errorf("updating queue entry %d: %w", id, err)
	}
	return nil
}

// MarkSyncItemFailed records a failed replay attempt: status=failed and the
// incremented retry count. Entries at the retry ceiling drop out of
// [Store.GetPendingSyncItems] results.
func (s *Store) MarkSyncItemFailed(ctx context.Context, id int64, retryCount int) error {
	if err := s.ready(); err != nil {
		return err
	}

	const q = `UPDATE sync_queue SET status = ?, retryCount = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, string(model.QueueFailed), retryCount, id); err != nil {
		return fmt.Errorf("marking queue entry %d failed: %w", id, err)
	}
	return nil
}

// ResetFailedSyncItems flips failed entries back to pending with a fresh
// retry budget so the next drain picks them up again. This is the manual
// escape hatch for entries stuck at the retry ceiling.
func (s *Store) ResetFailedSyncItems(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	const q = `UPDATE sync_queue SET status = 'pending', retryCount = 0 WHERE status = 'failed'`
	res, err := s.db.ExecContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("resetting failed queue entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PendingQueueCount counts entries that are still eligible for replay. An
// entry stuck at the retry ceiling is not counted — the gap between this
// number staying flat and mutations still happening is the operator's signal.
func (s *Store) PendingQueueCount(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	var count int
	const q = `SELECT COUNT(*) FROM sync_queue WHERE status = 'pending' AND retryCount < ?`
	if err := s.db.QueryRowContext(ctx, q, maxRetries).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting pending queue entries: %w", err)
	}
	return count, nil
}

// QueueStatusCount is one row of the per-(status, operation) queue breakdown.
type QueueStatusCount struct {
	Status    model.QueueStatus
	Operation model.Operation
	Count     int
}

// GetSyncQueueStatus returns the queue broken down by status and operation,
// for diagnostics.
func (s *Store) GetSyncQueueStatus(ctx context.Context) ([]QueueStatusCount, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	const q = `
		SELECT status, operation, COUNT(*)
		FROM sync_queue
		GROUP BY status, operation
		ORDER BY status, operation`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying queue status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []QueueStatusCount
	for rows.Next() {
		var c QueueStatusCount
		var status, op string
		if err := rows.Scan(&status, &op, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning queue status row: %w", err)
		}
		c.Status = model.QueueStatus(status)
		c.Operation = model.Operation(op)
		result = append(result, c)
	}
	return result, rows.Err()
}

// pruneCompletedQueue drops completed entries older than the retention
// window. The queue would otherwise grow for the lifetime of the device.
func (s *Store) pruneCompletedQueue(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-completedQueueRetention)
	const q = `DELETE FROM sync_queue WHERE status = 'completed' AND timestamp < ?`
	_, err := s.db.ExecContext(ctx, q, formatTime(cutoff))
	return err
}

// nullableString stores an empty payload as NULL rather than ''.
func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// QueueRow is a persisted sync_queue entry. Payload is the JSON encoding of
// the intent; its shape is owned by internal/intent.
type QueueRow struct {
	ID         int64
	Kind       string
	Payload    string
	RetryCount int
	EnqueuedAt time.Time
}

// DeadLetter is a quarantined queue entry. ID is the original queue id.
type DeadLetter struct {
	ID         int64
	Kind       string
	Payload    string
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
	FailedAt   time.Time
}

// InsertQueueItem appends an entry with retry_count 0 and returns its id.
// Ids are monotonic and never reused.
func (s *Store) InsertQueueItem(ctx context.Context, kind, payload string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (kind, payload, retry_count, enqueued_at)
		VALUES (?, ?, 0, ?)
	`, kind, payload, at.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert queue item: last insert id: %w", err)
	}
	return id, nil
}

// QueueItems returns every queued entry, oldest first.
func (s *Store) QueueItems(ctx context.Context) ([]QueueRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload, retry_count, enqueued_at
		FROM sync_queue
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	out := []QueueRow{}
	for rows.Next() {
		r, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return out, nil
}

// QueueItem returns one queued entry, or ErrNotFound.
func (s *Store) QueueItem(ctx context.Context, id int64) (QueueRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, payload, retry_count, enqueued_at
		FROM sync_queue WHERE id = ?
	`, id)
	r, err := scanQueueRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueRow{}, fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	return r, err
}

// DeleteQueueItem removes a queued entry. Missing ids are not an error.
func (s *Store) DeleteQueueItem(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete queue item %d: %w", id, err)
	}
	return nil
}

// SetRetryCount overwrites an entry's retry count.
func (s *Store) SetRetryCount(ctx context.Context, id int64, n int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sync_queue SET retry_count = ? WHERE id = ?`, n, id)
	if err != nil {
		return fmt.Errorf("set retry count of %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set retry count of %d: rows affected: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountQueue returns the number of queued entries.
func (s *Store) CountQueue(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// DeleteQueueItemsFrom removes every entry whose retry count is at least n.
func (s *Store) DeleteQueueItemsFrom(ctx context.Context, n int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE retry_count >= ?`, n)
	if err != nil {
		return 0, fmt.Errorf("delete failed queue items: %w", err)
	}
	return res.RowsAffected()
}

// MoveToDeadLetter atomically removes a queue entry and records it in
// dead_letters with the given attempt count and last error.
func (s *Store) MoveToDeadLetter(ctx context.Context, id int64, attempts int, lastErr string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letters (id, kind, payload, attempts, last_error, enqueued_at, failed_at)
			SELECT id, kind, payload, ?, ?, enqueued_at, ? FROM sync_queue WHERE id = ?
			ON CONFLICT(id) DO UPDATE SET
				attempts = excluded.attempts,
				last_error = excluded.last_error,
				failed_at = excluded.failed_at
		`, attempts, lastErr, at.UnixMilli(), id)
		if err != nil {
			return fmt.Errorf("dead-letter %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("dead-letter %d: rows affected: %w", id, err)
		} else if n == 0 {
			return fmt.Errorf("queue item %d: %w", id, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
			return fmt.Errorf("dead-letter %d: delete from queue: %w", id, err)
		}
		return nil
	})
}

// DeadLetters returns every quarantined entry, oldest first.
func (s *Store) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload, attempts, last_error, enqueued_at, failed_at
		FROM dead_letters
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	out := []DeadLetter{}
	for rows.Next() {
		var d DeadLetter
		var enq, failed int64
		if err := rows.Scan(&d.ID, &d.Kind, &d.Payload, &d.Attempts, &d.LastError, &enq, &failed); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.EnqueuedAt = time.UnixMilli(enq).UTC()
		d.FailedAt = time.UnixMilli(failed).UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

// CountDeadLetters returns the number of quarantined entries.
func (s *Store) CountDeadLetters(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// ReviveDeadLetter moves a quarantined entry back into sync_queue under its
// original id, with retry_count reset to 0.
func (s *Store) ReviveDeadLetter(ctx context.Context, id int64) (QueueRow, error) {
	var row QueueRow
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sync_queue (id, kind, payload, retry_count, enqueued_at)
			SELECT id, kind, payload, 0, enqueued_at FROM dead_letters WHERE id = ?
		`, id)
		if err != nil {
			return fmt.Errorf("revive %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("revive %d: rows affected: %w", id, err)
		} else if n == 0 {
			return fmt.Errorf("dead letter %d: %w", id, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
			return fmt.Errorf("revive %d: delete dead letter: %w", id, err)
		}
		row, err = scanQueueRow(tx.QueryRowContext(ctx, `
			SELECT id, kind, payload, retry_count, enqueued_at
			FROM sync_queue WHERE id = ?
		`, id))
		return err
	})
	return row, err
}

// DeleteDeadLetters removes every quarantined entry.
func (s *Store) DeleteDeadLetters(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters`)
	if err != nil {
		return 0, fmt.Errorf("delete dead letters: %w", err)
	}
	return res.RowsAffected()
}

func scanQueueRow(r rowScanner) (QueueRow, error) {
	var q QueueRow
	var enq int64
	if err := r.Scan(&q.ID, &q.Kind, &q.Payload, &q.RetryCount, &enq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return q, err
		}
		return q, fmt.Errorf("scan queue row: %w", err)
	}
	q.EnqueuedAt = time.UnixMilli(enq).UTC()
	return q, nil
}

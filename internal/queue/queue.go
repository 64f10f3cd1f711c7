// Package queue is the durable mutation queue: an append-only, FIFO log of
// intents recorded while offline, plus the dead-letter side table for
// intents that exhausted their retry budget.
//
// The queue makes no ordering guarantee beyond FIFO by id and never
// deduplicates or coalesces: two updates for the same product both replay,
// in order.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/invsync/internal/clock"
	"github.com/roach88/invsync/internal/intent"
	"github.com/roach88/invsync/internal/store"
)

// Item is one queued intent. The payload is decoded lazily by Intent so a
// row this build cannot decode still lists, counts and ages out normally.
type Item struct {
	ID         int64       `json:"id"`
	Kind       intent.Kind `json:"kind"`
	Payload    string      `json:"payload"`
	RetryCount int         `json:"retry_count"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Intent decodes the item's payload.
func (it Item) Intent() (intent.Intent, error) {
	return intent.Decode(it.Kind, it.Payload)
}

// DeadLetter is a quarantined item, retained with its original payload.
type DeadLetter struct {
	ID        int64       `json:"id"`
	Kind      intent.Kind `json:"kind"`
	Payload   string      `json:"payload"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error"`
	Timestamp time.Time   `json:"timestamp"`
	FailedAt  time.Time   `json:"failed_at"`
}

// Status partitions queued work by retry count.
type Status struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Retrying int `json:"retrying"`
	Failed   int `json:"failed"`
}

// Queue is the mutation queue backed by the local store.
type Queue struct {
	store *store.Store
	clock clock.Clock
}

// New creates a queue over s, stamping items with c.
func New(s *store.Store, c clock.Clock) *Queue {
	return &Queue{store: s, clock: c}
}

// Enqueue durably records an intent with retryCount 0 and the current time.
// The write is committed before Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, in intent.Intent) (Item, error) {
	kind, payload, err := intent.Encode(in)
	if err != nil {
		return Item{}, fmt.Errorf("enqueue: %w", err)
	}
	now := q.clock.Now().UTC()
	id, err := q.store.InsertQueueItem(ctx, string(kind), payload, now)
	if err != nil {
		return Item{}, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return Item{ID: id, Kind: kind, Payload: payload, Timestamp: now.Truncate(time.Millisecond)}, nil
}

// List returns every queued item, oldest first.
func (q *Queue) List(ctx context.Context) ([]Item, error) {
	rows, err := q.store.QueueItems(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(rows))
	for i, r := range rows {
		items[i] = fromRow(r)
	}
	return items, nil
}

// Get returns one queued item, or store.ErrNotFound.
func (q *Queue) Get(ctx context.Context, id int64) (Item, error) {
	r, err := q.store.QueueItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return fromRow(r), nil
}

// Remove deletes a queued item.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	return q.store.DeleteQueueItem(ctx, id)
}

// UpdateRetryCount overwrites an item's retry count.
func (q *Queue) UpdateRetryCount(ctx context.Context, id int64, n int) error {
	return q.store.SetRetryCount(ctx, id, n)
}

// Count returns the number of queued items.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return q.store.CountQueue(ctx)
}

// Quarantine moves an item to the dead-letter table.
func (q *Queue) Quarantine(ctx context.Context, id int64, attempts int, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.store.MoveToDeadLetter(ctx, id, attempts, msg, q.clock.Now().UTC())
}

// DeadLetters lists quarantined items, oldest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := q.store.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, len(rows))
	for i, r := range rows {
		out[i] = DeadLetter{
			ID:        r.ID,
			Kind:      intent.Kind(r.Kind),
			Payload:   r.Payload,
			Attempts:  r.Attempts,
			LastError: r.LastError,
			Timestamp: r.EnqueuedAt,
			FailedAt:  r.FailedAt,
		}
	}
	return out, nil
}

// Revive moves a dead letter back into the queue under its original id with
// retryCount reset to 0.
func (q *Queue) Revive(ctx context.Context, id int64) (Item, error) {
	r, err := q.store.ReviveDeadLetter(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return fromRow(r), nil
}

// Status partitions the queue by retry count against the given ceiling:
// 0 is pending, 1..ceiling-1 is retrying, and failed counts queued items at
// or past the ceiling plus every dead letter.
func (q *Queue) Status(ctx context.Context, ceiling int) (Status, error) {
	items, err := q.List(ctx)
	if err != nil {
		return Status{}, err
	}
	dead, err := q.store.CountDeadLetters(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{Failed: dead}
	for _, it := range items {
		switch {
		case it.RetryCount == 0:
			st.Pending++
		case it.RetryCount < ceiling:
			st.Retrying++
		default:
			st.Failed++
		}
	}
	st.Total = st.Pending + st.Retrying + st.Failed
	return st, nil
}

// ClearFailed removes queued items at or past the ceiling and every dead
// letter. Returns how many were removed.
func (q *Queue) ClearFailed(ctx context.Context, ceiling int) (int, error) {
	queued, err := q.store.DeleteQueueItemsFrom(ctx, ceiling)
	if err != nil {
		return 0, err
	}
	dead, err := q.store.DeleteDeadLetters(ctx)
	if err != nil {
		return int(queued), err
	}
	return int(queued + dead), nil
}

func fromRow(r store.QueueRow) Item {
	return Item{
		ID:         r.ID,
		Kind:       intent.Kind(r.Kind),
		Payload:    r.Payload,
		RetryCount: r.RetryCount,
		Timestamp:  r.EnqueuedAt,
	}
}

package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invsync/internal/intent"
	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/store"
	"github.com/roach88/invsync/internal/testutil"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T) (*Queue, *testutil.FakeClock) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	c := testutil.NewFakeClock(epoch)
	return New(s, c), c
}

func TestEnqueue_AssignsIDRetryAndTimestamp(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, intent.ProductDelete{ID: "1"})
	require.NoError(t, err)
	assert.NotZero(t, item.ID)
	assert.Equal(t, 0, item.RetryCount)
	assert.Equal(t, epoch, item.Timestamp)
	assert.Equal(t, intent.KindProductDelete, item.Kind)
}

func TestEnqueue_RejectsInvalidIntent(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), intent.ProductDelete{})
	assert.ErrorIs(t, err, intent.ErrInvalid)

	n, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnqueue_DurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()
	c := testutil.NewFakeClock(epoch)

	s1, err := store.Open(path)
	require.NoError(t, err)
	stock := int64(20)
	enq, err := New(s1, c).Enqueue(ctx, intent.ProductUpdate{ID: "1", Updates: model.ProductPatch{Stock: &stock}})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := store.Open(path)
	require.NoError(t, err)
	defer s2.Close()

	items, err := New(s2, c).List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, enq.ID, items[0].ID)
	assert.Equal(t, 0, items[0].RetryCount)

	in, err := items[0].Intent()
	require.NoError(t, err)
	assert.Equal(t, int64(20), *in.(intent.ProductUpdate).Updates.Stock)
}

func TestList_FIFOAcrossKinds(t *testing.T) {
	q, c := newTestQueue(t)
	ctx := context.Background()

	stock := int64(20)
	_, err := q.Enqueue(ctx, intent.ProductUpdate{ID: "1", Updates: model.ProductPatch{Stock: &stock}})
	require.NoError(t, err)
	c.Advance(time.Second)
	_, err = q.Enqueue(ctx, intent.InvoiceDelete{ID: "inv-1"})
	require.NoError(t, err)
	c.Advance(time.Second)
	_, err = q.Enqueue(ctx, intent.ProductDelete{ID: "1"})
	require.NoError(t, err)

	items, err := q.List(ctx)
	require.NoError(t, err)
	kinds := []intent.Kind{items[0].Kind, items[1].Kind, items[2].Kind}
	assert.Equal(t, []intent.Kind{intent.KindProductUpdate, intent.KindInvoiceDelete, intent.KindProductDelete}, kinds)
}

func TestList_UndecodableItemStillListed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.store.InsertQueueItem(ctx, "product:teleport", `{}`, epoch)
	require.NoError(t, err)

	items, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	_, err = items[0].Intent()
	assert.ErrorIs(t, err, intent.ErrUnknownKind)
}

func TestStatus_PartitionsByRetryCount(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	ids := make([]int64, 0, 5)
	for i := 0; i < 5; i++ {
		it, err := q.Enqueue(ctx, intent.ProductDelete{ID: "p"})
		require.NoError(t, err)
		ids = append(ids, it.ID)
	}
	require.NoError(t, q.UpdateRetryCount(ctx, ids[1], 1))
	require.NoError(t, q.UpdateRetryCount(ctx, ids[2], 2))
	require.NoError(t, q.UpdateRetryCount(ctx, ids[3], 3))
	require.NoError(t, q.Quarantine(ctx, ids[4], 3, errors.New("boom")))

	st, err := q.Status(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, Status{Total: 5, Pending: 1, Retrying: 2, Failed: 2}, st)
}

func TestQuarantineAndRevive(t *testing.T) {
	q, c := newTestQueue(t)
	ctx := context.Background()

	it, err := q.Enqueue(ctx, intent.InvoiceDelete{ID: "inv-1"})
	require.NoError(t, err)
	c.Advance(time.Hour)
	require.NoError(t, q.Quarantine(ctx, it.ID, 3, errors.New("remote: 503")))

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "remote: 503", dead[0].LastError)
	assert.Equal(t, epoch.Add(time.Hour), dead[0].FailedAt)
	assert.Equal(t, it.Payload, dead[0].Payload)

	revived, err := q.Revive(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, it.ID, revived.ID)
	assert.Equal(t, 0, revived.RetryCount)

	_, err = q.Revive(ctx, it.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClearFailed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, intent.ProductDelete{ID: "a"})
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, intent.ProductDelete{ID: "b"})
	require.NoError(t, err)
	c, err := q.Enqueue(ctx, intent.ProductDelete{ID: "c"})
	require.NoError(t, err)
	require.NoError(t, q.UpdateRetryCount(ctx, b.ID, 3))
	require.NoError(t, q.Quarantine(ctx, c.ID, 3, nil))

	n, err := q.ClearFailed(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)
}

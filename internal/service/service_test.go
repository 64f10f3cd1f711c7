package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invsync/internal/connectivity"
	"github.com/roach88/invsync/internal/intent"
	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/queue"
	"github.com/roach88/invsync/internal/remote"
	"github.com/roach88/invsync/internal/stock"
	"github.com/roach88/invsync/internal/store"
	"github.com/roach88/invsync/internal/testutil"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.Store
	queue   *queue.Queue
	base    *remote.SQL
	remote  *testutil.FaultyRemote
	monitor *connectivity.Monitor
	svc     *Service
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	f := &fixture{
		store:   testutil.OpenStore(t),
		base:    testutil.OpenRemote(t),
		monitor: connectivity.NewMonitor(online),
	}
	clk := testutil.NewFakeClock(epoch)
	f.queue = queue.New(f.store, clk)
	f.remote = testutil.NewFaultyRemote(f.base)
	f.svc = New(f.store, f.queue, stock.New(f.store), f.remote, f.monitor,
		WithIDs(model.NewSequenceGenerator("id")),
		WithClock(clk),
	)
	t.Cleanup(f.monitor.Close)
	return f
}

func (f *fixture) queued(t *testing.T) []queue.Item {
	t.Helper()
	items, err := f.queue.List(context.Background())
	require.NoError(t, err)
	return items
}

func TestCreateProduct_Online(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	p, out, err := f.svc.CreateProduct(ctx, "  Pen ", decimal.NewFromInt(10), 5)
	require.NoError(t, err)
	assert.False(t, out.Queued)
	assert.Equal(t, "id-1", p.ID)
	assert.Equal(t, "Pen", p.Name)

	remoteProducts, err := f.base.Products(ctx)
	require.NoError(t, err)
	require.Len(t, remoteProducts, 1)

	cached, err := f.store.Products().Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "Pen", cached.Name)
	assert.Empty(t, f.queued(t))
}

func TestCreateProduct_OnlineRemoteFailureIsNotQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.remote.FailOn("InsertProduct", errors.New("boom"))

	_, _, err := f.svc.CreateProduct(ctx, "Pen", decimal.NewFromInt(10), 5)
	require.Error(t, err)
	assert.True(t, remote.IsRemote(err))
	assert.Empty(t, f.queued(t))

	_, err = f.store.Products().Get(ctx, "id-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateProduct_OfflineQueues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	p, out, err := f.svc.CreateProduct(ctx, "Pen", decimal.NewFromInt(10), 5)
	require.NoError(t, err)
	assert.True(t, out.Queued)

	items := f.queued(t)
	require.Len(t, items, 1)
	assert.Equal(t, intent.KindProductCreate, items[0].Kind)
	in, err := items[0].Intent()
	require.NoError(t, err)
	assert.Equal(t, p.ID, in.(intent.ProductCreate).Product.ID)

	assert.Zero(t, f.remote.Calls("InsertProduct"))
}

func TestCreateProduct_Invalid(t *testing.T) {
	f := newFixture(t, false)
	_, _, err := f.svc.CreateProduct(context.Background(), "  ", decimal.NewFromInt(1), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = f.svc.CreateProduct(context.Background(), "Pen", decimal.NewFromInt(-1), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateProduct_OfflineThenOnline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	p, _, err := f.svc.CreateProduct(ctx, "Pen", decimal.NewFromInt(10), 5)
	require.NoError(t, err)

	stockLevel := int64(20)
	updated, out, err := f.svc.UpdateProduct(ctx, p.ID, model.ProductPatch{Stock: &stockLevel})
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Equal(t, int64(20), updated.Stock)
	assert.Len(t, f.queued(t), 2)

	// Online, but earlier changes are still queued: this one queues behind them.
	f.monitor.Set(true)
	name := "Fountain pen"
	_, out, err = f.svc.UpdateProduct(ctx, p.ID, model.ProductPatch{Name: &name})
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Len(t, f.queued(t), 3)
	assert.Zero(t, f.remote.Calls("UpdateProduct"))

	// With the queue drained the update goes straight to the remote store.
	_, err = f.store.DeleteQueueItemsFrom(ctx, 0)
	require.NoError(t, err)
	_, out, err = f.svc.UpdateProduct(ctx, p.ID, model.ProductPatch{Name: &name})
	require.NoError(t, err)
	assert.False(t, out.Queued)
	assert.Equal(t, 1, f.remote.Calls("UpdateProduct"))
}

func TestUpdateProduct_EmptyPatch(t *testing.T) {
	f := newFixture(t, false)
	_, _, err := f.svc.UpdateProduct(context.Background(), "x", model.ProductPatch{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteProduct_ReferencedIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	p, _, err := f.svc.CreateProduct(ctx, "Pen", decimal.NewFromInt(10), 5)
	require.NoError(t, err)
	_, _, err = f.svc.CreateInvoice(ctx, "Ada", []model.ItemRequest{{ProductID: p.ID, Quantity: 1}})
	require.NoError(t, err)

	_, err = f.svc.DeleteProduct(ctx, p.ID)
	assert.ErrorIs(t, err, ErrProductReferenced)
}

func TestDeleteProduct_Offline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	p, _, err := f.svc.CreateProduct(ctx, "Pen", decimal.NewFromInt(10), 5)
	require.NoError(t, err)

	out, err := f.svc.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, out.Queued)

	_, err = f.store.Products().Get(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.DeleteProduct(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateInvoice_WarnsButNeverBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	p, _, err := f.svc.CreateProduct(ctx, "Pen", decimal.NewFromInt(10), 5)
	require.NoError(t, err)

	detail, out, err := f.svc.CreateInvoice(ctx, "Ada", []model.ItemRequest{{ProductID: p.ID, Quantity: 7}})
	require.NoError(t, err)
	assert.True(t, out.Queued)
	require.Len(t, out.Warnings, 1)
	assert.Equal(t, "insufficient stock for Pen: remaining 5, requested 7, will become -2", out.Warnings[0])
	assert.True(t, detail.Total.Equal(decimal.NewFromInt(70)))
	assert.Equal(t, epoch, detail.Invoice.CreatedAt)

	remaining, err := f.svc.RemainingStock(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), remaining)
}

func TestCreateInvoice_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	_, _, err := f.svc.CreateInvoice(ctx, "Ada", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = f.svc.CreateInvoice(ctx, "", []model.ItemRequest{{ProductID: "p", Quantity: 1}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = f.svc.CreateInvoice(ctx, "Ada", []model.ItemRequest{{ProductID: "p", Quantity: 0}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateInvoice_OnlineCompensatesOnItemFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.remote.FailOn("InsertItems", errors.New("boom"))

	_, _, err := f.svc.CreateInvoice(ctx, "Ada", []model.ItemRequest{{ProductID: "p", Quantity: 1}})
	require.Error(t, err)

	invs, err := f.base.Invoices(ctx)
	require.NoError(t, err)
	assert.Empty(t, invs)

	cached, err := f.store.Invoices().GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestUpdateInvoice_ReplacesItemsOffline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	p, _, err := f.svc.CreateProduct(ctx, "Pen", decimal.NewFromInt(10), 5)
	require.NoError(t, err)
	detail, _, err := f.svc.CreateInvoice(ctx, "Ada", []model.ItemRequest{{ProductID: p.ID, Quantity: 4}})
	require.NoError(t, err)

	// Own items are excluded from the check: 4 -> 5 fits in stock 5.
	name := "Grace"
	out, err := f.svc.UpdateInvoice(ctx, detail.Invoice.ID, &name, []model.ItemRequest{{ProductID: p.ID, Quantity: 5}})
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Empty(t, out.Warnings)

	got, err := f.svc.Invoice(ctx, detail.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", got.Invoice.CustomerName)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(5), got.Items[0].Quantity)

	remaining, err := f.svc.RemainingStock(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	items := f.queued(t)
	require.Len(t, items, 3)
	assert.Equal(t, intent.KindInvoiceUpdate, items[2].Kind)
}

func TestUpdateInvoice_OnlineRestoresItemsOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	detail, _, err := f.svc.CreateInvoice(ctx, "Ada", []model.ItemRequest{{ProductID: "p", Quantity: 1}})
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)

	f.remote.FailTimes("InsertItems", 1, errors.New("items rejected"))
	_, err = f.svc.UpdateInvoice(ctx, detail.Invoice.ID, nil, []model.ItemRequest{{ProductID: "p", Quantity: 3}})
	require.Error(t, err)
	assert.Equal(t, 3, f.remote.Calls("InsertItems"))

	remoteItems, err := f.base.ItemsOf(ctx, detail.Invoice.ID)
	require.NoError(t, err)
	require.Len(t, remoteItems, 1)
	assert.Equal(t, detail.Items[0].ID, remoteItems[0].ID)
	assert.Equal(t, int64(1), remoteItems[0].Quantity)

	cached, err := f.store.InvoiceItems(ctx, detail.Invoice.ID)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, int64(1), cached[0].Quantity)
	assert.Empty(t, f.queued(t))
}

func TestUpdateInvoice_NothingToUpdate(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.UpdateInvoice(context.Background(), "x", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteInvoice_Online(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	detail, _, err := f.svc.CreateInvoice(ctx, "Ada", []model.ItemRequest{{ProductID: "p", Quantity: 1}})
	require.NoError(t, err)

	out, err := f.svc.DeleteInvoice(ctx, detail.Invoice.ID)
	require.NoError(t, err)
	assert.False(t, out.Queued)

	items, err := f.base.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = f.svc.Invoice(ctx, detail.Invoice.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetItemPrice_SetAndClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	p, _, err := f.svc.CreateProduct(ctx, "Pen", decimal.NewFromInt(10), 5)
	require.NoError(t, err)
	detail, _, err := f.svc.CreateInvoice(ctx, "Ada", []model.ItemRequest{{ProductID: p.ID, Quantity: 2}})
	require.NoError(t, err)
	itemID := detail.Items[0].ID

	four := decimal.NewFromInt(4)
	_, err = f.svc.SetItemPrice(ctx, detail.Invoice.ID, itemID, &four)
	require.NoError(t, err)
	got, err := f.svc.Invoice(ctx, detail.Invoice.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(8)))

	out, err := f.svc.SetItemPrice(ctx, detail.Invoice.ID, itemID, nil)
	require.NoError(t, err)
	assert.True(t, out.Queued)
	got, err = f.svc.Invoice(ctx, detail.Invoice.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(20)))

	_, err = f.svc.SetItemPrice(ctx, "other", itemID, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProducts_RefreshOnlyWhenDrained(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	_, _, err := f.svc.CreateProduct(ctx, "Local", decimal.NewFromInt(1), 1)
	require.NoError(t, err)
	require.NoError(t, f.base.InsertProduct(ctx, model.Product{ID: "r1", Name: "Remote", Price: decimal.NewFromInt(2)}))

	// Online but with a queued change: the cache is served as is.
	f.monitor.Set(true)
	products, err := f.svc.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Local", products[0].Name)

	_, err = f.store.DeleteQueueItemsFrom(ctx, 0)
	require.NoError(t, err)
	products, err = f.svc.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Remote", products[0].Name)
}

func TestInvoices_NewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	clk := testutil.NewFakeClock(epoch)
	f.svc.clock = clk
	first, _, err := f.svc.CreateInvoice(ctx, "Ada", []model.ItemRequest{{ProductID: "p", Quantity: 1}})
	require.NoError(t, err)
	clk.Advance(time.Hour)
	second, _, err := f.svc.CreateInvoice(ctx, "Grace", []model.ItemRequest{{ProductID: "p", Quantity: 1}})
	require.NoError(t, err)

	all, err := f.svc.Invoices(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.Invoice.ID, all[0].Invoice.ID)
	assert.Equal(t, first.Invoice.ID, all[1].Invoice.ID)
}

package remote

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invsync/internal/model"
)

func openTestRemote(t *testing.T) *SQL {
	t.Helper()
	r, err := OpenSQL(DriverSQLite, filepath.Join(t.TempDir(), "remote.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	require.NoError(t, r.Migrate(context.Background()))
	return r
}

func TestSQL_ProductLifecycle(t *testing.T) {
	ctx := context.Background()
	r := openTestRemote(t)

	p := model.Product{ID: "p1", Name: "Widget", Price: decimal.RequireFromString("2.50"), Stock: 10}
	require.NoError(t, r.InsertProduct(ctx, p))

	// A replayed insert is a no-op.
	require.NoError(t, r.InsertProduct(ctx, p))

	stock := int64(7)
	require.NoError(t, r.UpdateProduct(ctx, "p1", model.ProductPatch{Stock: &stock}))

	got, err := r.Products(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Widget", got[0].Name)
	assert.True(t, got[0].Price.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, int64(7), got[0].Stock)

	require.NoError(t, r.DeleteProduct(ctx, "p1"))
	got, err = r.Products(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQL_UpdateMissingRowIsNotAnError(t *testing.T) {
	ctx := context.Background()
	r := openTestRemote(t)

	name := "x"
	assert.NoError(t, r.UpdateProduct(ctx, "missing", model.ProductPatch{Name: &name}))
	assert.NoError(t, r.DeleteInvoice(ctx, "missing"))
}

func TestSQL_EmptyPatchIsNoop(t *testing.T) {
	r := openTestRemote(t)
	assert.NoError(t, r.UpdateProduct(context.Background(), "p1", model.ProductPatch{}))
}

func TestSQL_InvoiceAndItems(t *testing.T) {
	ctx := context.Background()
	r := openTestRemote(t)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.InsertInvoice(ctx, model.Invoice{ID: "inv1", CustomerName: "Ada", CreatedAt: created}))
	require.NoError(t, r.InsertItems(ctx, []model.InvoiceItem{
		{ID: "it1", InvoiceID: "inv1", ProductID: "p1", Quantity: 2},
		{ID: "it2", InvoiceID: "inv1", ProductID: "p2", Quantity: 1,
			CustomPrice: decimal.NewNullDecimal(decimal.RequireFromString("9.99"))},
	}))
	require.NoError(t, r.InsertItems(ctx, nil))

	invs, err := r.Invoices(ctx)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.True(t, invs[0].CreatedAt.Equal(created))

	items, err := r.ItemsOf(ctx, "inv1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.False(t, items[0].CustomPrice.Valid)
	assert.True(t, items[1].CustomPrice.Valid)

	require.NoError(t, r.UpdateItemPrice(ctx, "it1", "inv1", decimal.NewNullDecimal(decimal.NewFromInt(3))))
	// Scoped by invoice: a mismatched invoice id changes nothing.
	require.NoError(t, r.UpdateItemPrice(ctx, "it2", "other", decimal.NullDecimal{}))

	items, err = r.ItemsOf(ctx, "inv1")
	require.NoError(t, err)
	assert.True(t, items[0].CustomPrice.Decimal.Equal(decimal.NewFromInt(3)))
	assert.True(t, items[1].CustomPrice.Valid)

	require.NoError(t, r.UpdateInvoiceCustomer(ctx, "inv1", "Grace"))
	invs, err = r.Invoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Grace", invs[0].CustomerName)

	one, err := r.Invoice(ctx, "inv1")
	require.NoError(t, err)
	assert.Equal(t, "Grace", one.CustomerName)
	assert.True(t, one.CreatedAt.Equal(created))

	_, err = r.Invoice(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsRemote(err))

	require.NoError(t, r.DeleteItemsOf(ctx, "inv1"))
	all, err := r.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQL_SubscribeReceivesOwnWrites(t *testing.T) {
	ctx := context.Background()
	r := openTestRemote(t)

	sub := r.Subscribe(TableProducts)
	defer sub.Close()

	require.NoError(t, r.InsertProduct(ctx, model.Product{ID: "p1", Name: "A", Price: decimal.NewFromInt(1)}))

	select {
	case c := <-sub.C():
		assert.Equal(t, Change{Table: TableProducts, Op: OpInsert, Key: "p1"}, c)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}

func TestSQL_SubscribeUnknownTable(t *testing.T) {
	r := openTestRemote(t)
	sub := r.Subscribe(Table("nope"))
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestSQL_ErrorsAreStructured(t *testing.T) {
	ctx := context.Background()
	r := openTestRemote(t)
	require.NoError(t, r.db.Close())

	_, err := r.Products(ctx)
	require.Error(t, err)
	assert.True(t, IsRemote(err))

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "select", re.Op)
	assert.Equal(t, TableProducts, re.Table)
}

func TestRebind(t *testing.T) {
	pg := NewSQL(nil, DriverPostgres, 0)
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id = $2", pg.rebind("UPDATE t SET a = ? WHERE id = ?"))

	my := NewSQL(nil, DriverMySQL, 0)
	assert.Equal(t, "SELECT ?", my.rebind("SELECT ?"))
}

func TestInsertIgnoringDuplicate(t *testing.T) {
	my := NewSQL(nil, DriverMySQL, 0)
	assert.Equal(t,
		"INSERT INTO products (id, name) VALUES (?, ?) ON DUPLICATE KEY UPDATE id = id",
		my.insertIgnoringDuplicate(TableProducts, []string{"id", "name"}))

	pg := NewSQL(nil, DriverPostgres, 0)
	assert.Equal(t,
		"INSERT INTO products (id) VALUES (?) ON CONFLICT (id) DO NOTHING",
		pg.insertIgnoringDuplicate(TableProducts, []string{"id"}))
}

func TestOpenSQL_RejectsUnknownDriver(t *testing.T) {
	_, err := OpenSQL("oracle", "x", 0)
	assert.Error(t, err)
}

func TestOpenSQL_MySQLEnablesParseTime(t *testing.T) {
	// sql.Open does not connect, so this only exercises DSN handling.
	r, err := OpenSQL(DriverMySQL, "user:pw@tcp(127.0.0.1:3306)/inv", time.Second)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, DriverMySQL, r.driver)

	_, err = OpenSQL(DriverMySQL, "not a dsn", 0)
	assert.Error(t, err)
}

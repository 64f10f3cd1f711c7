package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/remote"
	"github.com/roach88/invsync/internal/store"
)

// OpenStore opens a fresh local store in a temp dir.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// OpenRemote opens a migrated SQLite-backed remote in a temp dir.
func OpenRemote(t *testing.T) *remote.SQL {
	t.Helper()
	r, err := remote.OpenSQL(remote.DriverSQLite, filepath.Join(t.TempDir(), "remote.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open remote: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	if err := r.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate remote: %v", err)
	}
	return r
}

// FaultyRemote wraps a remote.Client with failure injection, a hold gate and
// per-method call counts. Method names are the remote.Client method names.
type FaultyRemote struct {
	remote.Client

	mu    sync.Mutex
	fail  map[string]error
	times map[string]int
	calls map[string]int
	gate  chan struct{}
}

// NewFaultyRemote wraps c.
func NewFaultyRemote(c remote.Client) *FaultyRemote {
	return &FaultyRemote{
		Client: c,
		fail:   make(map[string]error),
		times:  make(map[string]int),
		calls:  make(map[string]int),
	}
}

// FailOn makes every call to method fail with err until Heal.
func (f *FaultyRemote) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = err
	delete(f.times, method)
}

// FailTimes makes the next n calls to method fail with err.
func (f *FaultyRemote) FailTimes(method string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = err
	f.times[method] = n
}

// Heal clears every injected failure.
func (f *FaultyRemote) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]error)
	f.times = make(map[string]int)
}

// Hold blocks every later call until the returned release is invoked.
func (f *FaultyRemote) Hold() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.gate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times method was called.
func (f *FaultyRemote) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FaultyRemote) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	gate := f.gate
	err := f.fail[method]
	if n, limited := f.times[method]; limited && err != nil {
		if n <= 1 {
			delete(f.fail, method)
			delete(f.times, method)
		} else {
			f.times[method] = n - 1
		}
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return &remote.Error{Op: method, Err: err}
	}
	return nil
}

func (f *FaultyRemote) InsertProduct(ctx context.Context, p model.Product) error {
	if err := f.enter(ctx, "InsertProduct"); err != nil {
		return err
	}
	return f.Client.InsertProduct(ctx, p)
}

func (f *FaultyRemote) UpdateProduct(ctx context.Context, id string, patch model.ProductPatch) error {
	if err := f.enter(ctx, "UpdateProduct"); err != nil {
		return err
	}
	return f.Client.UpdateProduct(ctx, id, patch)
}

func (f *FaultyRemote) DeleteProduct(ctx context.Context, id string) error {
	if err := f.enter(ctx, "DeleteProduct"); err != nil {
		return err
	}
	return f.Client.DeleteProduct(ctx, id)
}

func (f *FaultyRemote) Products(ctx context.Context) ([]model.Product, error) {
	if err := f.enter(ctx, "Products"); err != nil {
		return nil, err
	}
	return f.Client.Products(ctx)
}

func (f *FaultyRemote) InsertInvoice(ctx context.Context, inv model.Invoice) error {
	if err := f.enter(ctx, "InsertInvoice"); err != nil {
		return err
	}
	return f.Client.InsertInvoice(ctx, inv)
}

func (f *FaultyRemote) UpdateInvoiceCustomer(ctx context.Context, id, name string) error {
	if err := f.enter(ctx, "UpdateInvoiceCustomer"); err != nil {
		return err
	}
	return f.Client.UpdateInvoiceCustomer(ctx, id, name)
}

func (f *FaultyRemote) DeleteInvoice(ctx context.Context, id string) error {
	if err := f.enter(ctx, "DeleteInvoice"); err != nil {
		return err
	}
	return f.Client.DeleteInvoice(ctx, id)
}

func (f *FaultyRemote) Invoice(ctx context.Context, id string) (model.Invoice, error) {
	if err := f.enter(ctx, "Invoice"); err != nil {
		return model.Invoice{}, err
	}
	return f.Client.Invoice(ctx, id)
}

func (f *FaultyRemote) Invoices(ctx context.Context) ([]model.Invoice, error) {
	if err := f.enter(ctx, "Invoices"); err != nil {
		return nil, err
	}
	return f.Client.Invoices(ctx)
}

func (f *FaultyRemote) InsertItems(ctx context.Context, items []model.InvoiceItem) error {
	if err := f.enter(ctx, "InsertItems"); err != nil {
		return err
	}
	return f.Client.InsertItems(ctx, items)
}

func (f *FaultyRemote) ItemsOf(ctx context.Context, invoiceID string) ([]model.InvoiceItem, error) {
	if err := f.enter(ctx, "ItemsOf"); err != nil {
		return nil, err
	}
	return f.Client.ItemsOf(ctx, invoiceID)
}

func (f *FaultyRemote) Items(ctx context.Context) ([]model.InvoiceItem, error) {
	if err := f.enter(ctx, "Items"); err != nil {
		return nil, err
	}
	return f.Client.Items(ctx)
}

func (f *FaultyRemote) DeleteItemsOf(ctx context.Context, invoiceID string) error {
	if err := f.enter(ctx, "DeleteItemsOf"); err != nil {
		return err
	}
	return f.Client.DeleteItemsOf(ctx, invoiceID)
}

func (f *FaultyRemote) UpdateItemPrice(ctx context.Context, itemID, invoiceID string, price decimal.NullDecimal) error {
	if err := f.enter(ctx, "UpdateItemPrice"); err != nil {
		return err
	}
	return f.Client.UpdateItemPrice(ctx, itemID, invoiceID, price)
}

func (f *FaultyRemote) Ping(ctx context.Context) error {
	if err := f.enter(ctx, "Ping"); err != nil {
		return err
	}
	return f.Client.Ping(ctx)
}

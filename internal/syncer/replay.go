package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/invsync/internal/intent"
	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/queue"
	"github.com/roach88/invsync/internal/remote"
	"github.com/roach88/invsync/internal/stock"
)

// replay applies one queued item to the remote store.
func (m *Manager) replay(ctx context.Context, it queue.Item) error {
	in, err := it.Intent()
	if err != nil {
		return &ReplayError{Kind: it.Kind, ItemID: it.ID, Step: "decode", Err: err}
	}

	fail := func(step string, err error) error {
		return &ReplayError{Kind: it.Kind, ItemID: it.ID, Step: step, Err: err}
	}

	switch in := in.(type) {
	case intent.ProductCreate:
		if err := m.remote.InsertProduct(ctx, in.Product); err != nil {
			return fail("insert", err)
		}

	case intent.ProductUpdate:
		if err := m.remote.UpdateProduct(ctx, in.ID, in.Updates); err != nil {
			return fail("update", err)
		}

	case intent.ProductDelete:
		if err := m.remote.DeleteProduct(ctx, in.ID); err != nil {
			return fail("delete", err)
		}

	case intent.InvoiceCreate:
		m.advise(ctx, in.Invoice.ID, in.Items)
		if err := m.remote.InsertInvoice(ctx, in.Invoice); err != nil {
			return fail("insert invoice", err)
		}
		if err := m.remote.InsertItems(ctx, in.Items); err != nil {
			// Leave no header without items behind.
			if cerr := m.remote.DeleteInvoice(ctx, in.Invoice.ID); cerr != nil {
				slog.Error("compensating invoice delete failed", "invoice", in.Invoice.ID, "error", cerr)
			}
			return fail("insert items", err)
		}

	case intent.InvoiceUpdate:
		if in.CustomerName != nil {
			if err := m.remote.UpdateInvoiceCustomer(ctx, in.ID, *in.CustomerName); err != nil {
				return fail("update invoice", err)
			}
		}
		if in.HasItems() {
			m.advise(ctx, in.ID, in.Items)
			before, err := m.remote.ItemsOf(ctx, in.ID)
			if err != nil {
				return fail("read items", err)
			}
			if err := m.remote.DeleteItemsOf(ctx, in.ID); err != nil {
				return fail("delete items", err)
			}
			if err := m.remote.InsertItems(ctx, in.Items); err != nil {
				// Put the previous items back rather than leave the invoice empty.
				if len(before) > 0 {
					if cerr := m.remote.InsertItems(ctx, before); cerr != nil {
						slog.Error("restoring invoice items failed", "invoice", in.ID, "error", cerr)
					}
				}
				return fail("insert items", err)
			}
			m.stock.ItemsChanged(ctx, in.ID, before, in.Items)
		}
		if err := m.refreshInvoice(ctx, in.ID); err != nil {
			// The remote write landed; a stale cache is repaired by the next refresh.
			slog.Warn("invoice refresh failed", "invoice", in.ID, "error", err)
		}

	case intent.InvoiceDelete:
		before, err := m.remote.ItemsOf(ctx, in.ID)
		if err != nil {
			return fail("read items", err)
		}
		if err := m.remote.DeleteItemsOf(ctx, in.ID); err != nil {
			return fail("delete items", err)
		}
		if err := m.remote.DeleteInvoice(ctx, in.ID); err != nil {
			return fail("delete invoice", err)
		}
		m.stock.ItemsChanged(ctx, in.ID, before, nil)

	case intent.ItemPriceUpdate:
		if err := m.remote.UpdateItemPrice(ctx, in.ItemID, in.InvoiceID, in.CustomPrice); err != nil {
			return fail("update price", err)
		}

	default:
		return fail("dispatch", fmt.Errorf("%w: %s", intent.ErrUnknownKind, it.Kind))
	}
	return nil
}

// advise logs stock warnings for an invoice being replayed. It never fails
// the replay.
func (m *Manager) advise(ctx context.Context, invoiceID string, items []model.InvoiceItem) {
	report, err := m.stock.Advise(ctx, invoiceID, stock.LinesOf(items))
	if err != nil {
		slog.Warn("stock check failed", "invoice", invoiceID, "error", err)
		return
	}
	for _, w := range report.Warnings {
		slog.Warn("stock warning", "invoice", invoiceID, "warning", w)
	}
}

// refreshInvoice reloads one invoice and its items from the remote into the
// cache. Other cached invoices are untouched, so unsynced local rows survive.
func (m *Manager) refreshInvoice(ctx context.Context, invoiceID string) error {
	inv, err := m.remote.Invoice(ctx, invoiceID)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	items, err := m.remote.ItemsOf(ctx, invoiceID)
	if err != nil {
		return err
	}
	if err := m.store.Invoices().Put(ctx, inv.Normalize()); err != nil {
		return err
	}
	return m.store.ReplaceInvoiceItems(ctx, invoiceID, items)
}

// refreshIfDrained republishes the whole cache from the remote, but only
// when the queue is empty: with items still queued, the remote lacks local
// changes and a refresh would hide them.
func (m *Manager) refreshIfDrained(ctx context.Context) error {
	n, err := m.queue.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return m.RefreshCache(ctx)
}

// RefreshCache replaces cached products, invoices and items with the
// remote's rows.
func (m *Manager) RefreshCache(ctx context.Context) error {
	products, err := m.remote.Products(ctx)
	if err != nil {
		return fmt.Errorf("refresh products: %w", err)
	}
	invoices, err := m.remote.Invoices(ctx)
	if err != nil {
		return fmt.Errorf("refresh invoices: %w", err)
	}
	items, err := m.remote.Items(ctx)
	if err != nil {
		return fmt.Errorf("refresh items: %w", err)
	}

	for i := range products {
		products[i] = products[i].Normalize()
	}
	for i := range invoices {
		invoices[i] = invoices[i].Normalize()
	}
	if err := m.store.Products().ReplaceAll(ctx, products); err != nil {
		return fmt.Errorf("refresh products: %w", err)
	}
	if err := m.store.ReplaceInvoices(ctx, invoices, items); err != nil {
		return fmt.Errorf("refresh invoices: %w", err)
	}
	slog.Debug("cache refreshed", "products", len(products), "invoices", len(invoices), "items", len(items))
	return nil
}

// onRemoteChange refreshes the cache after a remote change notification,
// unless a pass is running or local changes are still queued.
func (m *Manager) onRemoteChange(ctx context.Context, c remote.Change) {
	if !m.syncing.CompareAndSwap(false, true) {
		return
	}
	defer m.syncing.Store(false)

	slog.Debug("remote change", "table", c.Table, "op", c.Op, "key", c.Key)
	if err := m.refreshIfDrained(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("cache refresh failed", "error", err)
	}
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/invsync/internal/model"
)

// AddInvoice inserts an invoice together with its items in one transaction.
func (s *Store) AddInvoice(ctx context.Context, inv model.Invoice, items []model.InvoiceItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.invoices.add(ctx, tx, inv); err != nil {
			return err
		}
		for _, it := range items {
			if err := s.items.add(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	})
}

// InvoiceItems returns the cached items of one invoice.
func (s *Store) InvoiceItems(ctx context.Context, invoiceID string) ([]model.InvoiceItem, error) {
	return s.items.Find(ctx, "invoice_id", invoiceID)
}

// ReplaceInvoiceItems swaps every item of an invoice for items, atomically.
func (s *Store) ReplaceInvoiceItems(ctx context.Context, invoiceID string, items []model.InvoiceItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = ?`, invoiceID); err != nil {
			return fmt.Errorf("replace items of %q: %w", invoiceID, err)
		}
		for _, it := range items {
			if err := s.items.add(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteInvoice removes an invoice; its items go with it via ON DELETE CASCADE.
func (s *Store) DeleteInvoice(ctx context.Context, invoiceID string) error {
	return s.invoices.Delete(ctx, invoiceID)
}

// SetItemPrice sets or clears one item's custom price, scoped by invoice.
func (s *Store) SetItemPrice(ctx context.Context, invoiceID, itemID string, price decimal.NullDecimal) error {
	var custom any
	if price.Valid {
		custom = price.Decimal.String()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoice_items SET custom_price = ?
		WHERE id = ? AND invoice_id = ?
	`, custom, itemID, invoiceID)
	if err != nil {
		return fmt.Errorf("set price of item %q: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set price of item %q: rows affected: %w", itemID, err)
	}
	if n == 0 {
		return fmt.Errorf("item %q of invoice %q: %w", itemID, invoiceID, ErrNotFound)
	}
	return nil
}

// ReplaceInvoices clears invoices and invoice_items and bulk-writes the given
// rows, all in one transaction. Used to republish the cache from the remote
// store. Items whose invoice is not in invoices are dropped: the remote has
// no foreign key between them and the cache does.
func (s *Store) ReplaceInvoices(ctx context.Context, invoices []model.Invoice, items []model.InvoiceItem) error {
	known := make(map[string]bool, len(invoices))
	for _, inv := range invoices {
		known[inv.ID] = true
	}
	kept := make([]model.InvoiceItem, 0, len(items))
	for _, it := range items {
		if known[it.InvoiceID] {
			kept = append(kept, it)
		}
	}
	items = kept

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.items.clear(ctx, tx); err != nil {
			return err
		}
		if err := s.invoices.clear(ctx, tx); err != nil {
			return err
		}
		if err := s.invoices.putAll(ctx, tx, invoices); err != nil {
			return err
		}
		return s.items.putAll(ctx, tx, items)
	})
}

// ProductReferenced reports whether any cached invoice item references the
// product.
func (s *Store) ProductReferenced(ctx context.Context, productID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoice_items WHERE product_id = ?`, productID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check references to %q: %w", productID, err)
	}
	return n > 0, nil
}

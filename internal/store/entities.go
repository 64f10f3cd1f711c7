package store

import (
	"database/sql"
	"time"

	"github.com/roach88/invsync/internal/model"
)

func newProductTable(db *sql.DB) *Table[model.Product] {
	return &Table[model.Product]{
		db:      db,
		name:    "products",
		columns: []string{"id", "name", "price", "stock"},
		orderBy: "name ASC, id ASC",
		key:     func(p model.Product) string { return p.ID },
		values: func(p model.Product) []any {
			return []any{p.ID, p.Name, p.Price.String(), p.Stock}
		},
		scan: func(r rowScanner) (model.Product, error) {
			var p model.Product
			err := r.Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
			return p, err
		},
	}
}

// Invoice timestamps are stored as unix seconds.
func newInvoiceTable(db *sql.DB) *Table[model.Invoice] {
	return &Table[model.Invoice]{
		db:      db,
		name:    "invoices",
		columns: []string{"id", "customer_name", "created_at"},
		orderBy: "created_at DESC, id ASC",
		key:     func(inv model.Invoice) string { return inv.ID },
		values: func(inv model.Invoice) []any {
			return []any{inv.ID, inv.CustomerName, inv.CreatedAt.Unix()}
		},
		scan: func(r rowScanner) (model.Invoice, error) {
			var inv model.Invoice
			var created int64
			if err := r.Scan(&inv.ID, &inv.CustomerName, &created); err != nil {
				return inv, err
			}
			inv.CreatedAt = time.Unix(created, 0).UTC()
			return inv, nil
		},
	}
}

func newItemTable(db *sql.DB) *Table[model.InvoiceItem] {
	return &Table[model.InvoiceItem]{
		db:      db,
		name:    "invoice_items",
		columns: []string{"id", "invoice_id", "product_id", "quantity", "custom_price"},
		orderBy: "rowid ASC",
		key:     func(it model.InvoiceItem) string { return it.ID },
		values: func(it model.InvoiceItem) []any {
			var custom any
			if it.CustomPrice.Valid {
				custom = it.CustomPrice.Decimal.String()
			}
			return []any{it.ID, it.InvoiceID, it.ProductID, it.Quantity, custom}
		},
		scan: func(r rowScanner) (model.InvoiceItem, error) {
			var it model.InvoiceItem
			err := r.Scan(&it.ID, &it.InvoiceID, &it.ProductID, &it.Quantity, &it.CustomPrice)
			return it, err
		},
	}
}

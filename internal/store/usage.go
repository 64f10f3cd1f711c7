package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// rebuildUsageSQL recomputes product_usage from a full scan of invoice_items.
const rebuildUsageSQL = `
	DELETE FROM product_usage;
	INSERT INTO product_usage (product_id, used)
	SELECT product_id, SUM(quantity) FROM invoice_items GROUP BY product_id;
`

// RemainingStock returns nominal stock minus the quantity used by every cached
// invoice item for the product. The result may be negative.
// Returns ErrNotFound if the product is not cached.
func (s *Store) RemainingStock(ctx context.Context, productID string) (int64, error) {
	return s.RemainingStockExcluding(ctx, productID, "")
}

// RemainingStockExcluding is RemainingStock ignoring the items of one invoice.
// An empty invoiceID excludes nothing.
func (s *Store) RemainingStockExcluding(ctx context.Context, productID, invoiceID string) (int64, error) {
	var remaining int64
	err := s.db.QueryRowContext(ctx, `
		SELECT p.stock - COALESCE(u.used, 0) + (
			SELECT COALESCE(SUM(i.quantity), 0) FROM invoice_items i
			WHERE i.invoice_id = ? AND i.product_id = p.id
		)
		FROM products p
		LEFT JOIN product_usage u ON u.product_id = p.id
		WHERE p.id = ?
	`, invoiceID, productID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("product %q: %w", productID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("remaining stock of %q: %w", productID, err)
	}
	return remaining, nil
}

// RemainingStockAll returns remaining stock for every cached product.
func (s *Store) RemainingStockAll(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.stock - COALESCE(u.used, 0)
		FROM products p
		LEFT JOIN product_usage u ON u.product_id = p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query remaining stock: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var remaining int64
		if err := rows.Scan(&id, &remaining); err != nil {
			return nil, fmt.Errorf("scan remaining stock: %w", err)
		}
		out[id] = remaining
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate remaining stock: %w", err)
	}
	return out, nil
}

// UsedQuantity returns the aggregate used quantity for a product (0 if none).
func (s *Store) UsedQuantity(ctx context.Context, productID string) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx,
		`SELECT used FROM product_usage WHERE product_id = ?`, productID,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("used quantity of %q: %w", productID, err)
	}
	return used, nil
}

// RebuildUsage recomputes the product_usage aggregate by full scan.
func (s *Store) RebuildUsage(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, rebuildUsageSQL); err != nil {
			return fmt.Errorf("rebuild usage: %w", err)
		}
		return nil
	})
}

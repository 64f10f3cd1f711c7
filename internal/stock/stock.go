// Package stock derives remaining stock and produces advisory warnings for
// invoice operations.
//
// Remaining stock = nominal product stock - sum of quantities of every cached
// invoice item referencing the product. It may be negative.
//
// Advise never blocks an operation: its Report is always Valid. Shortfalls
// surface as human-readable warnings and the caller proceeds regardless.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/store"
)

// Line is one requested product quantity.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// LinesOf projects invoice items onto lines.
func LinesOf(items []model.InvoiceItem) []Line {
	lines := make([]Line, len(items))
	for i, it := range items {
		lines[i] = Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return lines
}

// Report is the outcome of Advise. Valid is always true.
type Report struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

// Engine computes remaining stock from the local store.
type Engine struct {
	store *store.Store
}

// New creates an engine reading s.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Remaining returns remaining stock for one product. Returns
// store.ErrNotFound for a product that is not cached.
func (e *Engine) Remaining(ctx context.Context, productID string) (int64, error) {
	return e.store.RemainingStock(ctx, productID)
}

// RemainingAll returns remaining stock for every cached product.
func (e *Engine) RemainingAll(ctx context.Context) (map[string]int64, error) {
	return e.store.RemainingStockAll(ctx)
}

// Advise checks each line against current remaining stock, ignoring items
// already cached for invoiceID (empty for a new invoice). A line warns when
// its quantity exceeds remaining stock. Unknown products and non-positive
// quantities are reported in Errors. Neither makes the report invalid.
//
// Only storage failures are returned as errors.
func (e *Engine) Advise(ctx context.Context, invoiceID string, lines []Line) (Report, error) {
	report := Report{Valid: true, Warnings: []string{}, Errors: []string{}}

	for _, l := range lines {
		if l.Quantity <= 0 {
			report.Errors = append(report.Errors,
				fmt.Sprintf("invalid quantity %d for product %s", l.Quantity, l.ProductID))
			continue
		}

		product, err := e.store.Products().Get(ctx, l.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			report.Errors = append(report.Errors, fmt.Sprintf("unknown product %s", l.ProductID))
			continue
		}
		if err != nil {
			return report, fmt.Errorf("advise: %w", err)
		}

		remaining, err := e.store.RemainingStockExcluding(ctx, l.ProductID, invoiceID)
		if err != nil {
			return report, fmt.Errorf("advise: %w", err)
		}
		if l.Quantity > remaining {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"insufficient stock for %s: remaining %d, requested %d, will become %d",
				product.Name, remaining, l.Quantity, remaining-l.Quantity))
		}
	}

	return report, nil
}

// Delta returns, per product, how much used quantity changes when an
// invoice's items go from before to after. Zero entries are omitted.
func Delta(before, after []model.InvoiceItem) map[string]int64 {
	d := make(map[string]int64)
	for _, it := range before {
		d[it.ProductID] -= it.Quantity
	}
	for _, it := range after {
		d[it.ProductID] += it.Quantity
	}
	for k, v := range d {
		if v == 0 {
			delete(d, k)
		}
	}
	return d
}

// ItemsChanged is the hook invoked when an invoice's items are replaced or
// removed. The usage aggregate is maintained by the store in the same
// transaction as the item write, so there is nothing to apply here; the
// delta is logged for audit.
func (e *Engine) ItemsChanged(ctx context.Context, invoiceID string, before, after []model.InvoiceItem) {
	d := Delta(before, after)
	if len(d) == 0 {
		return
	}
	slog.DebugContext(ctx, "invoice stock usage changed", "invoice", invoiceID, "delta", d)
}

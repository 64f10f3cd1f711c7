package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/roach88/invsync/internal/intent"
	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/stock"
	"github.com/roach88/invsync/internal/store"
)

// InvoiceDetail is an invoice with its items and computed total.
type InvoiceDetail struct {
	Invoice model.Invoice       `json:"invoice"`
	Items   []model.InvoiceItem `json:"items"`
	Total   decimal.Decimal     `json:"total"`
}

func (s *Service) buildItems(invoiceID string, reqs []model.ItemRequest) ([]model.InvoiceItem, error) {
	if len(reqs) == 0 {
		return nil, invalid("an invoice needs at least one item")
	}
	items := make([]model.InvoiceItem, len(reqs))
	for i, r := range reqs {
		if r.ProductID == "" {
			return nil, invalid("item %d: product id is required", i+1)
		}
		if r.Quantity <= 0 {
			return nil, invalid("item %d: quantity must be positive", i+1)
		}
		items[i] = model.InvoiceItem{
			ID:          s.ids.NewID(),
			InvoiceID:   invoiceID,
			ProductID:   r.ProductID,
			Quantity:    r.Quantity,
			CustomPrice: r.CustomPrice,
		}
	}
	return items, nil
}

func (s *Service) advise(ctx context.Context, invoiceID string, items []model.InvoiceItem) ([]string, error) {
	report, err := s.stock.Advise(ctx, invoiceID, stock.LinesOf(items))
	if err != nil {
		return nil, err
	}
	// Unknown products do not block either; they surface next to the
	// shortfalls.
	return append(report.Warnings, report.Errors...), nil
}

// CreateInvoice creates an invoice with its items. Stock shortfalls are
// returned as warnings and never block.
func (s *Service) CreateInvoice(ctx context.Context, customer string, reqs []model.ItemRequest) (InvoiceDetail, Outcome, error) {
	inv := model.Invoice{
		ID:           s.ids.NewID(),
		CustomerName: customer,
		CreatedAt:    s.clock.Now(),
	}.Normalize()
	if inv.CustomerName == "" {
		return InvoiceDetail{}, Outcome{}, invalid("customer name is required")
	}
	items, err := s.buildItems(inv.ID, reqs)
	if err != nil {
		return InvoiceDetail{}, Outcome{}, err
	}
	warnings, err := s.advise(ctx, "", items)
	if err != nil {
		return InvoiceDetail{}, Outcome{}, err
	}

	direct, err := s.direct(ctx)
	if err != nil {
		return InvoiceDetail{}, Outcome{}, err
	}
	var out Outcome
	if direct {
		if err := s.remote.InsertInvoice(ctx, inv); err != nil {
			return InvoiceDetail{}, Outcome{}, err
		}
		if err := s.remote.InsertItems(ctx, items); err != nil {
			// Mirror the replay path: no remote header without items.
			if cerr := s.remote.DeleteInvoice(ctx, inv.ID); cerr != nil {
				slog.Error("compensating invoice delete failed", "invoice", inv.ID, "error", cerr)
			}
			return InvoiceDetail{}, Outcome{}, err
		}
		if err := s.store.AddInvoice(ctx, inv, items); err != nil {
			return InvoiceDetail{}, Outcome{}, fmt.Errorf("mirror invoice: %w", err)
		}
	} else {
		if err := s.store.AddInvoice(ctx, inv, items); err != nil {
			return InvoiceDetail{}, Outcome{}, err
		}
		out, err = s.enqueue(ctx, intent.InvoiceCreate{Invoice: inv, Items: items})
		if err != nil {
			return InvoiceDetail{}, Outcome{}, err
		}
	}
	out.Warnings = warnings

	detail, err := s.detail(ctx, inv, items)
	return detail, out, err
}

// UpdateInvoice renames the customer when customer is non-nil and replaces
// every item when reqs is non-nil.
func (s *Service) UpdateInvoice(ctx context.Context, id string, customer *string, reqs []model.ItemRequest) (Outcome, error) {
	if customer == nil && reqs == nil {
		return Outcome{}, invalid("nothing to update")
	}
	inv, err := s.store.Invoices().Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if customer != nil {
		name := model.NormalizeName(*customer)
		if name == "" {
			return Outcome{}, invalid("customer name is required")
		}
		customer = &name
		inv.CustomerName = name
	}

	var items []model.InvoiceItem
	var warnings []string
	if reqs != nil {
		if items, err = s.buildItems(id, reqs); err != nil {
			return Outcome{}, err
		}
		if warnings, err = s.advise(ctx, id, items); err != nil {
			return Outcome{}, err
		}
	}

	direct, err := s.direct(ctx)
	if err != nil {
		return Outcome{}, err
	}
	var out Outcome
	if direct {
		if customer != nil {
			if err := s.remote.UpdateInvoiceCustomer(ctx, id, *customer); err != nil {
				return Outcome{}, err
			}
		}
		if items != nil {
			previous, err := s.remote.ItemsOf(ctx, id)
			if err != nil {
				return Outcome{}, err
			}
			if err := s.remote.DeleteItemsOf(ctx, id); err != nil {
				return Outcome{}, err
			}
			if err := s.remote.InsertItems(ctx, items); err != nil {
				if len(previous) > 0 {
					if cerr := s.remote.InsertItems(ctx, previous); cerr != nil {
						slog.Error("restoring invoice items failed", "invoice", id, "error", cerr)
					}
				}
				return Outcome{}, err
			}
		}
	}

	before, err := s.store.InvoiceItems(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.store.Invoices().Put(ctx, inv); err != nil {
		return Outcome{}, err
	}
	if items != nil {
		if err := s.store.ReplaceInvoiceItems(ctx, id, items); err != nil {
			return Outcome{}, err
		}
		s.stock.ItemsChanged(ctx, id, before, items)
	}

	if !direct {
		out, err = s.enqueue(ctx, intent.InvoiceUpdate{ID: id, CustomerName: customer, Items: items})
		if err != nil {
			return Outcome{}, err
		}
	}
	out.Warnings = warnings
	return out, nil
}

// DeleteInvoice deletes an invoice and its items.
func (s *Service) DeleteInvoice(ctx context.Context, id string) (Outcome, error) {
	before, err := s.store.InvoiceItems(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := s.store.Invoices().Get(ctx, id); err != nil {
		return Outcome{}, err
	}

	direct, err := s.direct(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if direct {
		if err := s.remote.DeleteItemsOf(ctx, id); err != nil {
			return Outcome{}, err
		}
		if err := s.remote.DeleteInvoice(ctx, id); err != nil {
			return Outcome{}, err
		}
	}
	if err := s.store.DeleteInvoice(ctx, id); err != nil {
		return Outcome{}, err
	}
	s.stock.ItemsChanged(ctx, id, before, nil)

	if direct {
		return Outcome{}, nil
	}
	return s.enqueue(ctx, intent.InvoiceDelete{ID: id})
}

// SetItemPrice sets one item's custom price, or clears it when price is nil.
func (s *Service) SetItemPrice(ctx context.Context, invoiceID, itemID string, price *decimal.Decimal) (Outcome, error) {
	if price != nil && price.IsNegative() {
		return Outcome{}, invalid("price must not be negative")
	}
	custom := model.PriceOverride(price)

	item, err := s.store.Items().Get(ctx, itemID)
	if err != nil {
		return Outcome{}, err
	}
	if item.InvoiceID != invoiceID {
		return Outcome{}, fmt.Errorf("item %q of invoice %q: %w", itemID, invoiceID, store.ErrNotFound)
	}

	direct, err := s.direct(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if direct {
		if err := s.remote.UpdateItemPrice(ctx, itemID, invoiceID, custom); err != nil {
			return Outcome{}, err
		}
	}
	if err := s.store.SetItemPrice(ctx, invoiceID, itemID, custom); err != nil {
		return Outcome{}, err
	}
	if direct {
		return Outcome{}, nil
	}
	return s.enqueue(ctx, intent.ItemPriceUpdate{ItemID: itemID, InvoiceID: invoiceID, CustomPrice: custom})
}

// Invoices lists invoices with their items and totals, newest first. Online
// with nothing queued, the cache is first refreshed from the remote store.
func (s *Service) Invoices(ctx context.Context) ([]InvoiceDetail, error) {
	if ok, err := s.direct(ctx); err != nil {
		return nil, err
	} else if ok {
		if err := s.refreshInvoices(ctx); err != nil {
			return nil, err
		}
	}

	invoices, err := s.store.Invoices().GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})

	out := make([]InvoiceDetail, 0, len(invoices))
	for _, inv := range invoices {
		items, err := s.store.InvoiceItems(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		d, err := s.detail(ctx, inv, items)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Invoice returns one cached invoice.
func (s *Service) Invoice(ctx context.Context, id string) (InvoiceDetail, error) {
	inv, err := s.store.Invoices().Get(ctx, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	items, err := s.store.InvoiceItems(ctx, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	return s.detail(ctx, inv, items)
}

func (s *Service) refreshInvoices(ctx context.Context) error {
	invoices, err := s.remote.Invoices(ctx)
	if err != nil {
		return err
	}
	items, err := s.remote.Items(ctx)
	if err != nil {
		return err
	}
	for i := range invoices {
		invoices[i] = invoices[i].Normalize()
	}
	if err := s.store.ReplaceInvoices(ctx, invoices, items); err != nil {
		return fmt.Errorf("mirror invoices: %w", err)
	}
	return nil
}

func (s *Service) detail(ctx context.Context, inv model.Invoice, items []model.InvoiceItem) (InvoiceDetail, error) {
	products := make(map[string]model.Product, len(items))
	for _, it := range items {
		if _, seen := products[it.ProductID]; seen {
			continue
		}
		p, err := s.store.Products().Get(ctx, it.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return InvoiceDetail{}, err
		}
		products[it.ProductID] = p
	}
	return InvoiceDetail{Invoice: inv, Items: items, Total: model.InvoiceTotal(items, products)}, nil
}

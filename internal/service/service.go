// Package service is the operation API used by the CLI and other front
// ends.
//
// Every mutation checks connectivity first. Online, it is applied to the
// remote store and, on success, mirrored into the local cache; a remote
// failure is returned to the caller and nothing is queued. Offline, it is
// applied to the local cache and recorded as an intent in the mutation
// queue for later replay.
//
// While earlier intents are still queued, a mutation is queued behind them
// even when online, so the remote store sees changes in the order they were
// made.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/roach88/invsync/internal/clock"
	"github.com/roach88/invsync/internal/connectivity"
	"github.com/roach88/invsync/internal/intent"
	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/queue"
	"github.com/roach88/invsync/internal/remote"
	"github.com/roach88/invsync/internal/stock"
	"github.com/roach88/invsync/internal/store"
)

// ErrProductReferenced is returned when deleting a product that cached
// invoice items still reference.
var ErrProductReferenced = errors.New("product is referenced by invoice items")

// ErrInvalidInput wraps argument validation failures.
var ErrInvalidInput = errors.New("invalid input")

// Outcome describes how a mutation was applied.
type Outcome struct {
	Queued   bool     `json:"queued"`
	QueueID  int64    `json:"queue_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithIDs sets the id generator for new rows.
func WithIDs(g model.IDGenerator) Option { return func(s *Service) { s.ids = g } }

// WithClock sets the clock stamping new invoices.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// Service implements the operations.
type Service struct {
	store   *store.Store
	queue   *queue.Queue
	stock   *stock.Engine
	remote  remote.Client
	monitor *connectivity.Monitor
	ids     model.IDGenerator
	clock   clock.Clock
}

// New creates a service.
func New(s *store.Store, q *queue.Queue, st *stock.Engine, r remote.Client, mon *connectivity.Monitor, opts ...Option) *Service {
	svc := &Service{
		store:   s,
		queue:   q,
		stock:   st,
		remote:  r,
		monitor: mon,
		ids:     model.UUIDv7Generator{},
		clock:   clock.Real{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// direct reports whether a mutation may go straight to the remote store.
func (s *Service) direct(ctx context.Context) (bool, error) {
	if !s.monitor.IsOnline() {
		return false, nil
	}
	n, err := s.queue.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *Service) enqueue(ctx context.Context, in intent.Intent) (Outcome, error) {
	it, err := s.queue.Enqueue(ctx, in)
	if err != nil {
		return Outcome{}, err
	}
	slog.Info("queued offline change", "kind", it.Kind, "id", it.ID)
	return Outcome{Queued: true, QueueID: it.ID}, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// CreateProduct creates a product with a new id.
func (s *Service) CreateProduct(ctx context.Context, name string, price decimal.Decimal, stockLevel int64) (model.Product, Outcome, error) {
	p := model.Product{ID: s.ids.NewID(), Name: name, Price: price, Stock: stockLevel}.Normalize()
	if p.Name == "" {
		return model.Product{}, Outcome{}, invalid("product name is required")
	}
	if p.Price.IsNegative() {
		return model.Product{}, Outcome{}, invalid("price must not be negative")
	}

	direct, err := s.direct(ctx)
	if err != nil {
		return model.Product{}, Outcome{}, err
	}
	if direct {
		if err := s.remote.InsertProduct(ctx, p); err != nil {
			return model.Product{}, Outcome{}, err
		}
		if err := s.store.Products().Put(ctx, p); err != nil {
			return p, Outcome{}, fmt.Errorf("mirror product: %w", err)
		}
		return p, Outcome{}, nil
	}

	if err := s.store.Products().Add(ctx, p); err != nil {
		return model.Product{}, Outcome{}, err
	}
	out, err := s.enqueue(ctx, intent.ProductCreate{Product: p})
	return p, out, err
}

// UpdateProduct applies a patch to an existing product.
func (s *Service) UpdateProduct(ctx context.Context, id string, patch model.ProductPatch) (model.Product, Outcome, error) {
	if patch.IsEmpty() {
		return model.Product{}, Outcome{}, invalid("nothing to update")
	}
	if patch.Name != nil {
		name := model.NormalizeName(*patch.Name)
		if name == "" {
			return model.Product{}, Outcome{}, invalid("product name is required")
		}
		patch.Name = &name
	}

	current, err := s.store.Products().Get(ctx, id)
	if err != nil {
		return model.Product{}, Outcome{}, err
	}
	updated := patch.Apply(current)

	direct, err := s.direct(ctx)
	if err != nil {
		return model.Product{}, Outcome{}, err
	}
	if direct {
		if err := s.remote.UpdateProduct(ctx, id, patch); err != nil {
			return model.Product{}, Outcome{}, err
		}
		if err := s.store.Products().Put(ctx, updated); err != nil {
			return updated, Outcome{}, fmt.Errorf("mirror product: %w", err)
		}
		return updated, Outcome{}, nil
	}

	if err := s.store.Products().Put(ctx, updated); err != nil {
		return model.Product{}, Outcome{}, err
	}
	out, err := s.enqueue(ctx, intent.ProductUpdate{ID: id, Updates: patch})
	return updated, out, err
}

// DeleteProduct deletes a product. Products referenced by any cached invoice
// item cannot be deleted.
func (s *Service) DeleteProduct(ctx context.Context, id string) (Outcome, error) {
	if _, err := s.store.Products().Get(ctx, id); err != nil {
		return Outcome{}, err
	}
	referenced, err := s.store.ProductReferenced(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if referenced {
		return Outcome{}, fmt.Errorf("delete product %s: %w", id, ErrProductReferenced)
	}

	direct, err := s.direct(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if direct {
		if err := s.remote.DeleteProduct(ctx, id); err != nil {
			return Outcome{}, err
		}
		if err := s.store.Products().Delete(ctx, id); err != nil {
			return Outcome{}, fmt.Errorf("mirror product delete: %w", err)
		}
		return Outcome{}, nil
	}

	if err := s.store.Products().Delete(ctx, id); err != nil {
		return Outcome{}, err
	}
	return s.enqueue(ctx, intent.ProductDelete{ID: id})
}

// Products lists products. Online with nothing queued, the cache is first
// refreshed from the remote store.
func (s *Service) Products(ctx context.Context) ([]model.Product, error) {
	if ok, err := s.direct(ctx); err != nil {
		return nil, err
	} else if ok {
		products, err := s.remote.Products(ctx)
		if err != nil {
			return nil, err
		}
		for i := range products {
			products[i] = products[i].Normalize()
		}
		if err := s.store.Products().ReplaceAll(ctx, products); err != nil {
			return nil, fmt.Errorf("mirror products: %w", err)
		}
	}
	return s.store.Products().GetAll(ctx)
}

// RemainingStock returns remaining stock of one product.
func (s *Service) RemainingStock(ctx context.Context, productID string) (int64, error) {
	return s.stock.Remaining(ctx, productID)
}

// RemainingStockAll returns remaining stock of every cached product.
func (s *Service) RemainingStockAll(ctx context.Context) (map[string]int64, error) {
	return s.stock.RemainingAll(ctx)
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalogue entry. Stock is the nominal (ordered) quantity set by
// product CRUD; invoice operations never decrement it.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int64           `json:"stock"`
}

// ProductPatch is a partial product update. Nil fields are left unchanged.
type ProductPatch struct {
	Name  *string          `json:"name,omitempty"`
	Price *decimal.Decimal `json:"price,omitempty"`
	Stock *int64           `json:"stock,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ProductPatch) IsEmpty() bool {
	return p.Name == nil && p.Price == nil && p.Stock == nil
}

// Apply returns a copy of prod with the patch applied.
func (p ProductPatch) Apply(prod Product) Product {
	if p.Name != nil {
		prod.Name = NormalizeName(*p.Name)
	}
	if p.Price != nil {
		prod.Price = *p.Price
	}
	if p.Stock != nil {
		prod.Stock = *p.Stock
	}
	return prod
}

// Invoice is the header row. It exclusively owns its InvoiceItems: deleting an
// invoice deletes every item referencing it.
type Invoice struct {
	ID           string    `json:"id"`
	CustomerName string    `json:"customer_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// InvoiceItem is a line item. ProductID is a weak reference (lookup only).
// CustomPrice, when valid, overrides the product's current price for this line.
type InvoiceItem struct {
	ID          string              `json:"id"`
	InvoiceID   string              `json:"invoice_id"`
	ProductID   string              `json:"product_id"`
	Quantity    int64               `json:"quantity"`
	CustomPrice decimal.NullDecimal `json:"custom_price"`
}

// ItemRequest is one requested line of an invoice before ids are assigned.
type ItemRequest struct {
	ProductID   string              `json:"product_id"`
	Quantity    int64               `json:"quantity"`
	CustomPrice decimal.NullDecimal `json:"custom_price"`
}

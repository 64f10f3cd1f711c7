// Package intent defines the durable user intents recorded in the mutation
// queue while offline.
//
// Each Kind has exactly one payload type. Intent is a closed sum type: the
// only implementations are the payload structs in this package, so a type
// switch over Intent covers every kind (see Kinds).
package intent

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/invsync/internal/model"
)

// Kind identifies an intent on the wire and in the queue table.
type Kind string

const (
	KindProductCreate   Kind = "product:create"
	KindProductUpdate   Kind = "product:update"
	KindProductDelete   Kind = "product:delete"
	KindInvoiceCreate   Kind = "invoice:create"
	KindInvoiceUpdate   Kind = "invoice:update"
	KindInvoiceDelete   Kind = "invoice:delete"
	KindItemPriceUpdate Kind = "invoice_item:update_price"
)

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindProductCreate,
		KindProductUpdate,
		KindProductDelete,
		KindInvoiceCreate,
		KindInvoiceUpdate,
		KindInvoiceDelete,
		KindItemPriceUpdate,
	}
}

// ErrUnknownKind is returned when decoding a kind this build does not know.
var ErrUnknownKind = errors.New("intent: unknown kind")

// ErrInvalid is wrapped by Validate failures.
var ErrInvalid = errors.New("intent: invalid payload")

// Intent is one recorded user change.
type Intent interface {
	Kind() Kind
	Validate() error
	sealed()
}

// ProductCreate inserts a product row.
type ProductCreate struct {
	Product model.Product `json:"product"`
}

// ProductUpdate patches a product row by id.
type ProductUpdate struct {
	ID      string             `json:"id"`
	Updates model.ProductPatch `json:"updates"`
}

// ProductDelete deletes a product row by id.
type ProductDelete struct {
	ID string `json:"id"`
}

// InvoiceCreate inserts an invoice and all of its items.
type InvoiceCreate struct {
	Invoice model.Invoice       `json:"invoice"`
	Items   []model.InvoiceItem `json:"items"`
}

// InvoiceUpdate optionally renames the customer and optionally replaces every
// item. Items is nil when the item set is unchanged.
type InvoiceUpdate struct {
	ID           string              `json:"id"`
	CustomerName *string             `json:"customer_name,omitempty"`
	Items        []model.InvoiceItem `json:"items,omitempty"`
}

// InvoiceDelete deletes an invoice and its items.
type InvoiceDelete struct {
	ID string `json:"id"`
}

// ItemPriceUpdate sets or, when CustomPrice is null, clears one item's custom
// price. The update is scoped by both item id and invoice id.
type ItemPriceUpdate struct {
	ItemID      string              `json:"item_id"`
	InvoiceID   string              `json:"invoice_id"`
	CustomPrice decimal.NullDecimal `json:"custom_price"`
}

func (ProductCreate) Kind() Kind   { return KindProductCreate }
func (ProductUpdate) Kind() Kind   { return KindProductUpdate }
func (ProductDelete) Kind() Kind   { return KindProductDelete }
func (InvoiceCreate) Kind() Kind   { return KindInvoiceCreate }
func (InvoiceUpdate) Kind() Kind   { return KindInvoiceUpdate }
func (InvoiceDelete) Kind() Kind   { return KindInvoiceDelete }
func (ItemPriceUpdate) Kind() Kind { return KindItemPriceUpdate }

func (ProductCreate) sealed()   {}
func (ProductUpdate) sealed()   {}
func (ProductDelete) sealed()   {}
func (InvoiceCreate) sealed()   {}
func (InvoiceUpdate) sealed()   {}
func (InvoiceDelete) sealed()   {}
func (ItemPriceUpdate) sealed() {}

func (i ProductCreate) Validate() error {
	if i.Product.ID == "" {
		return invalid(i, "product id is required")
	}
	return nil
}

func (i ProductUpdate) Validate() error {
	if i.ID == "" {
		return invalid(i, "id is required")
	}
	if i.Updates.IsEmpty() {
		return invalid(i, "updates are empty")
	}
	return nil
}

func (i ProductDelete) Validate() error {
	if i.ID == "" {
		return invalid(i, "id is required")
	}
	return nil
}

func (i InvoiceCreate) Validate() error {
	if i.Invoice.ID == "" {
		return invalid(i, "invoice id is required")
	}
	if len(i.Items) == 0 {
		return invalid(i, "an invoice needs at least one item")
	}
	for _, it := range i.Items {
		if it.InvoiceID != i.Invoice.ID {
			return invalid(i, fmt.Sprintf("item %q belongs to invoice %q", it.ID, it.InvoiceID))
		}
	}
	return nil
}

// HasItems reports whether the update replaces the item set.
func (i InvoiceUpdate) HasItems() bool { return len(i.Items) > 0 }

func (i InvoiceUpdate) Validate() error {
	if i.ID == "" {
		return invalid(i, "id is required")
	}
	if i.CustomerName == nil && !i.HasItems() {
		return invalid(i, "nothing to update")
	}
	for _, it := range i.Items {
		if it.InvoiceID != i.ID {
			return invalid(i, fmt.Sprintf("item %q belongs to invoice %q", it.ID, it.InvoiceID))
		}
	}
	return nil
}

func (i InvoiceDelete) Validate() error {
	if i.ID == "" {
		return invalid(i, "id is required")
	}
	return nil
}

func (i ItemPriceUpdate) Validate() error {
	if i.ItemID == "" || i.InvoiceID == "" {
		return invalid(i, "item id and invoice id are required")
	}
	return nil
}

func invalid(i Intent, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, i.Kind(), msg)
}

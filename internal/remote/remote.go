// Package remote defines the contract the sync core needs from the remote
// relational store, and a database/sql implementation of it.
//
// The contract is row-level: insert, update and delete filtered by key,
// select, batch insert of invoice items, and a change-notification
// subscription per watched table. Each call returns its data and a
// structured *Error; the core imposes no timeout of its own.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/notify"
)

// Table names a watched remote table.
type Table string

const (
	TableProducts     Table = "products"
	TableInvoices     Table = "invoices"
	TableInvoiceItems Table = "invoice_items"
)

// Op is the kind of row change carried by a Change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one change notification.
type Change struct {
	Table Table  `json:"table"`
	Op    Op     `json:"op"`
	Key   string `json:"key"`
}

// Client is the remote store.
//
// Inserts are idempotent by primary key: inserting a row whose id already
// exists succeeds without changing it, so a replay whose acknowledgement was
// lost does not fail on the second attempt. Updates and deletes that match
// no row are not errors.
type Client interface {
	InsertProduct(ctx context.Context, p model.Product) error
	UpdateProduct(ctx context.Context, id string, patch model.ProductPatch) error
	DeleteProduct(ctx context.Context, id string) error
	Products(ctx context.Context) ([]model.Product, error)

	InsertInvoice(ctx context.Context, inv model.Invoice) error
	UpdateInvoiceCustomer(ctx context.Context, id, customerName string) error
	DeleteInvoice(ctx context.Context, id string) error
	Invoice(ctx context.Context, id string) (model.Invoice, error)
	Invoices(ctx context.Context) ([]model.Invoice, error)

	InsertItems(ctx context.Context, items []model.InvoiceItem) error
	ItemsOf(ctx context.Context, invoiceID string) ([]model.InvoiceItem, error)
	Items(ctx context.Context) ([]model.InvoiceItem, error)
	DeleteItemsOf(ctx context.Context, invoiceID string) error
	UpdateItemPrice(ctx context.Context, itemID, invoiceID string, price decimal.NullDecimal) error

	Subscribe(table Table) *notify.Subscription[Change]
	Ping(ctx context.Context) error
}

// ErrNotFound is returned by single-row selects that match nothing.
var ErrNotFound = errors.New("not found")

// Error is the structured failure of one remote call.
type Error struct {
	Op    string
	Table Table
	Err   error
}

func (e *Error) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRemote reports whether err came from a remote call.
func IsRemote(err error) bool {
	var re *Error
	return errors.As(err, &re)
}

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/invsync/internal/model"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testProduct(id, name string, price, stock int64) model.Product {
	return model.Product{ID: id, Name: name, Price: decimal.NewFromInt(price), Stock: stock}
}

func testInvoice(id, customer string) model.Invoice {
	return model.Invoice{ID: id, CustomerName: customer, CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func testItem(id, invoiceID, productID string, qty int64) model.InvoiceItem {
	return model.InvoiceItem{ID: id, InvoiceID: invoiceID, ProductID: productID, Quantity: qty}
}

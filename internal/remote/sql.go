package remote

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/notify"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

// filter is an equality condition, the only filter the core needs.
type filter struct {
	field string
	value any
}

func eq(field string, value any) filter { return filter{field: field, value: value} }

// SQL is a Client over a relational database reachable through database/sql.
type SQL struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
	feeds   map[Table]*notify.Broadcaster[Change]
}

// OpenSQL opens a remote store. driver is one of DriverSQLite, DriverMySQL or
// DriverPostgres. timeout bounds every call; zero means no bound.
func OpenSQL(driver, dsn string, timeout time.Duration) (*SQL, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	case DriverMySQL:
		// Timestamps must scan into time.Time.
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	default:
		return nil, fmt.Errorf("unsupported remote driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open remote: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	return NewSQL(db, driver, timeout), nil
}

// NewSQL wraps an existing handle.
func NewSQL(db *sql.DB, driver string, timeout time.Duration) *SQL {
	return &SQL{
		db:      db,
		driver:  driver,
		timeout: timeout,
		feeds: map[Table]*notify.Broadcaster[Change]{
			TableProducts:     notify.NewBroadcaster[Change](),
			TableInvoices:     notify.NewBroadcaster[Change](),
			TableInvoiceItems: notify.NewBroadcaster[Change](),
		},
	}
}

// Close closes the feeds and the database handle.
func (s *SQL) Close() error {
	for _, f := range s.feeds {
		f.Close()
	}
	return s.db.Close()
}

// Migrate creates the remote tables if they do not exist. The DDL is the
// common subset of SQLite, MySQL and PostgreSQL.
func (s *SQL) Migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			stock BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id VARCHAR(64) PRIMARY KEY,
			customer_name VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS invoice_items (
			id VARCHAR(64) PRIMARY KEY,
			invoice_id VARCHAR(64) NOT NULL,
			product_id VARCHAR(64) NOT NULL,
			quantity BIGINT NOT NULL,
			custom_price NUMERIC(12,2) NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &Error{Op: "migrate", Err: err}
		}
	}
	return nil
}

// Ping checks that the remote store is reachable.
func (s *SQL) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return &Error{Op: "ping", Err: err}
	}
	return nil
}

// Subscribe returns a subscription to changes made through this client.
func (s *SQL) Subscribe(table Table) *notify.Subscription[Change] {
	f, ok := s.feeds[table]
	if !ok {
		// Unknown tables get a subscription that is already closed.
		b := notify.NewBroadcaster[Change]()
		b.Close()
		return b.Subscribe()
	}
	return f.Subscribe()
}

func (s *SQL) publish(table Table, op Op, key string) {
	if f, ok := s.feeds[table]; ok {
		f.Publish(Change{Table: table, Op: op, Key: key})
	}
}

func (s *SQL) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// rebind rewrites ? placeholders for drivers that use $n.
func (s *SQL) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertIgnoringDuplicate builds an INSERT that is a no-op when the primary
// key already exists.
func (s *SQL) insertIgnoringDuplicate(table Table, columns []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	base := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), marks)
	if s.driver == DriverMySQL {
		return base + " ON DUPLICATE KEY UPDATE id = id"
	}
	return base + " ON CONFLICT (id) DO NOTHING"
}

func where(filters []filter) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	conds := make([]string, len(filters))
	args := make([]any, len(filters))
	for i, f := range filters {
		conds[i] = f.field + " = ?"
		args[i] = f.value
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQL) exec(ctx context.Context, op string, table Table, query string, args ...any) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return &Error{Op: op, Table: table, Err: err}
	}
	return nil
}

func (s *SQL) update(ctx context.Context, table Table, sets []string, values []any, filters ...filter) error {
	if len(sets) == 0 {
		return nil
	}
	cond, condArgs := where(filters)
	query := fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), cond)
	return s.exec(ctx, "update", table, query, append(values, condArgs...)...)
}

func (s *SQL) delete(ctx context.Context, table Table, filters ...filter) error {
	cond, args := where(filters)
	return s.exec(ctx, "delete", table, fmt.Sprintf("DELETE FROM %s%s", table, cond), args...)
}

func selectRows[T any](ctx context.Context, s *SQL, table Table, columns, order string, scan func(*sql.Rows) (T, error), filters ...filter) ([]T, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	cond, args := where(filters)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", columns, table, cond, order)
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, &Error{Op: "select", Table: table, Err: err}
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, &Error{Op: "select", Table: table, Err: err}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "select", Table: table, Err: err}
	}
	return out, nil
}

// InsertProduct inserts a product row.
func (s *SQL) InsertProduct(ctx context.Context, p model.Product) error {
	query := s.insertIgnoringDuplicate(TableProducts, []string{"id", "name", "price", "stock"})
	if err := s.exec(ctx, "insert", TableProducts, query, p.ID, p.Name, p.Price, p.Stock); err != nil {
		return err
	}
	s.publish(TableProducts, OpInsert, p.ID)
	return nil
}

// UpdateProduct applies a patch to the product with the given id.
func (s *SQL) UpdateProduct(ctx context.Context, id string, patch model.ProductPatch) error {
	var sets []string
	var values []any
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		values = append(values, *patch.Name)
	}
	if patch.Price != nil {
		sets = append(sets, "price = ?")
		values = append(values, *patch.Price)
	}
	if patch.Stock != nil {
		sets = append(sets, "stock = ?")
		values = append(values, *patch.Stock)
	}
	if err := s.update(ctx, TableProducts, sets, values, eq("id", id)); err != nil {
		return err
	}
	s.publish(TableProducts, OpUpdate, id)
	return nil
}

// DeleteProduct deletes the product with the given id.
func (s *SQL) DeleteProduct(ctx context.Context, id string) error {
	if err := s.delete(ctx, TableProducts, eq("id", id)); err != nil {
		return err
	}
	s.publish(TableProducts, OpDelete, id)
	return nil
}

// Products selects every product.
func (s *SQL) Products(ctx context.Context) ([]model.Product, error) {
	return selectRows(ctx, s, TableProducts, "id, name, price, stock", "name, id",
		func(r *sql.Rows) (model.Product, error) {
			var p model.Product
			err := r.Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
			return p, err
		})
}

// InsertInvoice inserts an invoice header row.
func (s *SQL) InsertInvoice(ctx context.Context, inv model.Invoice) error {
	query := s.insertIgnoringDuplicate(TableInvoices, []string{"id", "customer_name", "created_at"})
	if err := s.exec(ctx, "insert", TableInvoices, query, inv.ID, inv.CustomerName, inv.CreatedAt.UTC()); err != nil {
		return err
	}
	s.publish(TableInvoices, OpInsert, inv.ID)
	return nil
}

// UpdateInvoiceCustomer renames an invoice's customer.
func (s *SQL) UpdateInvoiceCustomer(ctx context.Context, id, customerName string) error {
	if err := s.update(ctx, TableInvoices, []string{"customer_name = ?"}, []any{customerName}, eq("id", id)); err != nil {
		return err
	}
	s.publish(TableInvoices, OpUpdate, id)
	return nil
}

// DeleteInvoice deletes the invoice header row. Items are deleted separately
// with DeleteItemsOf.
func (s *SQL) DeleteInvoice(ctx context.Context, id string) error {
	if err := s.delete(ctx, TableInvoices, eq("id", id)); err != nil {
		return err
	}
	s.publish(TableInvoices, OpDelete, id)
	return nil
}

const invoiceColumns = "id, customer_name, created_at"

func scanInvoice(r *sql.Rows) (model.Invoice, error) {
	var inv model.Invoice
	err := r.Scan(&inv.ID, &inv.CustomerName, &inv.CreatedAt)
	inv.CreatedAt = inv.CreatedAt.UTC()
	return inv, err
}

// Invoice selects one invoice by id. A missing row is an *Error wrapping
// ErrNotFound.
func (s *SQL) Invoice(ctx context.Context, id string) (model.Invoice, error) {
	invs, err := selectRows(ctx, s, TableInvoices, invoiceColumns, "id", scanInvoice, eq("id", id))
	if err != nil {
		return model.Invoice{}, err
	}
	if len(invs) == 0 {
		return model.Invoice{}, &Error{Op: "select", Table: TableInvoices, Err: fmt.Errorf("invoice %q: %w", id, ErrNotFound)}
	}
	return invs[0], nil
}

// Invoices selects every invoice.
func (s *SQL) Invoices(ctx context.Context) ([]model.Invoice, error) {
	return selectRows(ctx, s, TableInvoices, invoiceColumns, "created_at DESC, id", scanInvoice)
}

// InsertItems inserts a batch of items in one transaction.
func (s *SQL) InsertItems(ctx context.Context, items []model.InvoiceItem) error {
	if len(items) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "insert", Table: TableInvoiceItems, Err: err}
	}
	defer tx.Rollback()

	query := s.rebind(s.insertIgnoringDuplicate(TableInvoiceItems,
		[]string{"id", "invoice_id", "product_id", "quantity", "custom_price"}))
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, query, it.ID, it.InvoiceID, it.ProductID, it.Quantity, it.CustomPrice); err != nil {
			return &Error{Op: "insert", Table: TableInvoiceItems, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "insert", Table: TableInvoiceItems, Err: err}
	}
	for _, it := range items {
		s.publish(TableInvoiceItems, OpInsert, it.ID)
	}
	return nil
}

func scanItem(r *sql.Rows) (model.InvoiceItem, error) {
	var it model.InvoiceItem
	err := r.Scan(&it.ID, &it.InvoiceID, &it.ProductID, &it.Quantity, &it.CustomPrice)
	return it, err
}

const itemColumns = "id, invoice_id, product_id, quantity, custom_price"

// ItemsOf selects the items of one invoice.
func (s *SQL) ItemsOf(ctx context.Context, invoiceID string) ([]model.InvoiceItem, error) {
	return selectRows(ctx, s, TableInvoiceItems, itemColumns, "id", scanItem, eq("invoice_id", invoiceID))
}

// Items selects every invoice item.
func (s *SQL) Items(ctx context.Context) ([]model.InvoiceItem, error) {
	return selectRows(ctx, s, TableInvoiceItems, itemColumns, "invoice_id, id", scanItem)
}

// DeleteItemsOf deletes every item of one invoice.
func (s *SQL) DeleteItemsOf(ctx context.Context, invoiceID string) error {
	if err := s.delete(ctx, TableInvoiceItems, eq("invoice_id", invoiceID)); err != nil {
		return err
	}
	s.publish(TableInvoiceItems, OpDelete, invoiceID)
	return nil
}

// UpdateItemPrice sets or clears one item's custom price, scoped by both item
// id and invoice id.
func (s *SQL) UpdateItemPrice(ctx context.Context, itemID, invoiceID string, price decimal.NullDecimal) error {
	err := s.update(ctx, TableInvoiceItems, []string{"custom_price = ?"}, []any{price},
		eq("id", itemID), eq("invoice_id", invoiceID))
	if err != nil {
		return err
	}
	s.publish(TableInvoiceItems, OpUpdate, itemID)
	return nil
}

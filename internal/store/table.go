package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Table is one entity table of the local store, keyed by a TEXT primary key
// in columns[0].
type Table[T any] struct {
	db      *sql.DB
	name    string
	columns []string
	orderBy string
	key     func(T) string
	values  func(T) []any
	scan    func(rowScanner) (T, error)
}

// Name returns the SQL table name.
func (t *Table[T]) Name() string { return t.name }

func (t *Table[T]) selectSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.columns, ", "), t.name)
}

func (t *Table[T]) insertSQL() string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, strings.Join(t.columns, ", "), marks)
}

// upsertSQL updates in place on conflict. INSERT OR REPLACE would delete the
// old row first and fire ON DELETE CASCADE.
func (t *Table[T]) upsertSQL() string {
	sets := make([]string, 0, len(t.columns)-1)
	for _, c := range t.columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf("%s ON CONFLICT(%s) DO UPDATE SET %s", t.insertSQL(), t.columns[0], strings.Join(sets, ", "))
}

// GetAll returns every row in the table's natural order.
// Returns an empty slice (not nil) when the table is empty.
func (t *Table[T]) GetAll(ctx context.Context) ([]T, error) {
	return t.query(ctx, t.selectSQL()+" ORDER BY "+t.orderBy)
}

// Find returns rows whose column equals value. column must be one of the
// table's columns.
func (t *Table[T]) Find(ctx context.Context, column string, value any) ([]T, error) {
	if !t.hasColumn(column) {
		return nil, fmt.Errorf("%s: unknown column %q", t.name, column)
	}
	return t.query(ctx, t.selectSQL()+" WHERE "+column+" = ? ORDER BY "+t.orderBy, value)
}

// Get returns the row with the given key, or ErrNotFound.
func (t *Table[T]) Get(ctx context.Context, key string) (T, error) {
	row := t.db.QueryRowContext(ctx, t.selectSQL()+" WHERE "+t.columns[0]+" = ?", key)
	v, err := t.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, fmt.Errorf("%s %q: %w", t.name, key, ErrNotFound)
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("get %s %q: %w", t.name, key, err)
	}
	return v, nil
}

// Put inserts v or updates the existing row with the same key.
func (t *Table[T]) Put(ctx context.Context, v T) error {
	return t.put(ctx, t.db, v)
}

func (t *Table[T]) put(ctx context.Context, ex execer, v T) error {
	if _, err := ex.ExecContext(ctx, t.upsertSQL(), t.values(v)...); err != nil {
		return fmt.Errorf("put %s %q: %w", t.name, t.key(v), err)
	}
	return nil
}

// Add inserts v. Returns ErrDuplicateKey if the key already exists.
func (t *Table[T]) Add(ctx context.Context, v T) error {
	return t.add(ctx, t.db, v)
}

func (t *Table[T]) add(ctx context.Context, ex execer, v T) error {
	if _, err := ex.ExecContext(ctx, t.insertSQL(), t.values(v)...); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("add %s %q: %w", t.name, t.key(v), ErrDuplicateKey)
		}
		return fmt.Errorf("add %s %q: %w", t.name, t.key(v), err)
	}
	return nil
}

// Delete removes the row with the given key. Deleting a missing key is not
// an error.
func (t *Table[T]) Delete(ctx context.Context, key string) error {
	return t.delete(ctx, t.db, key)
}

func (t *Table[T]) delete(ctx context.Context, ex execer, key string) error {
	if _, err := ex.ExecContext(ctx, "DELETE FROM "+t.name+" WHERE "+t.columns[0]+" = ?", key); err != nil {
		return fmt.Errorf("delete %s %q: %w", t.name, key, err)
	}
	return nil
}

// Clear removes every row.
func (t *Table[T]) Clear(ctx context.Context) error {
	return t.clear(ctx, t.db)
}

func (t *Table[T]) clear(ctx context.Context, ex execer) error {
	if _, err := ex.ExecContext(ctx, "DELETE FROM "+t.name); err != nil {
		return fmt.Errorf("clear %s: %w", t.name, err)
	}
	return nil
}

// PutAll upserts every value in a single transaction.
func (t *Table[T]) PutAll(ctx context.Context, vs []T) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put all %s: begin tx: %w", t.name, err)
	}
	defer tx.Rollback()

	if err := t.putAll(ctx, tx, vs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put all %s: commit: %w", t.name, err)
	}
	return nil
}

func (t *Table[T]) putAll(ctx context.Context, ex execer, vs []T) error {
	for _, v := range vs {
		if err := t.put(ctx, ex, v); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceAll clears the table and writes vs in one transaction.
func (t *Table[T]) ReplaceAll(ctx context.Context, vs []T) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace %s: begin tx: %w", t.name, err)
	}
	defer tx.Rollback()

	if err := t.clear(ctx, tx); err != nil {
		return err
	}
	if err := t.putAll(ctx, tx, vs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace %s: commit: %w", t.name, err)
	}
	return nil
}

func (t *Table[T]) query(ctx context.Context, query string, args ...any) ([]T, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.name, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return out, nil
}

func (t *Table[T]) hasColumn(c string) bool {
	for _, col := range t.columns {
		if col == c {
			return true
		}
	}
	return false
}

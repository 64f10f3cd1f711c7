// Package store provides the SQLite-backed local durable store.
//
// The store holds a best-effort mirror of the remote catalogue
// (products, invoices, invoice_items) plus the durable mutation queue
// (sync_queue) and the dead-letter table for quarantined intents.
//
// Every entity table supports the same operation set through Table:
// GetAll, Get, Put (upsert), Add (insert, fails on duplicate key), Delete,
// Clear, PutAll and ReplaceAll. Writes are synchronous: a call returns only
// after the row change is committed. Bulk writes are atomic per call.
//
// # Remaining stock aggregate
//
// product_usage holds, per product id, the summed quantity of every cached
// invoice item that references it. Triggers on invoice_items keep it current
// inside the same transaction as the item write, so remaining stock is a
// single indexed lookup instead of a scan over all items.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: invoice_items cascade with their invoice
package store

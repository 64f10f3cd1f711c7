// Package model defines the entities mirrored between the local durable store
// and the remote relational store: products, invoices and invoice items.
//
// Products carry a nominal stock. Remaining stock is never stored on the
// product; it is derived from the invoice items that reference it (see
// internal/stock).
//
// All names are NFC normalised at the boundary (Normalize*) so that the same
// customer or product name always compares and serialises identically,
// regardless of which input method produced it.
package model

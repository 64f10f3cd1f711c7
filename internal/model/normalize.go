package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName trims surrounding whitespace and applies NFC normalisation.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Normalize returns p with its name normalised.
func (p Product) Normalize() Product {
	p.Name = NormalizeName(p.Name)
	return p
}

// Normalize returns inv with its customer name normalised and its creation
// time truncated to UTC seconds, the precision every supported store keeps.
func (inv Invoice) Normalize() Invoice {
	inv.CustomerName = NormalizeName(inv.CustomerName)
	inv.CreatedAt = inv.CreatedAt.UTC().Truncate(1e9)
	return inv
}

package model

import "github.com/shopspring/decimal"

// EffectivePrice returns the unit price used for subtotals: the item's custom
// price when set, otherwise the product's current price.
func (it InvoiceItem) EffectivePrice(p Product) decimal.Decimal {
	if it.CustomPrice.Valid {
		return it.CustomPrice.Decimal
	}
	return p.Price
}

// Subtotal is EffectivePrice times Quantity.
func (it InvoiceItem) Subtotal(p Product) decimal.Decimal {
	return it.EffectivePrice(p).Mul(decimal.NewFromInt(it.Quantity))
}

// InvoiceTotal sums the subtotals of items. Items whose product is missing
// from products contribute only when they carry a custom price.
func InvoiceTotal(items []InvoiceItem, products map[string]Product) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok && !it.CustomPrice.Valid {
			continue
		}
		total = total.Add(it.Subtotal(p))
	}
	return total
}

// PriceOverride builds a nullable custom price. A nil argument clears the
// override.
func PriceOverride(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

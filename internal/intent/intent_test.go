package intent

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invsync/internal/model"
)

// sample returns a valid intent of every kind.
func sample() map[Kind]Intent {
	name := "Grace"
	stock := int64(20)
	price := decimal.RequireFromString("4.50")
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	item := model.InvoiceItem{ID: "it-1", InvoiceID: "inv-1", ProductID: "1", Quantity: 7}

	return map[Kind]Intent{
		KindProductCreate: ProductCreate{Product: model.Product{ID: "1", Name: "Pen & <Ink>", Price: decimal.NewFromInt(10), Stock: 5}},
		KindProductUpdate: ProductUpdate{ID: "1", Updates: model.ProductPatch{Stock: &stock}},
		KindProductDelete: ProductDelete{ID: "1"},
		KindInvoiceCreate: InvoiceCreate{
			Invoice: model.Invoice{ID: "inv-1", CustomerName: "Ada", CreatedAt: created},
			Items:   []model.InvoiceItem{item},
		},
		KindInvoiceUpdate:   InvoiceUpdate{ID: "inv-1", CustomerName: &name, Items: []model.InvoiceItem{item}},
		KindInvoiceDelete:   InvoiceDelete{ID: "inv-1"},
		KindItemPriceUpdate: ItemPriceUpdate{ItemID: "it-1", InvoiceID: "inv-1", CustomPrice: model.PriceOverride(&price)},
	}
}

func TestKinds_EveryKindHasASample(t *testing.T) {
	samples := sample()
	require.Len(t, samples, len(Kinds()))
	for _, k := range Kinds() {
		in, ok := samples[k]
		require.True(t, ok, "missing sample for %s", k)
		assert.Equal(t, k, in.Kind())
	}
}

func TestEncodeDecode_EveryKind(t *testing.T) {
	for kind, in := range sample() {
		t.Run(string(kind), func(t *testing.T) {
			gotKind, payload, err := Encode(in)
			require.NoError(t, err)
			assert.Equal(t, kind, gotKind)

			out, err := Decode(gotKind, payload)
			require.NoError(t, err)
			assert.Equal(t, kind, out.Kind())
			assert.NoError(t, out.Validate())
		})
	}
}

func TestEncode_NoHTMLEscaping(t *testing.T) {
	_, payload, err := Encode(sample()[KindProductCreate])
	require.NoError(t, err)
	assert.Contains(t, payload, "Pen & <Ink>")
}

func TestItemPriceUpdate_NullClearsPrice(t *testing.T) {
	_, payload, err := Encode(ItemPriceUpdate{ItemID: "it-1", InvoiceID: "inv-1"})
	require.NoError(t, err)
	assert.Contains(t, payload, `"custom_price":null`)

	out, err := Decode(KindItemPriceUpdate, payload)
	require.NoError(t, err)
	assert.False(t, out.(ItemPriceUpdate).CustomPrice.Valid)
}

func TestInvoiceUpdate_ItemsAbsent(t *testing.T) {
	name := "Grace"
	_, payload, err := Encode(InvoiceUpdate{ID: "inv-1", CustomerName: &name})
	require.NoError(t, err)
	assert.NotContains(t, payload, "items")

	out, err := Decode(KindInvoiceUpdate, payload)
	require.NoError(t, err)
	assert.False(t, out.(InvoiceUpdate).HasItems())
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode("product:explode", `{}`)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := Decode(KindProductDelete, `{"id":"1","force":true}`)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		in   Intent
	}{
		{"product create without id", ProductCreate{}},
		{"empty product patch", ProductUpdate{ID: "1"}},
		{"product delete without id", ProductDelete{}},
		{"invoice without items", InvoiceCreate{Invoice: model.Invoice{ID: "inv-1"}}},
		{"item from other invoice", InvoiceCreate{
			Invoice: model.Invoice{ID: "inv-1"},
			Items:   []model.InvoiceItem{{ID: "x", InvoiceID: "inv-2"}},
		}},
		{"empty invoice update", InvoiceUpdate{ID: "inv-1"}},
		{"invoice delete without id", InvoiceDelete{}},
		{"price update without invoice", ItemPriceUpdate{ItemID: "it-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			assert.ErrorIs(t, err, ErrInvalid)

			_, _, err = Encode(tc.in)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

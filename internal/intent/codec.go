package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Encode serialises an intent's payload for the queue table.
// HTML escaping is disabled so names containing <, > or & are stored verbatim.
func Encode(in Intent) (Kind, string, error) {
	if err := in.Validate(); err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(in); err != nil {
		return "", "", fmt.Errorf("encode %s: %w", in.Kind(), err)
	}
	// Encoder adds a trailing newline, remove it
	return in.Kind(), strings.TrimSpace(buf.String()), nil
}

// Decode parses a queue payload back into its typed intent.
func Decode(kind Kind, payload string) (Intent, error) {
	var (
		in  Intent
		err error
	)
	switch kind {
	case KindProductCreate:
		in, err = decodeAs[ProductCreate](payload)
	case KindProductUpdate:
		in, err = decodeAs[ProductUpdate](payload)
	case KindProductDelete:
		in, err = decodeAs[ProductDelete](payload)
	case KindInvoiceCreate:
		in, err = decodeAs[InvoiceCreate](payload)
	case KindInvoiceUpdate:
		in, err = decodeAs[InvoiceUpdate](payload)
	case KindInvoiceDelete:
		in, err = decodeAs[InvoiceDelete](payload)
	case KindItemPriceUpdate:
		in, err = decodeAs[ItemPriceUpdate](payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return in, nil
}

func decodeAs[T Intent](payload string) (Intent, error) {
	var v T
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

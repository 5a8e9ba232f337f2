package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLine struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"gte=1,lte=100"`
	Hex       string `json:"hex" validate:"omitempty,hexcolor"`
}

type testCheckout struct {
	Items         []testLine `json:"items" validate:"required,min=1,dive"`
	PaymentMethod string     `json:"payment_method" validate:"required,oneof=card paypal"`
}

func decode(t *testing.T, body any) error {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/orders", bytes.NewReader(raw))
	var out testCheckout
	return DecodeAndValidate(req, &out)
}

// Feature: storefront-orders, Property 10: Quantity bounds are validated
func TestProperty_QuantityBoundsAreValidated(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("quantities outside [1, 100] are rejected with the offending path", prop.ForAll(
		func(qty int) bool {
			err := decode(t, map[string]any{
				"items":          []map[string]any{{"product_id": "8f7c2d6e-3b1a-4f5e-9c8d-7a6b5c4d3e2f", "quantity": qty}},
				"payment_method": "card",
			})
			if qty >= 1 && qty <= 100 {
				return err == nil
			}
			errs := FormatValidationErrors(err)
			return len(errs) == 1 && errs[0].Field == "items[0].quantity"
		},
		gen.IntRange(-50, 150),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestFormatValidationErrors_UsesJSONNames(t *testing.T) {
	err := decode(t, map[string]any{
		"items":          []map[string]any{{"product_id": "nope", "quantity": 1, "hex": "red"}},
		"payment_method": "barter",
	})
	require.Error(t, err)

	byField := map[string]string{}
	for _, e := range FormatValidationErrors(err) {
		byField[e.Field] = e.Message
	}

	assert.Equal(t, "Must be a valid UUID", byField["items[0].product_id"])
	assert.Equal(t, "Must be a hex color such as #FF0000", byField["items[0].hex"])
	assert.True(t, strings.HasPrefix(byField["payment_method"], "Must be one of"))
}

func TestDecodeAndValidate_EmptyItems(t *testing.T) {
	err := decode(t, map[string]any{"items": []any{}, "payment_method": "card"})
	errs := FormatValidationErrors(err)
	require.Len(t, errs, 1)
	assert.Equal(t, "items", errs[0].Field)
}

func TestDecodeAndValidate_MalformedBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/orders", strings.NewReader(`{"items": [`))
	var out testCheckout
	err := DecodeAndValidate(req, &out)
	assert.True(t, errors.Is(err, ErrMalformedBody))
	assert.Empty(t, FormatValidationErrors(err))
}

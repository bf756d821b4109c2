package sqlutil

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Helper functions for converting between Go types and nullable column values.
// Money columns travel as text and are cast to NUMERIC in SQL.

// ToNullText converts an empty string to NULL
func ToNullText(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}

// FromNullText converts a nullable text column to a Go string
func FromNullText(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}

// ToNumericText converts an optional decimal into a NUMERIC literal
func ToNumericText(val *decimal.Decimal) *string {
	if val == nil {
		return nil
	}
	s := val.String()
	return &s
}

// FromNumericText parses a NUMERIC column read as text
func FromNumericText(val string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse numeric %q: %w", val, err)
	}
	return d, nil
}

// FromNullNumericText parses a nullable NUMERIC column read as text
func FromNullNumericText(val *string) (*decimal.Decimal, error) {
	if val == nil {
		return nil, nil
	}
	d, err := FromNumericText(*val)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

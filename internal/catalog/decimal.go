package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Decimal is an exact numeric value kept as its decimal text. It binds to
// numeric parameters through pgx, so wide values reach the target unrounded.
type Decimal string

func parseDecimal(raw string) (any, error) {
	return ParseDecimal(raw)
}

// ParseDecimal checks raw is a valid numeric literal and keeps its text.
func ParseDecimal(raw string) (Decimal, error) {
	s := strings.TrimSpace(raw)
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return "", err
	}
	if !n.Valid {
		return "", fmt.Errorf("invalid decimal %q", raw)
	}
	return Decimal(s), nil
}

func DecimalFromFloat(f float64) Decimal {
	return Decimal(strconv.FormatFloat(f, 'f', -1, 64))
}

// NumericValue implements pgtype.NumericValuer.
func (d Decimal) NumericValue() (pgtype.Numeric, error) {
	var n pgtype.Numeric
	err := n.Scan(string(d))
	return n, err
}

// Float64 is the nearest float, for filters and expressions.
func (d Decimal) Float64() (float64, error) {
	return strconv.ParseFloat(string(d), 64)
}

func (d Decimal) String() string {
	return string(d)
}

// MarshalJSON writes the value as a JSON number, or as a string for NaN and
// the infinities, which JSON cannot carry as numbers.
func (d Decimal) MarshalJSON() ([]byte, error) {
	if !json.Valid([]byte(d)) {
		return []byte(strconv.Quote(string(d))), nil
	}
	return []byte(d), nil
}

// Package catalog maps source database type names to native scalar kinds
// and the functions that parse textual values into them.
package catalog

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindString   Kind = "string"
	KindInteger  Kind = "integer"
	KindFloat    Kind = "float"
	KindDecimal  Kind = "decimal"
	KindBoolean  Kind = "boolean"
	KindDate     Kind = "date"
	KindDatetime Kind = "datetime"
	KindTime     Kind = "time"
	KindJSON     Kind = "json"
	KindBytes    Kind = "bytes"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindString, KindInteger, KindFloat, KindDecimal, KindBoolean, KindDate, KindDatetime, KindTime, KindJSON, KindBytes:
		return true
	}
	return false
}

func (k Kind) IsNumeric() bool {
	return k == KindInteger || k == KindFloat || k == KindDecimal
}

func (k Kind) IsTemporal() bool {
	return k == KindDate || k == KindDatetime
}

type ParseFunc func(raw string) (any, error)

type Entry struct {
	Parse ParseFunc
	Kind  Kind
}

type Catalog struct {
	entries      map[string]Entry
	databaseType string
}

const PostgreSQL = "postgresql"

// Postgres returns the catalog for type names as printed by format_type and
// the test_decoding output plugin.
func Postgres() *Catalog {
	c := &Catalog{databaseType: PostgreSQL, entries: make(map[string]Entry, 48)}
	c.register(KindInteger, parseInteger,
		"smallint", "integer", "bigint", "int", "int2", "int4", "int8",
		"smallserial", "serial", "bigserial", "oid", "xid")
	c.register(KindFloat, parseFloat, "real", "double precision", "float4", "float8", "money")
	c.register(KindDecimal, parseDecimal, "numeric", "decimal")
	c.register(KindBoolean, parseBoolean, "boolean", "bool")
	c.register(KindString, parseString,
		"text", "character varying", "varchar", "character", "char", "bpchar", "name",
		"citext", "uuid", "interval", "inet", "cidr", "macaddr", "xml", "tsvector")
	c.register(KindDate, parseDate, "date")
	c.register(KindDatetime, parseDatetime,
		"timestamp without time zone", "timestamp with time zone", "timestamp", "timestamptz")
	c.register(KindTime, parseString, "time without time zone", "time with time zone", "time", "timetz")
	c.register(KindJSON, parseString, "json", "jsonb")
	c.register(KindBytes, parseBytes, "bytea")
	return c
}

func (c *Catalog) register(kind Kind, parse ParseFunc, names ...string) {
	for _, name := range names {
		c.entries[name] = Entry{Kind: kind, Parse: parse}
	}
}

func (c *Catalog) DatabaseType() string {
	return c.databaseType
}

// Lookup resolves a type name after normalization. Array types and unknown
// names resolve to the string entry and report false.
func (c *Catalog) Lookup(typeName string) (Entry, bool) {
	name := Normalize(typeName)
	if strings.HasSuffix(name, "[]") {
		return Entry{Kind: KindString, Parse: parseString}, false
	}
	e, ok := c.entries[name]
	if !ok {
		return Entry{Kind: KindString, Parse: parseString}, false
	}
	return e, true
}

func (c *Catalog) KindOf(typeName string) Kind {
	e, _ := c.Lookup(typeName)
	return e.Kind
}

func (c *Catalog) Parse(typeName, raw string) (any, error) {
	e, _ := c.Lookup(typeName)
	v, err := e.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %q as %s: %w", raw, typeName, err)
	}
	return v, nil
}

// Coerce converts a value that already went through a codec (JSON numbers,
// driver natives, strings) into the native value for typeName.
func (c *Catalog) Coerce(typeName string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	kind := c.KindOf(typeName)
	switch val := v.(type) {
	case string:
		if kind == KindBytes {
			return coerceBytes(val)
		}
		return c.Parse(typeName, val)
	case json.Number:
		return c.Parse(typeName, val.String())
	case []byte:
		if kind == KindBytes {
			return val, nil
		}
		return c.Parse(typeName, string(val))
	case time.Time:
		switch kind {
		case KindDate:
			return time.Date(val.Year(), val.Month(), val.Day(), 0, 0, 0, 0, time.UTC), nil
		case KindString, KindTime:
			return val.Format(time.RFC3339Nano), nil
		}
		return val, nil
	case bool:
		if kind == KindString {
			return strconv.FormatBool(val), nil
		}
		return val, nil
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	if n, ok := toInt64(v); ok && kind == KindInteger {
		return n, nil
	}
	if n, ok := toFloat(v); ok {
		switch kind {
		case KindInteger:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("coerce %v as %s: not an integer", v, typeName)
			}
			return int64(n), nil
		case KindFloat:
			return n, nil
		case KindDecimal:
			return DecimalFromFloat(n), nil
		case KindString:
			return fmt.Sprint(v), nil
		}
	}
	return v, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Normalize lowercases a type name and strips length/precision modifiers,
// e.g. "character varying(255)" -> "character varying" and
// "timestamp(3) without time zone" -> "timestamp without time zone".
func Normalize(typeName string) string {
	name := strings.ToLower(strings.TrimSpace(typeName))
	var b strings.Builder
	depth := 0
	for _, r := range name {
		switch {
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// DDLType is the column type used when a pipeline-created column is added to
// a target table.
func DDLType(kind Kind) string {
	switch kind {
	case KindInteger:
		return "bigint"
	case KindFloat:
		return "double precision"
	case KindDecimal:
		return "numeric"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindDatetime:
		return "timestamp"
	case KindTime:
		return "time"
	case KindJSON:
		return "jsonb"
	case KindBytes:
		return "bytea"
	default:
		return "text"
	}
}

// KindOfValue infers the kind of a native Go value.
func KindOfValue(v any) Kind {
	switch v.(type) {
	case bool:
		return KindBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInteger
	case float32, float64:
		return KindFloat
	case Decimal:
		return KindDecimal
	case time.Time:
		return KindDatetime
	case []byte:
		return KindBytes
	}
	return KindString
}

func parseString(raw string) (any, error) {
	return raw, nil
}

func parseInteger(raw string) (any, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

func parseFloat(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(s, 64)
}

func parseBoolean(raw string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "t", "true", "y", "yes", "on", "1":
		return true, nil
	case "f", "false", "n", "no", "off", "0":
		return false, nil
	}
	return nil, fmt.Errorf("invalid boolean %q", raw)
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
}

var datetimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07:00:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02",
}

func parseDate(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return nil, fmt.Errorf("invalid date %q", raw)
}

func parseDatetime(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("invalid timestamp %q", raw)
}

// ParseTemporal parses a date or timestamp operand the way column values of
// the given kind are parsed.
func ParseTemporal(kind Kind, raw string) (time.Time, error) {
	var (
		v   any
		err error
	)
	if kind == KindDate {
		v, err = parseDate(raw)
	} else {
		v, err = parseDatetime(raw)
	}
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

func parseBytes(raw string) (any, error) {
	if strings.HasPrefix(raw, `\x`) {
		return hex.DecodeString(raw[2:])
	}
	return []byte(raw), nil
}

func coerceBytes(s string) (any, error) {
	if strings.HasPrefix(s, `\x`) {
		return hex.DecodeString(s[2:])
	}
	// encoding/json writes []byte as base64
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return []byte(s), nil
}

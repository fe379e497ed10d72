package catalog_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"character varying(255)":          "character varying",
		"NUMERIC(10,2)":                   "numeric",
		"timestamp(3) without time zone":  "timestamp without time zone",
		"  integer ":                      "integer",
		"character varying(20)[]":         "character varying[]",
		"time(6)   with   time zone":      "time with time zone",
		"double precision":                "double precision",
	}
	for in, want := range tests {
		assert.Equal(t, want, catalog.Normalize(in), in)
	}
}

func TestPostgres_KindOf(t *testing.T) {
	t.Parallel()

	c := catalog.Postgres()
	assert.Equal(t, catalog.KindInteger, c.KindOf("integer"))
	assert.Equal(t, catalog.KindInteger, c.KindOf("bigint"))
	assert.Equal(t, catalog.KindDecimal, c.KindOf("numeric(12,4)"))
	assert.Equal(t, catalog.KindFloat, c.KindOf("double precision"))
	assert.Equal(t, catalog.KindString, c.KindOf("character varying(80)"))
	assert.Equal(t, catalog.KindDatetime, c.KindOf("timestamp with time zone"))
	assert.Equal(t, catalog.KindDate, c.KindOf("date"))
	assert.Equal(t, catalog.KindJSON, c.KindOf("jsonb"))
	assert.Equal(t, catalog.KindString, c.KindOf("integer[]"))
	assert.Equal(t, catalog.KindString, c.KindOf("some_enum"))
	assert.Equal(t, catalog.PostgreSQL, c.DatabaseType())
}

func TestPostgres_Parse(t *testing.T) {
	t.Parallel()

	c := catalog.Postgres()

	v, err := c.Parse("integer", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = c.Parse("numeric", "1234.50")
	require.NoError(t, err)
	assert.Equal(t, catalog.Decimal("1234.50"), v)

	v, err = c.Parse("boolean", "true")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = c.Parse("date", "2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), v)

	v, err = c.Parse("timestamp without time zone", "2024-05-01 10:11:12.123456")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 11, 12, 123456000, time.UTC), v)

	v, err = c.Parse("timestamp with time zone", "2024-05-01 10:11:12+02")
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 5, 1, 8, 11, 12, 0, time.UTC).Equal(v.(time.Time)))

	v, err = c.Parse("bytea", `\x6869`)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), v)

	_, err = c.Parse("integer", "forty-two")
	assert.Error(t, err)

	_, err = c.Parse("boolean", "maybe")
	assert.Error(t, err)
}

func TestPostgres_Coerce(t *testing.T) {
	t.Parallel()

	c := catalog.Postgres()

	v, err := c.Coerce("bigint", json.Number("9007199254740993"))
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), v)

	v, err = c.Coerce("integer", float64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = c.Coerce("integer", 7.5)
	assert.Error(t, err)

	v, err = c.Coerce("date", "2024-01-02T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), v)

	v, err = c.Coerce("jsonb", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, v)

	v, err = c.Coerce("bytea", "aGk=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), v)

	v, err = c.Coerce("text", nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDDLType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bigint", catalog.DDLType(catalog.KindInteger))
	assert.Equal(t, "timestamp", catalog.DDLType(catalog.KindDatetime))
	assert.Equal(t, "text", catalog.DDLType(catalog.KindString))
	assert.Equal(t, "numeric", catalog.DDLType(catalog.KindDecimal))
}

func TestPostgres_DecimalKeepsEveryDigit(t *testing.T) {
	t.Parallel()

	c := catalog.Postgres()
	for _, raw := range []string{"12345678901234567.89", "9007199254740993", "-0.000000000000000000123", "NaN"} {
		v, err := c.Parse("numeric(20,2)", raw)
		require.NoError(t, err, raw)
		require.Equal(t, catalog.Decimal(raw), v, raw)

		n, err := v.(catalog.Decimal).NumericValue()
		require.NoError(t, err, raw)
		assert.True(t, n.Valid, raw)
	}

	_, err := c.Parse("numeric", "12,5")
	assert.Error(t, err)

	// the message hop decodes numbers as json.Number
	body, err := json.Marshal(map[string]any{"v": catalog.Decimal("12345678901234567.89"), "nan": catalog.Decimal("NaN")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v": 12345678901234567.89, "nan": "NaN"}`, string(body))

	var decoded map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&decoded))
	v, err := c.Coerce("numeric", decoded["v"])
	require.NoError(t, err)
	assert.Equal(t, catalog.Decimal("12345678901234567.89"), v)
	v, err = c.Coerce("numeric", decoded["nan"])
	require.NoError(t, err)
	assert.Equal(t, catalog.Decimal("NaN"), v)

	v, err = c.Coerce("decimal", 2.5)
	require.NoError(t, err)
	assert.Equal(t, catalog.Decimal("2.5"), v)

	f, err := catalog.Decimal("12.25").Float64()
	require.NoError(t, err)
	assert.Equal(t, 12.25, f)
	assert.Equal(t, catalog.KindDecimal, catalog.KindOfValue(catalog.Decimal("1")))
}

package replication

import (
	"testing"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/staging"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRows(t *testing.T) {
	t.Parallel()

	ops := []change.Operation{
		employeeOp(change.Insert, 4, 1, "Ada", true),
		{Schema: "public", Table: "employees", Kind: change.Delete, Sequence: 9,
			Columns: []change.Value{{Name: "id", Value: float64(1)}}},
	}
	rows, err := toRows(catalog.Postgres(), employeesTable(), ops)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, table.Row{Operation: change.Insert, Sequence: 4, Values: []any{int64(1), "Ada", true}}, rows[0])
	assert.Equal(t, change.Delete, rows[1].Operation)
	assert.Equal(t, int64(1), rows[1].Values[0])
	assert.True(t, table.IsOmitted(rows[1].Values[1]))
	assert.True(t, table.IsOmitted(rows[1].Values[2]))
}

func TestToRows_Errors(t *testing.T) {
	t.Parallel()

	unknown := []change.Operation{{Schema: "public", Table: "employees", Kind: change.Insert,
		Columns: []change.Value{{Name: "salary", Type: "numeric", Value: float64(1)}}}}
	_, err := toRows(catalog.Postgres(), employeesTable(), unknown)
	assert.ErrorIs(t, err, table.ErrColumnNotFound)

	mistyped := []change.Operation{{Schema: "public", Table: "employees", Kind: change.Insert,
		Columns: []change.Value{{Name: "id", Type: "integer", Value: "one"}}}}
	_, err = toRows(catalog.Postgres(), employeesTable(), mistyped)
	assert.Error(t, err)
}

func TestParseRows(t *testing.T) {
	t.Parallel()

	data := &staging.Data{
		Columns: []string{"id", "name", "active"},
		Rows: [][]*string{
			{str("7"), nil, str("f")},
		},
	}
	rows, err := parseRows(catalog.Postgres(), employeesTable(), data)
	require.NoError(t, err)
	assert.Equal(t, []table.Row{{Operation: change.Insert, Values: []any{int64(7), nil, false}}}, rows)

	_, err = parseRows(catalog.Postgres(), employeesTable(), &staging.Data{Columns: []string{"id"}})
	assert.Error(t, err)

	bad := &staging.Data{Columns: data.Columns, Rows: [][]*string{{str("x"), nil, nil}}}
	_, err = parseRows(catalog.Postgres(), employeesTable(), bad)
	assert.Error(t, err)
}

func TestGroup(t *testing.T) {
	t.Parallel()

	grouped := group(sampleBatch().Operations())
	assert.Len(t, grouped, 3)
	require.Len(t, grouped["public.employees"], 3)
	assert.Equal(t, change.Update, grouped["public.employees"][1].Kind)
	assert.Len(t, grouped["public.orders"], 1)
}

package replication

import (
	"fmt"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/staging"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
)

// toRows aligns change operations with the columns of t. Columns an
// operation does not carry are marked omitted.
func toRows(c *catalog.Catalog, t *table.Table, ops []change.Operation) ([]table.Row, error) {
	rows := make([]table.Row, 0, len(ops))
	for _, op := range ops {
		values := make([]any, len(t.Columns))
		for i := range values {
			values[i] = table.Omitted
		}
		for _, v := range op.Columns {
			i := t.ColumnIndex(v.Name)
			if i < 0 {
				return nil, fmt.Errorf("%s: operation %d: %s: %w", t.FullName(), op.Sequence, v.Name, table.ErrColumnNotFound)
			}
			typ := v.Type
			if typ == "" {
				typ = t.Columns[i].Type
			}
			val, err := c.Coerce(typ, v.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: operation %d: %s: %w", t.FullName(), op.Sequence, v.Name, err)
			}
			values[i] = val
		}
		rows = append(rows, table.Row{Operation: op.Kind, Values: values, Sequence: op.Sequence})
	}
	return rows, nil
}

// parseRows turns staged text values into insert rows of t.
func parseRows(c *catalog.Catalog, t *table.Table, data *staging.Data) ([]table.Row, error) {
	if len(data.Columns) != len(t.Columns) {
		return nil, fmt.Errorf("%s: staged %d columns for %d", t.FullName(), len(data.Columns), len(t.Columns))
	}
	rows := make([]table.Row, len(data.Rows))
	for r, raw := range data.Rows {
		values := make([]any, len(raw))
		for i, v := range raw {
			if v == nil {
				continue
			}
			val, err := c.Parse(t.Columns[i].Type, *v)
			if err != nil {
				return nil, fmt.Errorf("%s: row %d: %s: %w", t.FullName(), r, t.Columns[i].Name, err)
			}
			values[i] = val
		}
		rows[r] = table.Row{Operation: change.Insert, Values: values, Sequence: int64(r)}
	}
	return rows, nil
}

// group splits ops by source table identity keeping their order.
func group(ops []change.Operation) map[string][]change.Operation {
	out := make(map[string][]change.Operation)
	for _, op := range ops {
		id := op.Identity()
		out[id] = append(out[id], op)
	}
	return out
}

// Package table models a replicated table: its source and destination
// identity, column catalog, filter and transformation definitions, and the
// transient rows currently being processed.
package table

import (
	"errors"
	"fmt"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
)

var ErrColumnNotFound = errors.New("column not found")

type omitted struct{}

func (omitted) String() string { return "<omitted>" }

// Omitted marks a column the change did not carry (an unchanged TOAST value
// or a non-key column of a delete). Writers skip it instead of writing NULL.
var Omitted any = omitted{}

func IsOmitted(v any) bool {
	_, ok := v.(omitted)
	return ok
}

type Column struct {
	Name       string       `yaml:"name" json:"name"`
	Type       string       `yaml:"type" json:"type"`
	Kind       catalog.Kind `yaml:"kind" json:"kind"`
	SCD2       SCD2Role     `yaml:"scd2_role,omitempty" json:"scd2_role,omitempty"`
	Ordinal    int          `yaml:"ordinal" json:"ordinal"`
	Nullable   bool         `yaml:"nullable" json:"nullable"`
	PrimaryKey bool         `yaml:"primary_key" json:"primary_key"`
	Created    bool         `yaml:"created" json:"created"`
}

// Row is one change or one source record. Values are aligned with the
// table's Columns; Operation and Sequence are the synthetic fields.
type Row struct {
	Operation change.Kind
	Values    []any
	Sequence  int64
}

type Payload struct {
	Rows []Row
}

func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Rows)
}

type Table struct {
	Payload         *Payload         `yaml:"-" json:"-"`
	Schema          string           `yaml:"schema" json:"schema"`
	Name            string           `yaml:"table" json:"table"`
	TargetSchema    string           `yaml:"target_schema" json:"target_schema"`
	TargetName      string           `yaml:"target_table" json:"target_table"`
	Columns         []Column         `yaml:"columns" json:"columns"`
	Filters         []Filter         `yaml:"filters,omitempty" json:"filters,omitempty"`
	Transformations []Transformation `yaml:"transformations,omitempty" json:"transformations,omitempty"`
	Priority        Priority         `yaml:"priority" json:"priority"`
	Index           int              `yaml:"index" json:"index"`
}

func New(schema, name string) *Table {
	return &Table{
		Schema:       schema,
		Name:         name,
		TargetSchema: schema,
		TargetName:   name,
		Payload:      &Payload{},
	}
}

// FullName identifies the source table, TargetFullName the destination.
func (t *Table) FullName() string {
	return t.Schema + "." + t.Name
}

func (t *Table) TargetFullName() string {
	return t.TargetSchema + "." + t.TargetName
}

func (t *Table) ColumnIndex(name string) int {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

func (t *Table) Column(name string) (*Column, error) {
	i := t.ColumnIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("%s.%s: %w", t.FullName(), name, ErrColumnNotFound)
	}
	return &t.Columns[i], nil
}

func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

func (t *Table) PrimaryKeys() []Column {
	var keys []Column
	for _, c := range t.Columns {
		if c.PrimaryKey {
			keys = append(keys, c)
		}
	}
	return keys
}

// AddColumn appends c with the given per-row values. The ordinal is assigned
// from the current column count.
func (t *Table) AddColumn(c Column, values []any) error {
	if t.HasColumn(c.Name) {
		return fmt.Errorf("%s: column %q already exists", t.FullName(), c.Name)
	}
	if t.Payload.Len() != len(values) {
		return fmt.Errorf("%s: %d values for %d rows", t.FullName(), len(values), t.Payload.Len())
	}
	c.Ordinal = len(t.Columns) + 1
	t.Columns = append(t.Columns, c)
	if t.Payload == nil {
		return nil
	}
	for i := range t.Payload.Rows {
		t.Payload.Rows[i].Values = append(t.Payload.Rows[i].Values, values[i])
	}
	return nil
}

// Values returns the column of values at index i across all rows.
func (t *Table) Values(i int) []any {
	out := make([]any, t.Payload.Len())
	for r := range out {
		out[r] = t.Payload.Rows[r].Values[i]
	}
	return out
}

// SetPayload replaces the rows. Every row must carry one value per column.
func (t *Table) SetPayload(rows []Row) error {
	for i := range rows {
		if len(rows[i].Values) != len(t.Columns) {
			return fmt.Errorf("%s: row %d has %d values for %d columns",
				t.FullName(), i, len(rows[i].Values), len(t.Columns))
		}
	}
	t.Payload = &Payload{Rows: rows}
	return nil
}

// Clone copies the definition and the payload so the copy can be mutated by
// a pipeline run without touching the original.
func (t *Table) Clone() *Table {
	c := *t
	c.Columns = append([]Column(nil), t.Columns...)
	c.Filters = append([]Filter(nil), t.Filters...)
	c.Transformations = append([]Transformation(nil), t.Transformations...)
	c.Payload = &Payload{}
	if t.Payload != nil {
		c.Payload.Rows = make([]Row, len(t.Payload.Rows))
		for i, r := range t.Payload.Rows {
			r.Values = append([]any(nil), r.Values...)
			c.Payload.Rows[i] = r
		}
	}
	return &c
}

// Template returns a copy of the definition without rows.
func (t *Table) Template() *Table {
	c := *t
	c.Columns = append([]Column(nil), t.Columns...)
	c.Filters = append([]Filter(nil), t.Filters...)
	c.Transformations = append([]Transformation(nil), t.Transformations...)
	c.Payload = &Payload{}
	return &c
}

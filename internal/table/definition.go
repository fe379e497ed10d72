package table

import "sort"

type SCD2Role string

const (
	RoleNone      SCD2Role = ""
	RoleStartDate SCD2Role = "start_date"
	RoleEndDate   SCD2Role = "end_date"
	RoleCurrent   SCD2Role = "current"
)

func (r SCD2Role) IsValid() bool {
	switch r {
	case RoleNone, RoleStartDate, RoleEndDate, RoleCurrent:
		return true
	}
	return false
}

type FilterKind string

const (
	FilterEquals                 FilterKind = "equals"
	FilterNotEquals              FilterKind = "not_equals"
	FilterGreaterThan            FilterKind = "greater_than"
	FilterGreaterThanOrEqual     FilterKind = "greater_than_or_equal"
	FilterLessThan               FilterKind = "less_than"
	FilterLessThanOrEqual        FilterKind = "less_than_or_equal"
	FilterIn                     FilterKind = "in"
	FilterNotIn                  FilterKind = "not_in"
	FilterIsNull                 FilterKind = "is_null"
	FilterIsNotNull              FilterKind = "is_not_null"
	FilterStartsWith             FilterKind = "starts_with"
	FilterNotStartsWith          FilterKind = "not_starts_with"
	FilterEndsWith               FilterKind = "ends_with"
	FilterNotEndsWith            FilterKind = "not_ends_with"
	FilterContains               FilterKind = "contains"
	FilterNotContains            FilterKind = "not_contains"
	FilterBetween                FilterKind = "between"
	FilterNotBetween             FilterKind = "not_between"
	FilterDateEquals             FilterKind = "date_equals"
	FilterDateNotEquals          FilterKind = "date_not_equals"
	FilterDateGreaterThan        FilterKind = "date_greater_than"
	FilterDateGreaterThanOrEqual FilterKind = "date_greater_than_or_equal"
	FilterDateLessThan           FilterKind = "date_less_than"
	FilterDateLessThanOrEqual    FilterKind = "date_less_than_or_equal"
	FilterDateBetween            FilterKind = "date_between"
	FilterDateNotBetween         FilterKind = "date_not_between"
)

// Filter narrows a payload to the rows matching a predicate on one column.
type Filter struct {
	Value    any        `yaml:"value,omitempty" json:"value,omitempty" mapstructure:"value"`
	Lower    any        `yaml:"lower,omitempty" json:"lower,omitempty" mapstructure:"lower"`
	Upper    any        `yaml:"upper,omitempty" json:"upper,omitempty" mapstructure:"upper"`
	Column   string     `yaml:"column" json:"column" mapstructure:"column"`
	Kind     FilterKind `yaml:"kind" json:"kind" mapstructure:"kind"`
	Values   []any      `yaml:"values,omitempty" json:"values,omitempty" mapstructure:"values"`
	Priority Priority   `yaml:"priority" json:"priority" mapstructure:"priority"`
}

type TransformationKind string

const (
	CreateColumn     TransformationKind = "create_column"
	ModifyColumn     TransformationKind = "modify_column"
	ModifySchemaName TransformationKind = "modify_schema_name"
	ModifyTableName  TransformationKind = "modify_table_name"
	ModifyColumnName TransformationKind = "modify_column_name"
	AddPrimaryKey    TransformationKind = "add_primary_key"
	RemovePrimaryKey TransformationKind = "remove_primary_key"
)

type Operation string

const (
	OpLiteral          Operation = "literal"
	OpDateNow          Operation = "date_now"
	OpConcat           Operation = "concat"
	OpDateDiffYears    Operation = "date_diff_years"
	OpFormatDate       Operation = "format_date"
	OpExtractYear      Operation = "extract_year"
	OpExtractMonth     Operation = "extract_month"
	OpExtractDay       Operation = "extract_day"
	OpUppercase        Operation = "uppercase"
	OpLowercase        Operation = "lowercase"
	OpTrim             Operation = "trim"
	OpMathExpression   Operation = "math_expression"
	OpRenameSchema     Operation = "rename_schema"
	OpRenameTable      Operation = "rename_table"
	OpRenameColumn     Operation = "rename_column"
	OpAddPrimaryKey    Operation = "add_primary_key"
	OpRemovePrimaryKey Operation = "remove_primary_key"
)

// Contract names the operation and everything it needs. Column is the
// destination column for create/modify and the subject column for column
// renames and primary key changes.
type Contract struct {
	Params    map[string]any `yaml:"params,omitempty" json:"params,omitempty" mapstructure:"params"`
	Operation Operation      `yaml:"operation" json:"operation" mapstructure:"operation"`
	Column    string         `yaml:"column,omitempty" json:"column,omitempty" mapstructure:"column"`
	SCD2Role  SCD2Role       `yaml:"scd2_role,omitempty" json:"scd2_role,omitempty" mapstructure:"scd2_role"`
	DependsOn []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty" mapstructure:"depends_on"`
}

func (c Contract) Param(name string) (any, bool) {
	v, ok := c.Params[name]
	return v, ok
}

type Transformation struct {
	Kind     TransformationKind `yaml:"kind" json:"kind" mapstructure:"kind"`
	Contract Contract           `yaml:"contract" json:"contract" mapstructure:"contract"`
	Priority Priority           `yaml:"priority" json:"priority" mapstructure:"priority"`
}

// SortedFilters returns the filters in execution order. Equal priorities keep
// their definition order.
func (t *Table) SortedFilters() []Filter {
	out := make([]Filter, len(t.Filters))
	copy(out, t.Filters)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func (t *Table) SortedTransformations() []Transformation {
	out := make([]Transformation, len(t.Transformations))
	copy(out, t.Transformations)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// SortByPriority orders tables for processing; ties keep the configured index.
func SortByPriority(tables []*Table) {
	sort.SliceStable(tables, func(i, j int) bool {
		if tables[i].Priority != tables[j].Priority {
			return tables[i].Priority < tables[j].Priority
		}
		return tables[i].Index < tables[j].Index
	})
}

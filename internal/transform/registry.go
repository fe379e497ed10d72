package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
)

type evalContext struct {
	now  time.Time
	expr expr
}

// valueFunc computes the value of one row from the values of the contract's
// dependency columns, in the order they are listed.
type valueFunc func(ec *evalContext, args []any, c table.Contract) (any, error)

type structureFunc func(t *table.Table, c table.Contract) error

type strategy struct {
	eval      valueFunc
	structure structureFunc
	result    func(c table.Contract) catalog.Kind
	params    []string
	accepts   []catalog.Kind
	minDeps   int
	maxDeps   int
}

func (s strategy) isStructural() bool {
	return s.structure != nil
}

var (
	stringKinds   = []catalog.Kind{catalog.KindString}
	temporalKinds = []catalog.Kind{catalog.KindDate, catalog.KindDatetime}
	numericKinds  = []catalog.Kind{catalog.KindInteger, catalog.KindFloat, catalog.KindDecimal}
)

func fixedKind(k catalog.Kind) func(table.Contract) catalog.Kind {
	return func(table.Contract) catalog.Kind { return k }
}

var registry = map[table.Operation]strategy{
	table.OpLiteral: {
		eval:   literal,
		result: literalKind,
		params: []string{"value"},
	},
	table.OpDateNow: {
		eval: dateNow,
		result: func(c table.Contract) catalog.Kind {
			if dateTypeParam(c) == catalog.KindDate {
				return catalog.KindDate
			}
			return catalog.KindDatetime
		},
	},
	table.OpConcat: {
		eval:    concat,
		result:  fixedKind(catalog.KindString),
		accepts: stringKinds,
		minDeps: 1,
		maxDeps: -1,
	},
	table.OpDateDiffYears: {
		eval:    dateDiffYears,
		result:  fixedKind(catalog.KindInteger),
		accepts: temporalKinds,
		minDeps: 1,
		maxDeps: 2,
	},
	table.OpFormatDate: {
		eval:    formatDate,
		result:  fixedKind(catalog.KindString),
		params:  []string{"format"},
		accepts: temporalKinds,
		minDeps: 1,
		maxDeps: 1,
	},
	table.OpExtractYear:  extractPart(func(t time.Time) int64 { return int64(t.Year()) }),
	table.OpExtractMonth: extractPart(func(t time.Time) int64 { return int64(t.Month()) }),
	table.OpExtractDay:   extractPart(func(t time.Time) int64 { return int64(t.Day()) }),
	table.OpUppercase:    stringFunc(strings.ToUpper),
	table.OpLowercase:    stringFunc(strings.ToLower),
	table.OpTrim:         stringFunc(strings.TrimSpace),
	table.OpMathExpression: {
		eval:    mathExpression,
		result:  fixedKind(catalog.KindFloat),
		params:  []string{"expression"},
		accepts: numericKinds,
		minDeps: 1,
		maxDeps: 1,
	},
	table.OpRenameSchema: {
		structure: func(t *table.Table, c table.Contract) error {
			t.TargetSchema = stringParam(c, "name")
			return nil
		},
		params: []string{"name"},
	},
	table.OpRenameTable: {
		structure: func(t *table.Table, c table.Contract) error {
			t.TargetName = stringParam(c, "name")
			return nil
		},
		params: []string{"name"},
	},
	table.OpRenameColumn: {
		structure: func(t *table.Table, c table.Contract) error {
			col, err := t.Column(c.Column)
			if err != nil {
				return err
			}
			col.Name = stringParam(c, "name")
			return nil
		},
		params: []string{"name"},
	},
	table.OpAddPrimaryKey:    primaryKey(true),
	table.OpRemovePrimaryKey: primaryKey(false),
}

// operationFor maps structural transformation kinds to their implied
// operation; create/modify take the contract's operation.
var operationFor = map[table.TransformationKind]table.Operation{
	table.ModifySchemaName: table.OpRenameSchema,
	table.ModifyTableName:  table.OpRenameTable,
	table.ModifyColumnName: table.OpRenameColumn,
	table.AddPrimaryKey:    table.OpAddPrimaryKey,
	table.RemovePrimaryKey: table.OpRemovePrimaryKey,
}

// resolve finds the strategy for a transformation and checks the kind and
// operation agree.
func resolve(tr table.Transformation) (table.Operation, strategy, error) {
	op := tr.Contract.Operation
	switch tr.Kind {
	case table.CreateColumn, table.ModifyColumn:
		s, ok := registry[op]
		if !ok {
			return op, strategy{}, &InvalidOperationError{Operation: string(op)}
		}
		if s.isStructural() {
			return op, strategy{}, &InvalidOperationError{
				Operation: string(op),
				Reason:    fmt.Sprintf("not a value operation, cannot be used by %s", tr.Kind),
			}
		}
		return op, s, nil
	}
	implied, ok := operationFor[tr.Kind]
	if !ok {
		return op, strategy{}, &InvalidOperationError{Operation: string(tr.Kind), Reason: "unknown transformation kind"}
	}
	if op != "" && op != implied {
		return op, strategy{}, &InvalidOperationError{
			Operation: string(op),
			Reason:    fmt.Sprintf("%s requires operation %s", tr.Kind, implied),
		}
	}
	return implied, registry[implied], nil
}

func literal(_ *evalContext, _ []any, c table.Contract) (any, error) {
	v, _ := c.Param("value")
	return literalValue(v, literalKind(c))
}

func literalKind(c table.Contract) catalog.Kind {
	if s, ok := c.Params["type"].(string); ok && catalog.Kind(s).IsValid() {
		return catalog.Kind(s)
	}
	v, _ := c.Param("value")
	return catalog.KindOfValue(v)
}

func literalValue(v any, kind catalog.Kind) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case catalog.KindDate, catalog.KindDatetime:
		if s, ok := v.(string); ok {
			return catalog.ParseTemporal(kind, s)
		}
	case catalog.KindInteger:
		if f, ok := toFloat(v); ok {
			return int64(f), nil
		}
	case catalog.KindFloat:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case catalog.KindDecimal:
		switch d := v.(type) {
		case string:
			return catalog.ParseDecimal(d)
		case catalog.Decimal:
			return d, nil
		}
		if f, ok := toFloat(v); ok {
			return catalog.DecimalFromFloat(f), nil
		}
	case catalog.KindString:
		if _, ok := v.(string); !ok {
			return fmt.Sprint(v), nil
		}
	}
	return v, nil
}

func dateTypeParam(c table.Contract) catalog.Kind {
	if s, ok := c.Params["date_type"].(string); ok && s == string(catalog.KindDate) {
		return catalog.KindDate
	}
	return catalog.KindDatetime
}

func dateNow(ec *evalContext, _ []any, c table.Contract) (any, error) {
	if dateTypeParam(c) == catalog.KindDate {
		y, m, d := ec.now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return ec.now, nil
}

// concat joins the dependency values; NULL parts are skipped.
func concat(_ *evalContext, args []any, c table.Contract) (any, error) {
	sep := stringParam(c, "separator")
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, sep), nil
}

func dateDiffYears(ec *evalContext, args []any, _ table.Contract) (any, error) {
	from, ok := args[0].(time.Time)
	if !ok {
		return nil, nil
	}
	to := ec.now
	if len(args) > 1 {
		if to, ok = args[1].(time.Time); !ok {
			return nil, nil
		}
	}
	years := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	return int64(years), nil
}

func formatDate(_ *evalContext, args []any, c table.Contract) (any, error) {
	t, ok := args[0].(time.Time)
	if !ok {
		return nil, nil
	}
	return strftime(t, stringParam(c, "format")), nil
}

func extractPart(part func(time.Time) int64) strategy {
	return strategy{
		eval: func(_ *evalContext, args []any, _ table.Contract) (any, error) {
			t, ok := args[0].(time.Time)
			if !ok {
				return nil, nil
			}
			return part(t), nil
		},
		result:  fixedKind(catalog.KindInteger),
		accepts: temporalKinds,
		minDeps: 1,
		maxDeps: 1,
	}
}

func stringFunc(fn func(string) string) strategy {
	return strategy{
		eval: func(_ *evalContext, args []any, _ table.Contract) (any, error) {
			s, ok := args[0].(string)
			if !ok {
				return nil, nil
			}
			return fn(s), nil
		},
		result:  fixedKind(catalog.KindString),
		accepts: stringKinds,
		minDeps: 1,
		maxDeps: 1,
	}
}

func mathExpression(ec *evalContext, args []any, _ table.Contract) (any, error) {
	v, ok := toFloat(args[0])
	if !ok {
		return nil, nil
	}
	return ec.expr.eval(v)
}

func primaryKey(flag bool) strategy {
	return strategy{
		structure: func(t *table.Table, c table.Contract) error {
			col, err := t.Column(c.Column)
			if err != nil {
				return err
			}
			col.PrimaryKey = flag
			return nil
		},
	}
}

func stringParam(c table.Contract, name string) string {
	v, ok := c.Params[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case catalog.Decimal:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
)

type operandShape int

const (
	noOperand operandShape = iota
	singleOperand
	setOperand
	rangeOperand
)

type filterSpec struct {
	match func(v any, f *compiledFilter) bool
	shape operandShape
	// column kinds the filter may run on; nil means any
	kinds    []catalog.Kind
	temporal bool
	negate   bool
}

type compiledFilter struct {
	value  any
	values []any
	lower  any
	upper  any
}

func cmpMatch(pred func(int) bool) func(v any, f *compiledFilter) bool {
	return func(v any, f *compiledFilter) bool {
		c, ok := compare(v, f.value)
		return ok && pred(c)
	}
}

func stringMatch(pred func(s, operand string) bool) func(v any, f *compiledFilter) bool {
	return func(v any, f *compiledFilter) bool {
		s, ok := v.(string)
		return ok && pred(s, f.value.(string))
	}
}

func inSet(v any, f *compiledFilter) bool {
	for _, o := range f.values {
		if c, ok := compare(v, o); ok && c == 0 {
			return true
		}
	}
	return false
}

func inRange(v any, f *compiledFilter) bool {
	lo, ok1 := compare(v, f.lower)
	hi, ok2 := compare(v, f.upper)
	return ok1 && ok2 && lo >= 0 && hi <= 0
}

var (
	comparableKinds = []catalog.Kind{catalog.KindString, catalog.KindInteger, catalog.KindFloat, catalog.KindDecimal, catalog.KindBoolean}
	orderedKinds    = []catalog.Kind{catalog.KindString, catalog.KindInteger, catalog.KindFloat, catalog.KindDecimal}
)

var filterKinds = map[table.FilterKind]filterSpec{
	table.FilterEquals:             {shape: singleOperand, kinds: comparableKinds, match: cmpMatch(func(c int) bool { return c == 0 })},
	table.FilterNotEquals:          {shape: singleOperand, kinds: comparableKinds, match: cmpMatch(func(c int) bool { return c != 0 })},
	table.FilterGreaterThan:        {shape: singleOperand, kinds: orderedKinds, match: cmpMatch(func(c int) bool { return c > 0 })},
	table.FilterGreaterThanOrEqual: {shape: singleOperand, kinds: orderedKinds, match: cmpMatch(func(c int) bool { return c >= 0 })},
	table.FilterLessThan:           {shape: singleOperand, kinds: orderedKinds, match: cmpMatch(func(c int) bool { return c < 0 })},
	table.FilterLessThanOrEqual:    {shape: singleOperand, kinds: orderedKinds, match: cmpMatch(func(c int) bool { return c <= 0 })},
	table.FilterIn:                 {shape: setOperand, kinds: comparableKinds, match: inSet},
	table.FilterNotIn:              {shape: setOperand, kinds: comparableKinds, match: inSet, negate: true},
	table.FilterIsNull:             {shape: noOperand},
	table.FilterIsNotNull:          {shape: noOperand},
	table.FilterStartsWith:         {shape: singleOperand, kinds: stringKinds, match: stringMatch(strings.HasPrefix)},
	table.FilterNotStartsWith:      {shape: singleOperand, kinds: stringKinds, match: stringMatch(strings.HasPrefix), negate: true},
	table.FilterEndsWith:           {shape: singleOperand, kinds: stringKinds, match: stringMatch(strings.HasSuffix)},
	table.FilterNotEndsWith:        {shape: singleOperand, kinds: stringKinds, match: stringMatch(strings.HasSuffix), negate: true},
	table.FilterContains:           {shape: singleOperand, kinds: stringKinds, match: stringMatch(strings.Contains)},
	table.FilterNotContains:        {shape: singleOperand, kinds: stringKinds, match: stringMatch(strings.Contains), negate: true},
	table.FilterBetween:            {shape: rangeOperand, kinds: numericKinds, match: inRange},
	table.FilterNotBetween:         {shape: rangeOperand, kinds: numericKinds, match: inRange, negate: true},

	table.FilterDateEquals:             {shape: singleOperand, temporal: true, match: cmpMatch(func(c int) bool { return c == 0 })},
	table.FilterDateNotEquals:          {shape: singleOperand, temporal: true, match: cmpMatch(func(c int) bool { return c != 0 })},
	table.FilterDateGreaterThan:        {shape: singleOperand, temporal: true, match: cmpMatch(func(c int) bool { return c > 0 })},
	table.FilterDateGreaterThanOrEqual: {shape: singleOperand, temporal: true, match: cmpMatch(func(c int) bool { return c >= 0 })},
	table.FilterDateLessThan:           {shape: singleOperand, temporal: true, match: cmpMatch(func(c int) bool { return c < 0 })},
	table.FilterDateLessThanOrEqual:    {shape: singleOperand, temporal: true, match: cmpMatch(func(c int) bool { return c <= 0 })},
	table.FilterDateBetween:            {shape: rangeOperand, temporal: true, match: inRange},
	table.FilterDateNotBetween:         {shape: rangeOperand, temporal: true, match: inRange, negate: true},
}

// applyFilter keeps the rows matching f. A NULL or omitted value matches
// only is_null; every other predicate, negated ones included, drops it.
func applyFilter(t *table.Table, f table.Filter) error {
	fk, ok := filterKinds[f.Kind]
	if !ok {
		return &InvalidOperationError{Operation: string(f.Kind), Reason: "unknown filter kind"}
	}
	idx := t.ColumnIndex(f.Column)
	if idx < 0 {
		return &ValidationError{Kind: ColumnNotFound, Table: t.FullName(), Column: f.Column}
	}
	col := t.Columns[idx]
	cf, err := compileFilter(t, col, f, fk)
	if err != nil {
		return err
	}

	rows := t.Payload.Rows[:0:0]
	for _, row := range t.Payload.Rows {
		v := row.Values[idx]
		isNull := v == nil || table.IsOmitted(v)
		var keep bool
		switch {
		case f.Kind == table.FilterIsNull:
			keep = isNull
		case f.Kind == table.FilterIsNotNull:
			keep = !isNull
		case isNull:
			keep = false
		default:
			keep = fk.match(v, cf) != fk.negate
		}
		if keep {
			rows = append(rows, row)
		}
	}
	t.Payload.Rows = rows
	return nil
}

func compileFilter(t *table.Table, col table.Column, f table.Filter, fk filterSpec) (*compiledFilter, error) {
	invalid := func(param, format string, args ...any) error {
		return &ValidationError{Kind: InvalidOperand, Table: t.FullName(), Column: col.Name, Parameter: param,
			Message: fmt.Sprintf(format, args...)}
	}

	if fk.temporal {
		if !col.Kind.IsTemporal() {
			return nil, &ValidationError{Kind: TypeMismatch, Table: t.FullName(), Column: col.Name,
				Message: fmt.Sprintf("%s requires a date or datetime column, column is %s", f.Kind, col.Kind)}
		}
	} else if fk.kinds != nil && !containsKind(fk.kinds, col.Kind) {
		return nil, &ValidationError{Kind: TypeMismatch, Table: t.FullName(), Column: col.Name,
			Message: fmt.Sprintf("%s cannot run on a %s column", f.Kind, col.Kind)}
	}

	operand := func(param string, v any) (any, error) {
		if v == nil {
			return nil, invalid(param, "%s requires %q", f.Kind, param)
		}
		if fk.temporal {
			s, ok := v.(string)
			if !ok {
				if tv, ok := v.(time.Time); ok {
					return tv, nil
				}
				return nil, invalid(param, "date operand must be a string, got %T", v)
			}
			tv, err := catalog.ParseTemporal(col.Kind, s)
			if err != nil {
				return nil, invalid(param, "%v", err)
			}
			return tv, nil
		}
		if !operandFits(col.Kind, v) {
			return nil, &ValidationError{Kind: TypeMismatch, Table: t.FullName(), Column: col.Name, Parameter: param,
				Message: fmt.Sprintf("operand %v (%T) does not match column kind %s", v, v, col.Kind)}
		}
		return v, nil
	}

	cf := &compiledFilter{}
	var err error
	switch fk.shape {
	case singleOperand:
		if cf.value, err = operand("value", f.Value); err != nil {
			return nil, err
		}
	case setOperand:
		if len(f.Values) == 0 {
			return nil, invalid("values", "%s requires a non-empty value set", f.Kind)
		}
		for _, v := range f.Values {
			o, err := operand("values", v)
			if err != nil {
				return nil, err
			}
			cf.values = append(cf.values, o)
		}
	case rangeOperand:
		if cf.lower, err = operand("lower", f.Lower); err != nil {
			return nil, err
		}
		if cf.upper, err = operand("upper", f.Upper); err != nil {
			return nil, err
		}
		if c, ok := compare(cf.lower, cf.upper); !ok || c > 0 {
			return nil, invalid("lower", "lower bound %v is above upper bound %v", f.Lower, f.Upper)
		}
	}
	return cf, nil
}

func containsKind(kinds []catalog.Kind, k catalog.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func operandFits(kind catalog.Kind, v any) bool {
	switch kind {
	case catalog.KindInteger, catalog.KindFloat, catalog.KindDecimal:
		_, ok := toFloat(v)
		return ok
	case catalog.KindBoolean:
		_, ok := v.(bool)
		return ok
	case catalog.KindString:
		_, ok := v.(string)
		return ok
	}
	return false
}

// compare orders two values of the same family. ok is false when they
// cannot be compared.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	}
	return 0, false
}

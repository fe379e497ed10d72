// Package transform runs a table's filters and transformations over its
// payload. Every step validates against the current column catalog before
// it touches the table.
package transform

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
)

type Engine struct {
	now func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the filters, then the transformations, each group in
// ascending priority order. It stops at the first error.
func (e *Engine) Execute(t *table.Table) error {
	now := e.now()
	for _, f := range t.SortedFilters() {
		if err := applyFilter(t, f); err != nil {
			return err
		}
	}
	for _, tr := range t.SortedTransformations() {
		if err := e.apply(t, tr, now); err != nil {
			return err
		}
	}
	return nil
}

// CheckDefinitions reports configuration errors that do not depend on the
// column catalog: unknown kinds, missing parameters, malformed expressions
// and formats.
func CheckDefinitions(t *table.Table) error {
	var errs []error
	for _, f := range t.Filters {
		if _, ok := filterKinds[f.Kind]; !ok {
			errs = append(errs, &InvalidOperationError{Operation: string(f.Kind), Reason: "unknown filter kind"})
		}
	}
	for _, tr := range t.Transformations {
		op, s, err := resolve(tr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := checkParams(t, op, s, tr.Contract); err != nil {
			errs = append(errs, err)
			continue
		}
		if !tr.Contract.SCD2Role.IsValid() {
			errs = append(errs, &ValidationError{
				Kind: InvalidOperand, Table: t.FullName(), Column: tr.Contract.Column,
				Parameter: "scd2_role", Message: fmt.Sprintf("unknown role %q", tr.Contract.SCD2Role),
			})
		}
	}
	return errors.Join(errs...)
}

func checkParams(t *table.Table, op table.Operation, s strategy, c table.Contract) error {
	for _, p := range s.params {
		if v, ok := c.Params[p]; !ok || v == nil || v == "" {
			return &ValidationError{Kind: MissingParameter, Table: t.FullName(), Column: c.Column, Parameter: p,
				Message: fmt.Sprintf("%s requires %q", op, p)}
		}
	}
	switch op {
	case table.OpMathExpression:
		if _, err := compileExpression(stringParam(c, "expression")); err != nil {
			return &ValidationError{Kind: InvalidExpression, Table: t.FullName(), Column: c.Column,
				Parameter: "expression", Message: err.Error()}
		}
	case table.OpFormatDate:
		if err := checkStrftime(stringParam(c, "format")); err != nil {
			return &ValidationError{Kind: InvalidOperand, Table: t.FullName(), Column: c.Column,
				Parameter: "format", Message: err.Error()}
		}
	}
	return nil
}

func (e *Engine) apply(t *table.Table, tr table.Transformation, now time.Time) error {
	op, s, err := resolve(tr)
	if err != nil {
		return err
	}
	c := tr.Contract
	deps, err := validate(t, tr.Kind, op, s, c)
	if err != nil {
		return err
	}

	if s.isStructural() {
		if err := s.structure(t, c); err != nil {
			return &ValidationError{Kind: EvaluationFailed, Table: t.FullName(), Column: c.Column, Message: err.Error()}
		}
		return nil
	}

	ec := &evalContext{now: now}
	if op == table.OpMathExpression {
		if ec.expr, err = compileExpression(stringParam(c, "expression")); err != nil {
			return &ValidationError{Kind: InvalidExpression, Table: t.FullName(), Column: c.Column,
				Parameter: "expression", Message: err.Error()}
		}
	}

	values, err := evaluate(t, ec, s, c, deps)
	if err != nil {
		return err
	}

	if tr.Kind == table.CreateColumn {
		return t.AddColumn(table.Column{
			Name:     c.Column,
			Type:     catalog.DDLType(s.result(c)),
			Kind:     s.result(c),
			Nullable: true,
			Created:  true,
			SCD2:     c.SCD2Role,
		}, values)
	}
	idx := t.ColumnIndex(c.Column)
	col := t.Columns[idx]
	for r, v := range values {
		conformed, err := conform(col.Kind, v)
		if err != nil {
			return &ValidationError{Kind: TypeMismatch, Table: t.FullName(), Column: c.Column,
				Message: fmt.Sprintf("row %d: %v", t.Payload.Rows[r].Sequence, err)}
		}
		values[r] = conformed
	}
	for r := range t.Payload.Rows {
		t.Payload.Rows[r].Values[idx] = values[r]
	}
	return nil
}

// conform converts a modified value back to the kind of the column it is
// written to. Integer columns reject fractional results.
func conform(kind catalog.Kind, v any) (any, error) {
	if v == nil || table.IsOmitted(v) {
		return v, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return v, nil
	}
	switch kind {
	case catalog.KindInteger:
		if _, isInt := v.(int64); isInt {
			return v, nil
		}
		if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
			return nil, fmt.Errorf("%v does not fit an integer column", v)
		}
		return int64(f), nil
	case catalog.KindFloat:
		return f, nil
	case catalog.KindDecimal:
		if _, isDecimal := v.(catalog.Decimal); isDecimal {
			return v, nil
		}
		return catalog.DecimalFromFloat(f), nil
	}
	return v, nil
}

// validate runs the checks in order: destination column, dependency
// existence, required parameters, dependency kinds. It returns the
// dependency column indexes.
func validate(t *table.Table, kind table.TransformationKind, op table.Operation, s strategy, c table.Contract) ([]int, error) {
	name := t.FullName()

	switch kind {
	case table.CreateColumn:
		if c.Column == "" {
			return nil, &ValidationError{Kind: EmptyColumnName, Table: name, Message: "create_column needs a column name"}
		}
		if t.HasColumn(c.Column) {
			return nil, &ValidationError{Kind: ColumnExists, Table: name, Column: c.Column}
		}
	case table.ModifyColumn, table.ModifyColumnName, table.AddPrimaryKey, table.RemovePrimaryKey:
		if c.Column == "" {
			return nil, &ValidationError{Kind: EmptyColumnName, Table: name, Message: fmt.Sprintf("%s needs a column name", kind)}
		}
		if !t.HasColumn(c.Column) {
			return nil, &ValidationError{Kind: ColumnNotFound, Table: name, Column: c.Column}
		}
	}

	depNames := c.DependsOn
	if kind == table.ModifyColumn && len(depNames) == 0 && s.maxDeps != 0 {
		depNames = []string{c.Column}
	}
	deps := make([]int, 0, len(depNames))
	for _, d := range depNames {
		i := t.ColumnIndex(d)
		if i < 0 {
			return nil, &ValidationError{Kind: ColumnNotFound, Table: name, Column: d, Message: "dependency does not exist"}
		}
		deps = append(deps, i)
	}

	if err := checkParams(t, op, s, c); err != nil {
		return nil, err
	}
	if len(deps) < s.minDeps || (s.maxDeps >= 0 && len(deps) > s.maxDeps) {
		return nil, &ValidationError{Kind: MissingParameter, Table: name, Column: c.Column, Parameter: "depends_on",
			Message: fmt.Sprintf("%s takes %s dependency columns, got %d", op, depRange(s), len(deps))}
	}
	if kind == table.ModifyColumnName {
		newName := stringParam(c, "name")
		if newName != c.Column && t.HasColumn(newName) {
			return nil, &ValidationError{Kind: ColumnExists, Table: name, Column: newName}
		}
	}

	if len(s.accepts) > 0 {
		for _, i := range deps {
			col := t.Columns[i]
			if !slices.Contains(s.accepts, col.Kind) {
				return nil, &ValidationError{Kind: TypeMismatch, Table: name, Column: col.Name,
					Message: fmt.Sprintf("%s accepts %v, column is %s", op, s.accepts, col.Kind)}
			}
		}
	}
	return deps, nil
}

func depRange(s strategy) string {
	switch {
	case s.maxDeps < 0:
		return fmt.Sprintf("at least %d", s.minDeps)
	case s.minDeps == s.maxDeps:
		return fmt.Sprintf("exactly %d", s.minDeps)
	}
	return fmt.Sprintf("%d to %d", s.minDeps, s.maxDeps)
}

// evaluate computes the new value of every row before anything is written,
// so a failing row leaves the table as it was.
func evaluate(t *table.Table, ec *evalContext, s strategy, c table.Contract, deps []int) ([]any, error) {
	values := make([]any, t.Payload.Len())
	args := make([]any, len(deps))
	for r, row := range t.Payload.Rows {
		omitted := false
		for j, i := range deps {
			args[j] = row.Values[i]
			if table.IsOmitted(args[j]) {
				omitted = true
			}
		}
		if omitted {
			values[r] = table.Omitted
			continue
		}
		v, err := s.eval(ec, args, c)
		if err != nil {
			return nil, &ValidationError{Kind: EvaluationFailed, Table: t.FullName(), Column: c.Column,
				Message: fmt.Sprintf("row %d: %v", row.Sequence, err)}
		}
		values[r] = v
	}
	return values, nil
}

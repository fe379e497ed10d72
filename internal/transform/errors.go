package transform

import (
	"fmt"
	"strings"
)

type ValidationKind string

const (
	EmptyColumnName   ValidationKind = "empty_column_name"
	ColumnExists      ValidationKind = "column_exists"
	ColumnNotFound    ValidationKind = "column_not_found"
	MissingParameter  ValidationKind = "missing_parameter"
	TypeMismatch      ValidationKind = "type_mismatch"
	InvalidOperand    ValidationKind = "invalid_operand"
	InvalidExpression ValidationKind = "invalid_expression"
	EvaluationFailed  ValidationKind = "evaluation_failed"
)

// ValidationError reports why a filter or transformation refused to run.
// The table it was executed against is left untouched.
type ValidationError struct {
	Kind      ValidationKind
	Table     string
	Column    string
	Parameter string
	Message   string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Table != "" {
		b.WriteString(" on ")
		b.WriteString(e.Table)
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Column != "" {
		fmt.Fprintf(&b, " column=%q", e.Column)
	}
	if e.Parameter != "" {
		fmt.Fprintf(&b, " parameter=%q", e.Parameter)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// InvalidOperationError is returned for operation or filter kinds the
// registry does not know.
type InvalidOperationError struct {
	Operation string
	Reason    string
}

func (e *InvalidOperationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid operation %q: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("invalid operation %q", e.Operation)
}

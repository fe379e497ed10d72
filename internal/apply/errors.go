package apply

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNoPrimaryKey = errors.New("table has no primary key")
	ErrMissingKey   = errors.New("row carries no value for a key column")
	ErrSCD2Role     = errors.New("invalid scd2 role columns")
)

// ApplyError is a failed row write. Kind is the error policy key the row was
// evaluated under and Code the database error code when there is one.
type ApplyError struct {
	Err    error
	Schema string
	Table  string
	Kind   string
	Query  string
	Code   string
}

func (e *ApplyError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s.%s: [%s] %v", e.Kind, e.Schema, e.Table, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s.%s: %v", e.Kind, e.Schema, e.Table, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// cancelled reports a row that failed because the caller gave up, not
// because the target rejected it.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func databaseCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

package apply

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

type StatementKind int

const (
	StmtInsert StatementKind = iota + 1
	StmtUpdate
	StmtDelete
	StmtUpsert
	StmtExists
)

func (k StatementKind) String() string {
	switch k {
	case StmtInsert:
		return "insert"
	case StmtUpdate:
		return "update"
	case StmtDelete:
		return "delete"
	case StmtUpsert:
		return "upsert"
	case StmtExists:
		return "exists"
	}
	return fmt.Sprintf("statement(%d)", int(k))
}

// Pair is a column and the value written to it or compared against it.
type Pair struct {
	Value  any
	Column string
}

// Statement is one write or probe against a target table. Where pairs are
// equality predicates joined with AND. For upserts Conflict holds the key
// columns and Update the columns overwritten on conflict; an empty Update
// renders DO NOTHING. An exists probe selects at most one row.
type Statement struct {
	Schema   string
	Table    string
	Set      []Pair
	Where    []Pair
	Conflict []string
	Update   []string
	Kind     StatementKind
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func (s Statement) qualified() string {
	return pq.QuoteIdentifier(s.Schema) + "." + pq.QuoteIdentifier(s.Table)
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = pq.QuoteIdentifier(n)
	}
	return out
}

// where keeps the predicate order of s.Where; sq.Eq would sort by key.
func (s Statement) where() sq.And {
	and := make(sq.And, 0, len(s.Where))
	for _, p := range s.Where {
		and = append(and, sq.Eq{pq.QuoteIdentifier(p.Column): p.Value})
	}
	return and
}

// ToSql renders the statement for Postgres with $n placeholders.
func (s Statement) ToSql() (string, []any, error) {
	switch s.Kind {
	case StmtInsert, StmtUpsert:
		if len(s.Set) == 0 {
			return "", nil, fmt.Errorf("%s into %s: no columns", s.Kind, s.qualified())
		}
		cols := make([]string, len(s.Set))
		vals := make([]any, len(s.Set))
		for i, p := range s.Set {
			cols[i] = pq.QuoteIdentifier(p.Column)
			vals[i] = p.Value
		}
		q := psql.Insert(s.qualified()).Columns(cols...).Values(vals...)
		if s.Kind == StmtUpsert {
			q = q.Suffix(s.conflictClause())
		}
		return q.ToSql()
	case StmtUpdate:
		if len(s.Set) == 0 {
			return "", nil, fmt.Errorf("update %s: no columns to set", s.qualified())
		}
		q := psql.Update(s.qualified())
		for _, p := range s.Set {
			q = q.Set(pq.QuoteIdentifier(p.Column), p.Value)
		}
		return q.Where(s.where()).ToSql()
	case StmtDelete:
		return psql.Delete(s.qualified()).Where(s.where()).ToSql()
	case StmtExists:
		return psql.Select("1").From(s.qualified()).Where(s.where()).Limit(1).ToSql()
	}
	return "", nil, fmt.Errorf("unknown statement kind %d", int(s.Kind))
}

func (s Statement) conflictClause() string {
	var b strings.Builder
	b.WriteString("ON CONFLICT (")
	b.WriteString(strings.Join(quoteAll(s.Conflict), ", "))
	b.WriteString(") DO ")
	if len(s.Update) == 0 {
		b.WriteString("NOTHING")
		return b.String()
	}
	b.WriteString("UPDATE SET ")
	for i, c := range s.Update {
		if i > 0 {
			b.WriteString(", ")
		}
		q := pq.QuoteIdentifier(c)
		b.WriteString(q)
		b.WriteString(" = EXCLUDED.")
		b.WriteString(q)
	}
	return b.String()
}

// SQL renders the statement and ignores rendering errors; it is meant for
// logs and the exception ledger.
func (s Statement) SQL() string {
	q, _, err := s.ToSql()
	if err != nil {
		return ""
	}
	return q
}

package apply_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/apply"
	"github.com/jackc/pgx/v5/pgconn"
)

type record map[string]any

// memTarget is an in-memory target holding one table. Sessions work on a
// copy of the rows that replaces the table on commit.
type memTarget struct {
	begin      func(ctx context.Context) error
	fail       func(apply.Statement, record) error
	rows       []record
	statements []apply.Statement
	unique     []string
	mu         sync.Mutex
}

func (m *memTarget) Begin(ctx context.Context) (apply.Session, error) {
	if m.begin != nil {
		if err := m.begin(ctx); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]record, len(m.rows))
	for i, r := range m.rows {
		rows[i] = clone(r)
	}
	return &memSession{target: m, rows: rows}, nil
}

func (m *memTarget) snapshot() []record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows
}

func (m *memTarget) kinds() []apply.StatementKind {
	out := make([]apply.StatementKind, len(m.statements))
	for i, st := range m.statements {
		out[i] = st.Kind
	}
	return out
}

type memSession struct {
	target *memTarget
	rows   []record
}

func clone(r record) record {
	c := make(record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

func same(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func matches(r record, where []apply.Pair) bool {
	for _, p := range where {
		if !same(r[p.Column], p.Value) {
			return false
		}
	}
	return true
}

func toRecord(set []apply.Pair) record {
	r := make(record, len(set))
	for _, p := range set {
		r[p.Column] = p.Value
	}
	return r
}

func (s *memSession) conflict(r record) int {
	if len(s.target.unique) == 0 {
		return -1
	}
	where := make([]apply.Pair, 0, len(s.target.unique))
	for _, c := range s.target.unique {
		where = append(where, apply.Pair{Column: c, Value: r[c]})
	}
	for i, existing := range s.rows {
		if matches(existing, where) {
			return i
		}
	}
	return -1
}

func (s *memSession) Exec(_ context.Context, st apply.Statement) (int64, error) {
	s.target.statements = append(s.target.statements, st)
	if _, _, err := st.ToSql(); err != nil {
		return 0, err
	}
	if s.target.fail != nil {
		if err := s.target.fail(st, toRecord(st.Set)); err != nil {
			return 0, err
		}
	}

	switch st.Kind {
	case apply.StmtInsert, apply.StmtUpsert:
		r := toRecord(st.Set)
		if i := s.conflict(r); i >= 0 {
			if st.Kind == apply.StmtInsert {
				return 0, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
			}
			for _, c := range st.Update {
				s.rows[i][c] = r[c]
			}
			return 1, nil
		}
		s.rows = append(s.rows, r)
		return 1, nil
	case apply.StmtUpdate:
		var n int64
		for _, r := range s.rows {
			if matches(r, st.Where) {
				for _, p := range st.Set {
					r[p.Column] = p.Value
				}
				n++
			}
		}
		return n, nil
	case apply.StmtDelete:
		kept := s.rows[:0]
		var n int64
		for _, r := range s.rows {
			if matches(r, st.Where) {
				n++
				continue
			}
			kept = append(kept, r)
		}
		s.rows = kept
		return n, nil
	}
	return 0, fmt.Errorf("unexpected statement %s", st.Kind)
}

func (s *memSession) Exists(_ context.Context, st apply.Statement) (bool, error) {
	s.target.statements = append(s.target.statements, st)
	for _, r := range s.rows {
		if matches(r, st.Where) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memSession) Commit(context.Context) error {
	s.target.mu.Lock()
	defer s.target.mu.Unlock()
	s.target.rows = s.rows
	return nil
}

func (s *memSession) Rollback(context.Context) error {
	return nil
}

type memLedger struct {
	exceptions []apply.Exception
}

func (l *memLedger) RecordException(_ context.Context, e apply.Exception) error {
	l.exceptions = append(l.exceptions, e)
	return nil
}
